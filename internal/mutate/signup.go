package mutate

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"dmarcview.org/internal/audit"
	"dmarcview.org/internal/intl"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/obs"
	"dmarcview.org/internal/store"
	"dmarcview.org/internal/txn"
)

// SignUpRequest creates a new account. InviteToken, when present, redeems
// an invitation so the affiliation is created in the same transaction as
// the user.
type SignUpRequest struct {
	Email       string
	Password    string
	Locale      string
	InviteToken string
}

// redeemedInvite carries the parameters of a verified invitation token.
type redeemedInvite struct {
	orgID string
	role  model.Role
}

// SignUp registers a user, optionally redeems an invitation, and signs the
// first token pair.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) TokenPairResult {
	const op = "mutate.signup"

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") || strings.TrimSpace(req.Password) == "" {
		return TokenPairResult{Result: s.reject(ctx, op, KindInvalidInput, intl.KeyTryAgain, "invalid input", map[string]any{
			"email": email,
		})}
	}

	var invite *redeemedInvite
	if req.InviteToken != "" {
		claims, err := s.tokens.VerifyInvite(req.InviteToken)
		if err != nil || claims.Email != email {
			obs.LogEntry(map[string]any{"op": op, "msg": "invitation token rejected", "email": email})
			return TokenPairResult{Result: s.reject(ctx, op, KindUnauthenticated, intl.KeyUnauthenticated, "invitation rejected", map[string]any{
				"email": email,
			})}
		}
		invite = &redeemedInvite{orgID: claims.OrgID, role: claims.Role}
	}

	hash, err := model.HashPassword(req.Password)
	if err != nil {
		return TokenPairResult{Result: s.storeFailure(ctx, op, err, map[string]any{"email": email})}
	}

	user := &model.User{
		Email:         email,
		Locale:        strings.TrimSpace(strings.ToLower(req.Locale)),
		PasswordHash:  hash,
		EmailVerified: invite != nil, // an accepted invitation proves the address
	}
	if user.Locale == "" {
		user.Locale = "en"
	}

	err = txn.Run(ctx, s.db, []string{"users", "affiliations"}, func(sess *txn.Session) error {
		if err := sess.Step(ctx, "insert-user", func(ctx context.Context, tx *sql.Tx) error {
			return s.store.WithTx(tx).Users().Create(ctx, user)
		}); err != nil {
			return err
		}
		if invite == nil {
			return nil
		}
		return sess.Step(ctx, "redeem-invite", func(ctx context.Context, tx *sql.Tx) error {
			return s.store.WithTx(tx).Affiliations().Upsert(ctx, model.Affiliation{
				UserID: user.ID,
				OrgID:  invite.orgID,
				Role:   invite.role,
			})
		})
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			_ = audit.LogEvent(ctx, "auth.signup", map[string]any{"email": email, "outcome": "duplicate email"})
			return TokenPairResult{Result: s.result(ctx, op, KindConflict, intl.KeyConflict)}
		}
		_ = audit.LogEvent(ctx, "auth.signup", map[string]any{"email": email, "outcome": "transaction aborted"})
		return TokenPairResult{Result: s.result(ctx, op, KindStoreFailure, intl.KeyTryAgain)}
	}

	pair, err := s.rotateAndMint(ctx, op, user.ID)
	if err != nil {
		_ = audit.LogEvent(ctx, "auth.signup", map[string]any{"email": email, "outcome": "token minting failed"})
		return TokenPairResult{Result: s.result(ctx, op, KindStoreFailure, intl.KeyTryAgain)}
	}
	_ = audit.LogEvent(ctx, "auth.signup", map[string]any{
		"email":   email,
		"subject": user.ID,
		"outcome": "created",
	})
	pair.Result = s.result(ctx, op, KindOK, intl.KeySignedUp)
	return pair
}

// SignIn verifies credentials and issues a token pair. Unknown email and
// wrong password log distinct diagnostics but share one generic response.
func (s *Service) SignIn(ctx context.Context, email, password string) TokenPairResult {
	const op = "mutate.signin"

	lds, _ := s.session(ctx)
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := lds.UsersByEmail.Load(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		obs.LogEntry(map[string]any{"op": op, "msg": "sign-in with unknown email", "email": email})
		return s.signInRejected(ctx, email)
	}
	if err != nil {
		return TokenPairResult{Result: s.storeFailure(ctx, op, err, map[string]any{"stage": "load-user", "email": email})}
	}

	if err := model.VerifyPassword(user.PasswordHash, password); err != nil {
		obs.LogEntry(map[string]any{"op": op, "msg": "sign-in with wrong password", "subject": user.ID})
		return s.signInRejected(ctx, email)
	}

	pair, err := s.rotateAndMint(ctx, op, user.ID)
	if err != nil {
		_ = audit.LogEvent(ctx, "auth.signin", map[string]any{"subject": user.ID, "outcome": "token minting failed"})
		return TokenPairResult{Result: s.result(ctx, op, KindStoreFailure, intl.KeyTryAgain)}
	}
	_ = audit.LogEvent(ctx, "auth.signin", map[string]any{
		"subject": user.ID,
		"outcome": "signed in",
	})
	pair.Result = s.result(ctx, op, KindOK, intl.KeySignedIn)
	return pair
}

func (s *Service) signInRejected(ctx context.Context, email string) TokenPairResult {
	_ = audit.LogEvent(ctx, "auth.signin", map[string]any{"email": email, "outcome": "rejected"})
	return TokenPairResult{Result: s.result(ctx, "mutate.signin", KindUnauthenticated, intl.KeyUnauthenticated)}
}
