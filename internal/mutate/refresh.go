package mutate

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dmarcview.org/internal/audit"
	"dmarcview.org/internal/intl"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/obs"
	"dmarcview.org/internal/token"
	"dmarcview.org/internal/txn"
)

// TokenPairResult carries a freshly minted auth and refresh token pair.
type TokenPairResult struct {
	Result
	AuthToken        string
	AuthExpiresAt    time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RefreshSessionTokens exchanges a valid refresh token for a new pair. The
// embedded session id must match the user's stored refresh id; persisting
// a new id on every successful refresh invalidates every previously issued
// refresh token for the user. All rejection paths log distinct diagnostics
// but return the identical generic message.
func (s *Service) RefreshSessionTokens(ctx context.Context, refreshToken string) TokenPairResult {
	const op = "mutate.refresh"

	lds, _ := s.session(ctx)

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		obs.LogEntry(map[string]any{"op": op, "msg": "refresh token failed verification"})
		return s.refreshRejected(ctx, "", "invalid token")
	}

	user, err := lds.Users.Load(ctx, claims.Subject)
	if errors.Is(err, model.ErrNotFound) {
		obs.LogEntry(map[string]any{"op": op, "msg": "refresh token subject has no user record", "subject": claims.Subject})
		return s.refreshRejected(ctx, claims.Subject, "unknown subject")
	}
	if err != nil {
		obs.LogError(op, err, map[string]any{"stage": "load-user", "subject": claims.Subject})
		return s.refreshRejected(ctx, claims.Subject, "store failure")
	}

	if user.RefreshID == "" || claims.SessionID != user.RefreshID {
		// Stale or replayed token: the session id was rotated away.
		obs.LogEntry(map[string]any{"op": op, "msg": "refresh token session id does not match stored id", "subject": user.ID})
		return s.refreshRejected(ctx, user.ID, "session id mismatch")
	}

	pair, err := s.rotateAndMint(ctx, op, user.ID)
	if err != nil {
		_ = audit.LogEvent(ctx, "auth.refresh", map[string]any{
			"subject": user.ID,
			"outcome": "rotation failed",
		})
		return TokenPairResult{Result: s.result(ctx, op, KindStoreFailure, intl.KeyTryAgain)}
	}
	_ = audit.LogEvent(ctx, "auth.refresh", map[string]any{
		"subject": user.ID,
		"outcome": "refreshed",
	})
	pair.Result = s.result(ctx, op, KindOK, intl.KeyRefreshed)
	return pair
}

// rotateAndMint persists a fresh session id and signs a new token pair.
// Shared by refresh, sign-in and sign-up.
func (s *Service) rotateAndMint(ctx context.Context, op, userID string) (TokenPairResult, error) {
	sessionID := token.NewSessionID()

	refreshToken, refreshExp, err := s.tokens.SignRefresh(userID, sessionID)
	if err != nil {
		obs.LogError(op, err, map[string]any{"stage": "sign-refresh", "subject": userID})
		return TokenPairResult{}, err
	}

	err = txn.Run(ctx, s.db, []string{"users"}, func(sess *txn.Session) error {
		return sess.Step(ctx, "rotate-refresh-id", func(ctx context.Context, tx *sql.Tx) error {
			return s.store.WithTx(tx).Users().SetRefreshID(ctx, userID, sessionID, refreshExp)
		})
	})
	if err != nil {
		return TokenPairResult{}, err
	}

	authToken, authExp, err := s.tokens.SignAuth(userID)
	if err != nil {
		obs.LogError(op, err, map[string]any{"stage": "sign-auth", "subject": userID})
		return TokenPairResult{}, err
	}

	return TokenPairResult{
		AuthToken:        authToken,
		AuthExpiresAt:    authExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// refreshRejected emits the single audit line for a failed refresh and
// renders the generic client-facing message. The diagnostic reason stays
// internal.
func (s *Service) refreshRejected(ctx context.Context, subject, reason string) TokenPairResult {
	fields := map[string]any{"outcome": "rejected", "reason": reason}
	if subject != "" {
		fields["subject"] = subject
	}
	_ = audit.LogEvent(ctx, "auth.refresh", fields)
	return TokenPairResult{Result: s.result(ctx, "mutate.refresh", KindUnauthenticated, intl.KeySignInAgain)}
}
