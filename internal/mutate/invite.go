package mutate

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"

	"dmarcview.org/internal/audit"
	"dmarcview.org/internal/intl"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/notify"
	"dmarcview.org/internal/obs"
	"dmarcview.org/internal/txn"
)

// InviteRequest asks to add a user to an organization with a role.
type InviteRequest struct {
	SubjectKey  string
	TargetEmail string
	OrgID       string
	Role        model.Role
}

// InviteResult reports the invite outcome. InviteLink is set only on the
// create-account branch, when the target had no user record yet.
type InviteResult struct {
	Result
	InviteLink string
}

// InviteUserToOrg adds an existing user to an organization, or mints a
// signed invitation for a person without an account. The affiliation
// upsert is idempotent: re-inviting an existing member never creates a
// second edge.
func (s *Service) InviteUserToOrg(ctx context.Context, req InviteRequest) InviteResult {
	const op = "mutate.invite"

	lds, resolver := s.session(ctx)

	actor, err := resolver.RequireAuthenticatedSubject(ctx, req.SubjectKey)
	if err != nil {
		return InviteResult{Result: s.denied(ctx, op, err)}
	}
	if err := resolver.RequireVerifiedSubject(actor); err != nil {
		return InviteResult{Result: s.denied(ctx, op, err)}
	}

	email := strings.TrimSpace(strings.ToLower(req.TargetEmail))
	if email == "" || !strings.Contains(email, "@") || !req.Role.Valid() {
		return InviteResult{Result: s.reject(ctx, op, KindInvalidInput, intl.KeyTryAgain, "invalid input", map[string]any{
			"actor": actor.ID, "org": req.OrgID,
		})}
	}
	if email == strings.ToLower(actor.Email) {
		obs.LogEntry(map[string]any{"op": op, "msg": "actor attempted to invite themself", "actor": actor.ID})
		return InviteResult{Result: s.reject(ctx, op, KindPermissionDenied, intl.KeyPermissionDenied, "self invite", map[string]any{
			"actor": actor.ID, "org": req.OrgID,
		})}
	}

	org, err := lds.Orgs.Load(ctx, req.OrgID)
	if errors.Is(err, model.ErrNotFound) {
		return InviteResult{Result: s.reject(ctx, op, KindNotFound, intl.KeyNotFound, "org not found", map[string]any{
			"actor": actor.ID, "org": req.OrgID,
		})}
	}
	if err != nil {
		return InviteResult{Result: s.storeFailure(ctx, op, err, map[string]any{"org": req.OrgID})}
	}

	actorRole, ok, err := resolver.OrgRole(ctx, actor.ID, org.ID)
	if err != nil {
		return InviteResult{Result: s.denied(ctx, op, err)}
	}
	// An admin may invite, but may only grant a role at or below their own.
	if !ok || !actorRole.AtLeast(model.RoleAdmin) || req.Role.Rank() > actorRole.Rank() {
		s.auditInvite(ctx, actor.ID, email, org.ID, "permission denied")
		return InviteResult{Result: s.result(ctx, op, KindPermissionDenied, intl.KeyPermissionDenied)}
	}

	target, err := lds.UsersByEmail.Load(ctx, email)
	switch {
	case err == nil:
		return s.inviteExistingUser(ctx, actor, target, org, req.Role)
	case errors.Is(err, model.ErrNotFound):
		return s.inviteNewUser(ctx, actor, email, org, req.Role)
	default:
		return InviteResult{Result: s.storeFailure(ctx, op, err, map[string]any{
			"actor": actor.ID, "target": email, "org": org.ID,
		})}
	}
}

func (s *Service) inviteExistingUser(ctx context.Context, actor, target *model.User, org *model.Organization, role model.Role) InviteResult {
	const op = "mutate.invite"

	err := txn.Run(ctx, s.db, []string{"affiliations"}, func(sess *txn.Session) error {
		return sess.Step(ctx, "upsert-affiliation", func(ctx context.Context, tx *sql.Tx) error {
			return s.store.WithTx(tx).Affiliations().Upsert(ctx, model.Affiliation{
				UserID: target.ID,
				OrgID:  org.ID,
				Role:   role,
			})
		})
	})
	if err != nil {
		s.auditInvite(ctx, actor.ID, target.Email, org.ID, "transaction aborted")
		return InviteResult{Result: s.result(ctx, op, KindStoreFailure, intl.KeyTryAgain)}
	}

	// Best effort, after commit. A failed mail never unwinds the edge.
	if err := s.notifier.SendOrgInvite(ctx, notify.OrgInvite{Email: target.Email, OrgName: org.Name}); err != nil {
		obs.LogError(op, err, map[string]any{"msg": "org invite notification failed", "target": target.Email})
	}

	s.auditInvite(ctx, actor.ID, target.Email, org.ID, "invited")
	return InviteResult{Result: s.result(ctx, op, KindOK, intl.KeyInvited)}
}

func (s *Service) inviteNewUser(ctx context.Context, actor *model.User, email string, org *model.Organization, role model.Role) InviteResult {
	const op = "mutate.invite"

	inviteToken, _, err := s.tokens.SignInvite(email, org.ID, role)
	if err != nil {
		return InviteResult{Result: s.storeFailure(ctx, op, err, map[string]any{
			"msg": "invitation token signing failed", "actor": actor.ID, "target": email, "org": org.ID,
		})}
	}
	link := s.inviteBaseURL + "?token=" + url.QueryEscape(inviteToken)

	if err := s.notifier.SendCreateAccountInvite(ctx, notify.CreateAccountInvite{
		Email:   email,
		OrgName: org.Name,
		Link:    link,
	}); err != nil {
		obs.LogError(op, err, map[string]any{"msg": "create-account notification failed", "target": email})
	}

	s.auditInvite(ctx, actor.ID, email, org.ID, "invitation sent")
	return InviteResult{
		Result:     s.result(ctx, op, KindOK, intl.KeyInviteSent),
		InviteLink: link,
	}
}

func (s *Service) auditInvite(ctx context.Context, actorID, target, orgID, outcome string) {
	_ = audit.LogEvent(ctx, "org.invite", map[string]any{
		"actor":   actorID,
		"target":  target,
		"org":     orgID,
		"outcome": outcome,
	})
}
