package mutate

import (
	"context"
	"database/sql"
	"errors"

	"dmarcview.org/internal/audit"
	"dmarcview.org/internal/authz"
	"dmarcview.org/internal/intl"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/txn"
)

// RemoveRequest asks to delete a user's affiliation with an organization.
type RemoveRequest struct {
	SubjectKey    string
	TargetUserKey string
	OrgID         string
}

// RemoveUserFromOrg deletes the target's affiliation edge. A global
// super_admin may remove anyone; otherwise the actor needs a local role of
// at least admin that strictly outranks the target's, so peers cannot
// remove peers and only a global super_admin removes a super_admin.
func (s *Service) RemoveUserFromOrg(ctx context.Context, req RemoveRequest) Result {
	const op = "mutate.remove"

	lds, resolver := s.session(ctx)

	actor, err := resolver.RequireAuthenticatedSubject(ctx, req.SubjectKey)
	if err != nil {
		return s.denied(ctx, op, err)
	}
	if err := resolver.RequireVerifiedSubject(actor); err != nil {
		return s.denied(ctx, op, err)
	}

	target, err := lds.Affiliations.Load(ctx, model.AffiliationKey{UserID: req.TargetUserKey, OrgID: req.OrgID})
	if errors.Is(err, model.ErrNotFound) {
		s.auditRemove(ctx, actor.ID, req.TargetUserKey, req.OrgID, "no such affiliation")
		return s.result(ctx, op, KindNotFound, intl.KeyNotFound)
	}
	if err != nil {
		return s.storeFailure(ctx, op, err, map[string]any{
			"actor": actor.ID, "target": req.TargetUserKey, "org": req.OrgID,
		})
	}

	if allowed, res := s.mayRemove(ctx, resolver, actor, target); !allowed {
		return res
	}

	err = txn.Run(ctx, s.db, []string{"affiliations"}, func(sess *txn.Session) error {
		return sess.Step(ctx, "delete-affiliation", func(ctx context.Context, tx *sql.Tx) error {
			return s.store.WithTx(tx).Affiliations().Delete(ctx, target.UserID, target.OrgID)
		})
	})
	if err != nil {
		s.auditRemove(ctx, actor.ID, target.UserID, target.OrgID, "transaction aborted")
		return s.result(ctx, op, KindStoreFailure, intl.KeyTryAgain)
	}

	lds.Affiliations.Forget(model.AffiliationKey{UserID: target.UserID, OrgID: target.OrgID})
	s.auditRemove(ctx, actor.ID, target.UserID, target.OrgID, "removed")
	return s.result(ctx, op, KindOK, intl.KeyRemoved)
}

func (s *Service) mayRemove(ctx context.Context, resolver *authz.Resolver, actor *model.User, target *model.Affiliation) (bool, Result) {
	const op = "mutate.remove"

	global, err := resolver.GlobalSuperAdmin(ctx, actor.ID)
	if err != nil {
		return false, s.denied(ctx, op, err)
	}
	if global {
		return true, Result{}
	}

	// Local path: admin or better, strictly outranking the target.
	local, ok, err := resolver.OrgRole(ctx, actor.ID, target.OrgID)
	if err != nil {
		return false, s.denied(ctx, op, err)
	}
	if !ok || !local.AtLeast(model.RoleAdmin) || local.Rank() <= target.Role.Rank() {
		s.auditRemove(ctx, actor.ID, target.UserID, target.OrgID, "permission denied")
		return false, s.result(ctx, op, KindPermissionDenied, intl.KeyPermissionDenied)
	}
	return true, Result{}
}

func (s *Service) auditRemove(ctx context.Context, actorID, target, orgID, outcome string) {
	_ = audit.LogEvent(ctx, "org.remove_member", map[string]any{
		"actor":   actorID,
		"target":  target,
		"org":     orgID,
		"outcome": outcome,
	})
}
