// Package authz answers "may subject S perform action A on resource R"
// against the graph of user-organization affiliations and
// organization-domain claims.
package authz

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"dmarcview.org/internal/loader"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/obs"
	"dmarcview.org/internal/store"
)

// Resolver evaluates permission checks using request-scoped loaders for
// entity reads and the store for set queries.
type Resolver struct {
	store   store.Store
	loaders *loader.Loaders
}

// NewResolver builds a resolver bound to one request's loaders.
func NewResolver(st store.Store, l *loader.Loaders) *Resolver {
	return &Resolver{store: st, loaders: l}
}

// RequireAuthenticatedSubject resolves the acting user. A missing subject
// key and an unknown key log distinct diagnostics but return the same
// error so callers cannot tell which case occurred.
func (r *Resolver) RequireAuthenticatedSubject(ctx context.Context, subjectKey string) (*model.User, error) {
	subjectKey = strings.TrimSpace(subjectKey)
	if subjectKey == "" {
		obs.LogEntry(map[string]any{
			"op":  "authz.subject",
			"msg": "request carried no subject key",
		})
		obs.AuthzDecision("authenticated", "deny")
		return nil, model.ErrUnauthenticated
	}
	user, err := r.loaders.Users.Load(ctx, subjectKey)
	if errors.Is(err, model.ErrNotFound) {
		obs.LogEntry(map[string]any{
			"op":      "authz.subject",
			"msg":     "subject key does not match a user",
			"subject": subjectKey,
		})
		obs.AuthzDecision("authenticated", "deny")
		return nil, model.ErrUnauthenticated
	}
	if err != nil {
		return nil, r.checkFailed("authenticated", "load-subject", err, subjectKey, "")
	}
	obs.AuthzDecision("authenticated", "allow")
	return user, nil
}

// RequireVerifiedSubject rejects users without a verified email address.
// Pure; no store access.
func (r *Resolver) RequireVerifiedSubject(user *model.User) error {
	if user == nil || !user.EmailVerified {
		obs.AuthzDecision("verified", "deny")
		return model.ErrUnverified
	}
	obs.AuthzDecision("verified", "allow")
	return nil
}

// OrgRole returns the subject's effective role for the organization.
// A super_admin affiliation against the sentinel service organization
// outranks any organization-local role.
func (r *Resolver) OrgRole(ctx context.Context, subjectKey, orgID string) (model.Role, bool, error) {
	global, err := r.isGlobalSuperAdmin(ctx, subjectKey)
	if err != nil {
		return "", false, r.checkFailed("org-role", "global-role", err, subjectKey, orgID)
	}
	if global {
		obs.AuthzDecision("org-role", "allow")
		return model.RoleSuperAdmin, true, nil
	}
	aff, err := r.loaders.Affiliations.Load(ctx, model.AffiliationKey{UserID: subjectKey, OrgID: orgID})
	if errors.Is(err, model.ErrNotFound) {
		obs.AuthzDecision("org-role", "deny")
		return "", false, nil
	}
	if err != nil {
		return "", false, r.checkFailed("org-role", "load-affiliation", err, subjectKey, orgID)
	}
	obs.AuthzDecision("org-role", "allow")
	return aff.Role, true, nil
}

// HasDomainPermission reports whether the subject may act on the domain:
// global super_admin, or any affiliation to any organization claiming it.
func (r *Resolver) HasDomainPermission(ctx context.Context, subjectKey, domainID string) (bool, error) {
	return r.domainPermission(ctx, "domain-permission", subjectKey, domainID, false)
}

// CheckDomainOwnership is HasDomainPermission restricted to verified
// organizations; it gates access to aggregated report data.
func (r *Resolver) CheckDomainOwnership(ctx context.Context, subjectKey, domainID string) (bool, error) {
	return r.domainPermission(ctx, "domain-ownership", subjectKey, domainID, true)
}

func (r *Resolver) domainPermission(ctx context.Context, check, subjectKey, domainID string, verifiedOnly bool) (bool, error) {
	// The global-role lookup and the affiliation count are independent
	// reads; both must complete before a decision is rendered.
	var (
		global bool
		count  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		global, err = r.isGlobalSuperAdmin(gctx, subjectKey)
		if err != nil {
			return &stageError{stage: "global-role", err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		count, err = r.store.Affiliations().CountByUser(gctx, subjectKey)
		if err != nil {
			return &stageError{stage: "affiliation-count", err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		stage := "concurrent-read"
		var se *stageError
		if errors.As(err, &se) {
			stage, err = se.stage, se.err
		}
		return false, r.checkFailed(check, stage, err, subjectKey, domainID)
	}

	if global {
		obs.AuthzDecision(check, "allow")
		return true, nil
	}
	if count == 0 {
		// No affiliations at all, so the intersection is empty; skip
		// the second query.
		obs.AuthzDecision(check, "deny")
		return false, nil
	}

	orgs, err := r.store.Claims().OrgsClaiming(ctx, domainID, subjectKey, verifiedOnly)
	if err != nil {
		return false, r.checkFailed(check, "claim-intersection", err, subjectKey, domainID)
	}
	if len(orgs) == 0 {
		obs.AuthzDecision(check, "deny")
		return false, nil
	}
	obs.AuthzDecision(check, "allow")
	return true, nil
}

// GlobalSuperAdmin reports whether the subject holds the super_admin
// affiliation against the sentinel service organization.
func (r *Resolver) GlobalSuperAdmin(ctx context.Context, subjectKey string) (bool, error) {
	global, err := r.isGlobalSuperAdmin(ctx, subjectKey)
	if err != nil {
		return false, r.checkFailed("global-role", "global-role", err, subjectKey, "")
	}
	return global, nil
}

// stageError tags a failed concurrent read with the stage that produced it
// while keeping the original error value in the chain.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func (r *Resolver) isGlobalSuperAdmin(ctx context.Context, subjectKey string) (bool, error) {
	aff, err := r.loaders.Affiliations.Load(ctx, model.AffiliationKey{UserID: subjectKey, OrgID: model.ServiceOrgID})
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return aff.Role == model.RoleSuperAdmin, nil
}

// checkFailed logs the failing stage with full identifiers and collapses
// the store error into the single generic check-failure value. Raw store
// error text never reaches callers.
func (r *Resolver) checkFailed(check, stage string, err error, subjectKey, resourceID string) error {
	obs.LogError("authz."+check, err, map[string]any{
		"stage":    stage,
		"subject":  subjectKey,
		"resource": resourceID,
	})
	obs.AuthzDecision(check, "error")
	return model.ErrPermissionCheckFailed
}
