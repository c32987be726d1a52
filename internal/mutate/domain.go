package mutate

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"dmarcview.org/internal/audit"
	"dmarcview.org/internal/ids"
	"dmarcview.org/internal/intl"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/txn"
)

// CreateDomainRequest asks to claim a hostname for an organization.
type CreateDomainRequest struct {
	SubjectKey string
	OrgID      string
	Host       string
	Selectors  []string
}

// CreateDomainResult reports the claim outcome and the domain key.
type CreateDomainResult struct {
	Result
	DomainID string
}

// CreateDomain claims a hostname for an organization. If the domain
// already exists anywhere in the store, its selector list is merged as a
// set union and a claim edge is added only if absent; otherwise the domain
// and the claim are inserted together. Either branch is one transaction:
// a failed edge insert leaves no half-written domain behind.
func (s *Service) CreateDomain(ctx context.Context, req CreateDomainRequest) CreateDomainResult {
	const op = "mutate.create_domain"

	lds, resolver := s.session(ctx)

	actor, err := resolver.RequireAuthenticatedSubject(ctx, req.SubjectKey)
	if err != nil {
		return CreateDomainResult{Result: s.denied(ctx, op, err)}
	}

	host := strings.TrimSpace(strings.ToLower(req.Host))
	if host == "" {
		return CreateDomainResult{Result: s.reject(ctx, op, KindInvalidInput, intl.KeyTryAgain, "invalid input", map[string]any{
			"actor": actor.ID, "org": req.OrgID,
		})}
	}

	org, err := lds.Orgs.Load(ctx, req.OrgID)
	if errors.Is(err, model.ErrNotFound) {
		return CreateDomainResult{Result: s.reject(ctx, op, KindNotFound, intl.KeyNotFound, "org not found", map[string]any{
			"actor": actor.ID, "org": req.OrgID, "host": host,
		})}
	}
	if err != nil {
		return CreateDomainResult{Result: s.storeFailure(ctx, op, err, map[string]any{"org": req.OrgID})}
	}

	role, ok, err := resolver.OrgRole(ctx, actor.ID, org.ID)
	if err != nil {
		return CreateDomainResult{Result: s.denied(ctx, op, err)}
	}
	if !ok || !role.AtLeast(model.RoleUser) {
		s.auditDomain(ctx, actor.ID, host, org.ID, "permission denied")
		return CreateDomainResult{Result: s.result(ctx, op, KindPermissionDenied, intl.KeyPermissionDenied)}
	}

	existing, err := lds.DomainsByHost.Load(ctx, host)
	var domainID string
	switch {
	case err == nil:
		domainID = existing.ID
		err = txn.Run(ctx, s.db, []string{"domains", "claims"}, func(sess *txn.Session) error {
			if err := sess.Step(ctx, "merge-selectors", func(ctx context.Context, tx *sql.Tx) error {
				domains := s.store.WithTx(tx).Domains()
				current, err := domains.SelectorsForUpdate(ctx, existing.ID)
				if err != nil {
					return err
				}
				return domains.SetSelectors(ctx, existing.ID, model.MergeSelectors(current, req.Selectors))
			}); err != nil {
				return err
			}
			return sess.Step(ctx, "insert-claim", func(ctx context.Context, tx *sql.Tx) error {
				return s.store.WithTx(tx).Claims().Create(ctx, model.Claim{OrgID: org.ID, DomainID: existing.ID})
			})
		})
	case errors.Is(err, model.ErrNotFound):
		domain := &model.Domain{
			ID:          ids.New(),
			Host:        host,
			Selectors:   model.MergeSelectors(nil, req.Selectors),
			DMARCStatus: "unknown",
			SPFStatus:   "unknown",
			DKIMStatus:  "unknown",
		}
		domainID = domain.ID
		err = txn.Run(ctx, s.db, []string{"domains", "claims"}, func(sess *txn.Session) error {
			if err := sess.Step(ctx, "insert-domain", func(ctx context.Context, tx *sql.Tx) error {
				return s.store.WithTx(tx).Domains().Create(ctx, domain)
			}); err != nil {
				return err
			}
			return sess.Step(ctx, "insert-claim", func(ctx context.Context, tx *sql.Tx) error {
				return s.store.WithTx(tx).Claims().Create(ctx, model.Claim{OrgID: org.ID, DomainID: domain.ID})
			})
		})
	default:
		return CreateDomainResult{Result: s.storeFailure(ctx, op, err, map[string]any{
			"actor": actor.ID, "host": host, "org": org.ID,
		})}
	}

	if err != nil {
		// The failing step name was already logged by the orchestrator.
		s.auditDomain(ctx, actor.ID, host, org.ID, "transaction aborted")
		return CreateDomainResult{Result: s.result(ctx, op, KindStoreFailure, intl.KeyTryAgain)}
	}

	lds.DomainsByHost.Forget(host)
	s.auditDomain(ctx, actor.ID, host, org.ID, "claimed")
	return CreateDomainResult{
		Result:   s.result(ctx, op, KindOK, intl.KeyDomainCreated),
		DomainID: domainID,
	}
}

func (s *Service) auditDomain(ctx context.Context, actorID, host, orgID, outcome string) {
	_ = audit.LogEvent(ctx, "domain.create", map[string]any{
		"actor":   actorID,
		"host":    host,
		"org":     orgID,
		"outcome": outcome,
	})
}
