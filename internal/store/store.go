package store

import (
	"context"
	"database/sql"
	"time"

	"dmarcview.org/internal/model"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// All statements are parameterized; no caller input is concatenated.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store describes persistence operations required by the authorization and
// mutation core.
type Store interface {
	Users() UserStore
	Organizations() OrganizationStore
	Affiliations() AffiliationStore
	Domains() DomainStore
	Claims() ClaimStore
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	Find(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	SetRefreshID(ctx context.Context, userID, refreshID string, expiresAt time.Time) error
}

// OrganizationStore manages tenant organizations.
type OrganizationStore interface {
	Create(ctx context.Context, org *model.Organization) error
	Find(ctx context.Context, id string) (*model.Organization, error)
	FindBySlug(ctx context.Context, slug string) (*model.Organization, error)
}

// AffiliationStore manages user-to-organization edges.
type AffiliationStore interface {
	Find(ctx context.Context, userID, orgID string) (*model.Affiliation, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Upsert(ctx context.Context, a model.Affiliation) error
	Delete(ctx context.Context, userID, orgID string) error
}

// DomainStore manages scanned hostnames.
type DomainStore interface {
	Create(ctx context.Context, d *model.Domain) error
	Find(ctx context.Context, id string) (*model.Domain, error)
	FindByHost(ctx context.Context, host string) (*model.Domain, error)
	SelectorsForUpdate(ctx context.Context, id string) ([]string, error)
	SetSelectors(ctx context.Context, id string, selectors []string) error
}

// ClaimStore manages organization-to-domain ownership edges.
type ClaimStore interface {
	Create(ctx context.Context, c model.Claim) error
	Exists(ctx context.Context, orgID, domainID string) (bool, error)
	// OrgsClaiming returns ids of organizations that claim the domain and
	// hold an affiliation with the user. With verifiedOnly set, only
	// verified organizations are returned.
	OrgsClaiming(ctx context.Context, domainID, userID string, verifiedOnly bool) ([]string, error)
}
