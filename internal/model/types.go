package model

import "time"

// ServiceOrgID is the sentinel organization. An affiliation with role
// super_admin pointed at it grants privileges across all organizations.
const ServiceOrgID = "super-admin"

// User is a dashboard account identified by its email address.
type User struct {
	ID               string
	Email            string
	Locale           string
	EmailVerified    bool
	PhoneVerified    bool
	PasswordHash     string
	RefreshID        string
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Organization is a tenant unit. Identity (ID, Slug) is immutable,
// display details are not.
type Organization struct {
	ID        string
	Slug      string
	Name      string
	Acronym   string
	Locale    string
	Verified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Affiliation links a user to an organization with exactly one role.
// At most one affiliation exists per (user, organization) pair.
type Affiliation struct {
	UserID    string
	OrgID     string
	Role      Role
	CreatedAt time.Time
}

// Domain is a scanned hostname, unique by Host. Selectors accumulate as a
// set union across claims; a domain is never deleted once created.
type Domain struct {
	ID          string
	Host        string
	Selectors   []string
	DMARCStatus string
	SPFStatus   string
	DKIMStatus  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Claim records that an organization asserts ownership of a domain.
// The (org, domain) pair is unique; a domain may have many claimants.
type Claim struct {
	OrgID     string
	DomainID  string
	CreatedAt time.Time
}

// AffiliationKey identifies one affiliation edge.
type AffiliationKey struct {
	UserID string
	OrgID  string
}

// MergeSelectors returns the set union of two selector lists, preserving
// the order of first appearance.
func MergeSelectors(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
