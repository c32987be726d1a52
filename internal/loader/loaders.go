package loader

import (
	"context"

	"dmarcview.org/internal/model"
	"dmarcview.org/internal/store"
)

// Loaders bundles the per-request loaders for every entity the permission
// resolver and mutation handlers touch. One instance per request.
type Loaders struct {
	Users         *Loader[string, *model.User]
	UsersByEmail  *Loader[string, *model.User]
	Orgs          *Loader[string, *model.Organization]
	OrgsBySlug    *Loader[string, *model.Organization]
	Domains       *Loader[string, *model.Domain]
	DomainsByHost *Loader[string, *model.Domain]
	Affiliations  *Loader[model.AffiliationKey, *model.Affiliation]
}

func stringKey(k string) string { return k }

// NewLoaders constructs fresh loaders over the given store.
func NewLoaders(st store.Store) *Loaders {
	return &Loaders{
		Users: New(stringKey, func(ctx context.Context, id string) (*model.User, error) {
			return st.Users().Find(ctx, id)
		}),
		UsersByEmail: New(stringKey, func(ctx context.Context, email string) (*model.User, error) {
			return st.Users().FindByEmail(ctx, email)
		}),
		Orgs: New(stringKey, func(ctx context.Context, id string) (*model.Organization, error) {
			return st.Organizations().Find(ctx, id)
		}),
		OrgsBySlug: New(stringKey, func(ctx context.Context, slug string) (*model.Organization, error) {
			return st.Organizations().FindBySlug(ctx, slug)
		}),
		Domains: New(stringKey, func(ctx context.Context, id string) (*model.Domain, error) {
			return st.Domains().Find(ctx, id)
		}),
		DomainsByHost: New(stringKey, func(ctx context.Context, host string) (*model.Domain, error) {
			return st.Domains().FindByHost(ctx, host)
		}),
		Affiliations: New(
			func(k model.AffiliationKey) string { return k.UserID + "/" + k.OrgID },
			func(ctx context.Context, k model.AffiliationKey) (*model.Affiliation, error) {
				return st.Affiliations().Find(ctx, k.UserID, k.OrgID)
			},
		),
	}
}

type loadersContextKey struct{}

// WithContext attaches request-scoped loaders to the context.
func WithContext(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, loadersContextKey{}, l)
}

// FromContext extracts the request's loaders if present.
func FromContext(ctx context.Context) (*Loaders, bool) {
	l, ok := ctx.Value(loadersContextKey{}).(*Loaders)
	return l, ok && l != nil
}
