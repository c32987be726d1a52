package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"dmarcview.org/internal/loader"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/obs"
	"dmarcview.org/internal/store"
)

// memStore is an in-memory store.Store for resolver tests.
type memStore struct {
	users        map[string]*model.User
	affiliations map[model.AffiliationKey]*model.Affiliation
	claimOrgs    map[string][]string // domainID -> org ids claiming it
	orgVerified  map[string]bool

	countErr error
	claimErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[string]*model.User),
		affiliations: make(map[model.AffiliationKey]*model.Affiliation),
		claimOrgs:    make(map[string][]string),
		orgVerified:  make(map[string]bool),
	}
}

func (m *memStore) Users() store.UserStore                 { return (*memUsers)(m) }
func (m *memStore) Organizations() store.OrganizationStore { return (*memOrgs)(m) }
func (m *memStore) Affiliations() store.AffiliationStore   { return (*memAffiliations)(m) }
func (m *memStore) Domains() store.DomainStore             { return (*memDomains)(m) }
func (m *memStore) Claims() store.ClaimStore               { return (*memClaims)(m) }

type memUsers memStore

func (m *memUsers) Create(ctx context.Context, u *model.User) error { return nil }

func (m *memUsers) Find(ctx context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, model.ErrNotFound
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.Find(ctx, email)
}

func (m *memUsers) SetRefreshID(ctx context.Context, userID, refreshID string, expiresAt time.Time) error {
	return nil
}

type memOrgs memStore

func (m *memOrgs) Create(ctx context.Context, org *model.Organization) error { return nil }

func (m *memOrgs) Find(ctx context.Context, id string) (*model.Organization, error) {
	return nil, model.ErrNotFound
}

func (m *memOrgs) FindBySlug(ctx context.Context, slug string) (*model.Organization, error) {
	return nil, model.ErrNotFound
}

type memAffiliations memStore

func (m *memAffiliations) Find(ctx context.Context, userID, orgID string) (*model.Affiliation, error) {
	if a, ok := m.affiliations[model.AffiliationKey{UserID: userID, OrgID: orgID}]; ok {
		return a, nil
	}
	return nil, model.ErrNotFound
}

func (m *memAffiliations) CountByUser(ctx context.Context, userID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for key := range m.affiliations {
		if key.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memAffiliations) Upsert(ctx context.Context, a model.Affiliation) error { return nil }

func (m *memAffiliations) Delete(ctx context.Context, userID, orgID string) error { return nil }

type memDomains memStore

func (m *memDomains) Create(ctx context.Context, d *model.Domain) error { return nil }

func (m *memDomains) Find(ctx context.Context, id string) (*model.Domain, error) {
	return nil, model.ErrNotFound
}

func (m *memDomains) FindByHost(ctx context.Context, host string) (*model.Domain, error) {
	return nil, model.ErrNotFound
}

func (m *memDomains) SelectorsForUpdate(ctx context.Context, id string) ([]string, error) {
	return nil, model.ErrNotFound
}

func (m *memDomains) SetSelectors(ctx context.Context, id string, selectors []string) error {
	return nil
}

type memClaims memStore

func (m *memClaims) Create(ctx context.Context, c model.Claim) error { return nil }

func (m *memClaims) Exists(ctx context.Context, orgID, domainID string) (bool, error) {
	return false, nil
}

func (m *memClaims) OrgsClaiming(ctx context.Context, domainID, userID string, verifiedOnly bool) ([]string, error) {
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	var out []string
	for _, orgID := range m.claimOrgs[domainID] {
		if _, ok := m.affiliations[model.AffiliationKey{UserID: userID, OrgID: orgID}]; !ok {
			continue
		}
		if verifiedOnly && !m.orgVerified[orgID] {
			continue
		}
		out = append(out, orgID)
	}
	return out, nil
}

func newResolver(st *memStore) *Resolver {
	return NewResolver(st, loader.NewLoaders(st))
}

func TestRequireAuthenticatedSubject(t *testing.T) {
	st := newMemStore()
	st.users["alice@example.com"] = &model.User{ID: "alice@example.com", EmailVerified: true}
	r := newResolver(st)

	user, err := r.RequireAuthenticatedSubject(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("known subject rejected: %v", err)
	}
	if user.ID != "alice@example.com" {
		t.Fatalf("unexpected user %+v", user)
	}

	// Missing key and unknown key collapse into the same error.
	if _, err := r.RequireAuthenticatedSubject(context.Background(), ""); !errors.Is(err, model.ErrUnauthenticated) {
		t.Fatalf("missing key: %v", err)
	}
	if _, err := r.RequireAuthenticatedSubject(context.Background(), "ghost@example.com"); !errors.Is(err, model.ErrUnauthenticated) {
		t.Fatalf("unknown key: %v", err)
	}
}

func TestRequireVerifiedSubject(t *testing.T) {
	r := newResolver(newMemStore())

	if err := r.RequireVerifiedSubject(&model.User{EmailVerified: true}); err != nil {
		t.Fatalf("verified user rejected: %v", err)
	}
	if err := r.RequireVerifiedSubject(&model.User{}); !errors.Is(err, model.ErrUnverified) {
		t.Fatalf("unverified user: %v", err)
	}
	if err := r.RequireVerifiedSubject(nil); !errors.Is(err, model.ErrUnverified) {
		t.Fatalf("nil user: %v", err)
	}
}

func TestOrgRole(t *testing.T) {
	st := newMemStore()
	st.affiliations[model.AffiliationKey{UserID: "alice", OrgID: "org-1"}] = &model.Affiliation{
		UserID: "alice", OrgID: "org-1", Role: model.RoleAdmin,
	}
	r := newResolver(st)

	role, ok, err := r.OrgRole(context.Background(), "alice", "org-1")
	if err != nil || !ok || role != model.RoleAdmin {
		t.Fatalf("OrgRole = %q ok=%v err=%v", role, ok, err)
	}

	// No affiliation: not a member, not an error.
	role, ok, err = r.OrgRole(context.Background(), "alice", "org-2")
	if err != nil || ok || role != "" {
		t.Fatalf("non-member OrgRole = %q ok=%v err=%v", role, ok, err)
	}
}

func TestOrgRoleGlobalSuperAdmin(t *testing.T) {
	st := newMemStore()
	st.affiliations[model.AffiliationKey{UserID: "root", OrgID: model.ServiceOrgID}] = &model.Affiliation{
		UserID: "root", OrgID: model.ServiceOrgID, Role: model.RoleSuperAdmin,
	}
	// Local role is user; the global grant must outrank it.
	st.affiliations[model.AffiliationKey{UserID: "root", OrgID: "org-1"}] = &model.Affiliation{
		UserID: "root", OrgID: "org-1", Role: model.RoleUser,
	}
	r := newResolver(st)

	role, ok, err := r.OrgRole(context.Background(), "root", "org-1")
	if err != nil || !ok || role != model.RoleSuperAdmin {
		t.Fatalf("OrgRole = %q ok=%v err=%v, want super_admin", role, ok, err)
	}

	// Even for organizations the user never joined.
	role, ok, err = r.OrgRole(context.Background(), "root", "org-99")
	if err != nil || !ok || role != model.RoleSuperAdmin {
		t.Fatalf("OrgRole for unjoined org = %q ok=%v err=%v", role, ok, err)
	}

	// A lesser role against the sentinel org grants nothing.
	st2 := newMemStore()
	st2.affiliations[model.AffiliationKey{UserID: "helper", OrgID: model.ServiceOrgID}] = &model.Affiliation{
		UserID: "helper", OrgID: model.ServiceOrgID, Role: model.RoleAdmin,
	}
	r2 := newResolver(st2)
	_, ok, err = r2.OrgRole(context.Background(), "helper", "org-1")
	if err != nil || ok {
		t.Fatalf("admin on sentinel org granted a role: ok=%v err=%v", ok, err)
	}
}

func TestHasDomainPermission(t *testing.T) {
	st := newMemStore()
	st.affiliations[model.AffiliationKey{UserID: "alice", OrgID: "org-1"}] = &model.Affiliation{
		UserID: "alice", OrgID: "org-1", Role: model.RoleUser,
	}
	st.claimOrgs["dom-1"] = []string{"org-1", "org-2"}
	r := newResolver(st)

	ok, err := r.HasDomainPermission(context.Background(), "alice", "dom-1")
	if err != nil || !ok {
		t.Fatalf("member of claiming org denied: ok=%v err=%v", ok, err)
	}

	// Bob is affiliated elsewhere; no intersection with claimants.
	st.affiliations[model.AffiliationKey{UserID: "bob", OrgID: "org-3"}] = &model.Affiliation{
		UserID: "bob", OrgID: "org-3", Role: model.RoleAdmin,
	}
	ok, err = r.HasDomainPermission(context.Background(), "bob", "dom-1")
	if err != nil || ok {
		t.Fatalf("non-claimant allowed: ok=%v err=%v", ok, err)
	}

	// No affiliations at all short-circuits to deny.
	ok, err = r.HasDomainPermission(context.Background(), "stranger", "dom-1")
	if err != nil || ok {
		t.Fatalf("stranger allowed: ok=%v err=%v", ok, err)
	}
}

func TestDomainPermissionGlobalSuperAdmin(t *testing.T) {
	st := newMemStore()
	st.affiliations[model.AffiliationKey{UserID: "root", OrgID: model.ServiceOrgID}] = &model.Affiliation{
		UserID: "root", OrgID: model.ServiceOrgID, Role: model.RoleSuperAdmin,
	}
	r := newResolver(st)

	ok, err := r.HasDomainPermission(context.Background(), "root", "dom-unclaimed")
	if err != nil || !ok {
		t.Fatalf("global super admin denied: ok=%v err=%v", ok, err)
	}
}

func TestCheckDomainOwnershipVerifiedOnly(t *testing.T) {
	st := newMemStore()
	st.affiliations[model.AffiliationKey{UserID: "alice", OrgID: "org-1"}] = &model.Affiliation{
		UserID: "alice", OrgID: "org-1", Role: model.RoleUser,
	}
	st.claimOrgs["dom-1"] = []string{"org-1"}
	r := newResolver(st)

	// org-1 is unverified: plain permission passes, ownership does not.
	ok, err := r.HasDomainPermission(context.Background(), "alice", "dom-1")
	if err != nil || !ok {
		t.Fatalf("HasDomainPermission: ok=%v err=%v", ok, err)
	}
	ok, err = r.CheckDomainOwnership(context.Background(), "alice", "dom-1")
	if err != nil || ok {
		t.Fatalf("ownership via unverified org: ok=%v err=%v", ok, err)
	}

	st.orgVerified["org-1"] = true
	r = newResolver(st) // fresh loaders, no memoized reads
	ok, err = r.CheckDomainOwnership(context.Background(), "alice", "dom-1")
	if err != nil || !ok {
		t.Fatalf("ownership via verified org: ok=%v err=%v", ok, err)
	}
}

func TestCheckFailuresAreOpaque(t *testing.T) {
	st := newMemStore()
	st.affiliations[model.AffiliationKey{UserID: "alice", OrgID: "org-1"}] = &model.Affiliation{
		UserID: "alice", OrgID: "org-1", Role: model.RoleUser,
	}
	st.countErr = errors.New("pq: connection refused")
	r := newResolver(st)

	_, err := r.HasDomainPermission(context.Background(), "alice", "dom-1")
	if !errors.Is(err, model.ErrPermissionCheckFailed) {
		t.Fatalf("expected ErrPermissionCheckFailed, got %v", err)
	}

	st.countErr = nil
	st.claimErr = errors.New("pq: relation missing")
	r = newResolver(st)
	_, err = r.HasDomainPermission(context.Background(), "alice", "dom-1")
	if !errors.Is(err, model.ErrPermissionCheckFailed) {
		t.Fatalf("expected ErrPermissionCheckFailed, got %v", err)
	}
}

func TestStageErrorKeepsCause(t *testing.T) {
	cause := errors.New("network down")
	err := error(&stageError{stage: "global-role", err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost from the chain: %v", err)
	}
	if err.Error() != "global-role: network down" {
		t.Fatalf("unexpected text: %q", err.Error())
	}
}

func TestDomainPermissionFailureLogsStage(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	st := newMemStore()
	st.affiliations[model.AffiliationKey{UserID: "alice", OrgID: "org-1"}] = &model.Affiliation{
		UserID: "alice", OrgID: "org-1", Role: model.RoleUser,
	}
	st.countErr = errors.New("pq: connection refused")
	r := newResolver(st)

	if _, err := r.HasDomainPermission(context.Background(), "alice", "dom-1"); !errors.Is(err, model.ErrPermissionCheckFailed) {
		t.Fatalf("expected ErrPermissionCheckFailed, got %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["op"] != "authz.domain-permission" {
		t.Fatalf("op = %v", entry["op"])
	}
	if entry["stage"] != "affiliation-count" {
		t.Fatalf("stage = %v", entry["stage"])
	}
	if entry["error"] != "pq: connection refused" {
		t.Fatalf("error = %v", entry["error"])
	}
}

func TestSubjectContextHelpers(t *testing.T) {
	ctx := ContextWithSubject(context.Background(), "alice@example.com")
	subject, ok := SubjectFromContext(ctx)
	if !ok || subject != "alice@example.com" {
		t.Fatalf("SubjectFromContext = %q ok=%v", subject, ok)
	}
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Fatalf("subject found on empty context")
	}

	if got := LocaleFromContext(context.Background()); got != "en" {
		t.Fatalf("default locale = %q", got)
	}
	ctx = ContextWithLocale(context.Background(), "fr")
	if got := LocaleFromContext(ctx); got != "fr" {
		t.Fatalf("locale = %q, want fr", got)
	}
}
