package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"dmarcview.org/internal/mutate"
	"dmarcview.org/internal/obs"
	"dmarcview.org/internal/store"
	"dmarcview.org/internal/token"
)

// API is the thin request surface over the mutation core. It parses
// operations, invokes component boundaries and renders responses; all
// authorization and write logic lives behind the mutate service.
type API struct {
	db        *sql.DB
	store     *store.PG
	tokens    *token.Manager
	mutations *mutate.Service
	version   string
	limiter   *ipLimiter
}

// New constructs the API.
func New(db *sql.DB, tokens *token.Manager, mutations *mutate.Service, version string) *API {
	return &API{
		db:        db,
		store:     store.New(db),
		tokens:    tokens,
		mutations: mutations,
		version:   version,
		limiter:   newIPLimiter(20, 40),
	}
}

// Handler returns the fully wrapped route tree.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/readyz", a.handleReady)
	mux.Handle("/metrics", obs.Handler())

	mux.HandleFunc("/v1/auth/signup", a.handleSignUp)
	mux.HandleFunc("/v1/auth/signin", a.handleSignIn)
	mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	mux.HandleFunc("/v1/orgs/invite", a.handleInvite)
	mux.HandleFunc("/v1/orgs/remove-member", a.handleRemoveMember)
	mux.HandleFunc("/v1/domains", a.handleCreateDomain)

	var h http.Handler = mux
	h = a.withAuth(h)
	h = a.RequestContext(h)
	h = a.limiter.RateLimit(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = obs.Instrument(h)
	return h
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": a.version})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
