// Package mutate implements the transactional mutation handlers. Every
// handler resolves permissions through the authz resolver, applies its
// writes through an orchestrator session, and reports outcomes as typed,
// localized results. Store errors are logged with full detail and
// surfaced to callers as a single generic retry message.
package mutate

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dmarcview.org/internal/audit"
	"dmarcview.org/internal/authz"
	"dmarcview.org/internal/intl"
	"dmarcview.org/internal/loader"
	"dmarcview.org/internal/model"
	"dmarcview.org/internal/notify"
	"dmarcview.org/internal/obs"
	"dmarcview.org/internal/store"
	"dmarcview.org/internal/token"
)

// Kind discriminates mutation outcomes. Callers branch on Kind, never on
// the translated Message.
type Kind string

const (
	KindOK               Kind = "ok"
	KindUnauthenticated  Kind = "unauthenticated"
	KindUnverified       Kind = "unverified"
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindInvalidInput     Kind = "invalid_input"
	KindStoreFailure     Kind = "store_failure"
)

// Result is the discriminated outcome of a mutation: Kind says what
// happened, Message is the localized user-safe rendering.
type Result struct {
	Kind    Kind
	Message string
}

// OK reports whether the mutation succeeded.
func (r Result) OK() bool { return r.Kind == KindOK }

// Service composes the permission resolver, the transaction orchestrator
// and the outbound boundaries into the four mutation handlers.
type Service struct {
	db            *sql.DB
	store         *store.PG
	tokens        *token.Manager
	notifier      notify.Notifier
	translate     intl.TranslateFunc
	inviteBaseURL string
	now           func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithNotifier overrides the outbound notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithTranslate injects the message catalog lookup.
func WithTranslate(fn intl.TranslateFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.translate = fn
		}
	}
}

// WithInviteBaseURL sets the base URL embedded in create-account links.
func WithInviteBaseURL(base string) Option {
	return func(s *Service) {
		if base != "" {
			s.inviteBaseURL = base
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the mutation service.
func NewService(db *sql.DB, tokens *token.Manager, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("mutate: database handle is required")
	}
	if tokens == nil {
		return nil, errors.New("mutate: token manager is required")
	}
	s := &Service{
		db:            db,
		store:         store.New(db),
		tokens:        tokens,
		notifier:      notify.LogNotifier{},
		translate:     intl.Default(),
		inviteBaseURL: "https://dmarcview.org/create-user",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// session returns the request's loaders (creating fresh ones when the
// request layer did not attach any) and a resolver bound to them.
func (s *Service) session(ctx context.Context) (*loader.Loaders, *authz.Resolver) {
	lds, ok := loader.FromContext(ctx)
	if !ok {
		lds = loader.NewLoaders(s.store)
	}
	return lds, authz.NewResolver(s.store, lds)
}

// result renders a localized outcome and records the mutation metric.
func (s *Service) result(ctx context.Context, op string, kind Kind, messageKey string) Result {
	obs.MutationOutcome(op, string(kind))
	return Result{
		Kind:    kind,
		Message: s.translate(messageKey, authz.LocaleFromContext(ctx)),
	}
}

// auditEvents maps a mutation op onto its audit event name.
var auditEvents = map[string]string{
	"mutate.invite":        "org.invite",
	"mutate.remove":        "org.remove_member",
	"mutate.create_domain": "domain.create",
	"mutate.refresh":       "auth.refresh",
	"mutate.signup":        "auth.signup",
	"mutate.signin":        "auth.signin",
}

// reject renders a non-OK outcome, writing its audit line first. Every
// mutation outcome, success or rejection, leaves exactly one audit record;
// rejections without a richer per-branch audit call funnel through here.
func (s *Service) reject(ctx context.Context, op string, kind Kind, messageKey, outcome string, fields map[string]any) Result {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["outcome"] = outcome
	_ = audit.LogEvent(ctx, auditEvents[op], fields)
	return s.result(ctx, op, kind, messageKey)
}

// denied maps a permission-check error onto the matching outcome. Checks
// that failed on the store side come back as the generic retry message.
func (s *Service) denied(ctx context.Context, op string, err error) Result {
	switch {
	case errors.Is(err, model.ErrUnauthenticated):
		return s.reject(ctx, op, KindUnauthenticated, intl.KeyUnauthenticated, "unauthenticated", nil)
	case errors.Is(err, model.ErrUnverified):
		return s.reject(ctx, op, KindUnverified, intl.KeyUnverified, "unverified", nil)
	case errors.Is(err, model.ErrNotFound):
		return s.reject(ctx, op, KindNotFound, intl.KeyNotFound, "not found", nil)
	default:
		return s.reject(ctx, op, KindStoreFailure, intl.KeyTryAgain, "check failed", nil)
	}
}

// storeFailure logs the failing operation with full detail and returns the
// generic retry message. The audit line carries the same identifiers but
// never the raw error text.
func (s *Service) storeFailure(ctx context.Context, op string, err error, fields map[string]any) Result {
	obs.LogError(op, err, fields)
	auditFields := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "msg" {
			continue
		}
		auditFields[k] = v
	}
	return s.reject(ctx, op, KindStoreFailure, intl.KeyTryAgain, "store failure", auditFields)
}
