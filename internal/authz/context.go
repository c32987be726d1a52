package authz

import (
	"context"
	"strings"
)

type subjectContextKey struct{}
type localeContextKey struct{}

// ContextWithSubject stores the authenticated subject key in the context.
func ContextWithSubject(ctx context.Context, subjectKey string) context.Context {
	subjectKey = strings.TrimSpace(subjectKey)
	if subjectKey == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectContextKey{}, subjectKey)
}

// SubjectFromContext extracts the authenticated subject key.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(subjectContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithLocale stores the caller's preferred locale.
func ContextWithLocale(ctx context.Context, locale string) context.Context {
	locale = strings.TrimSpace(strings.ToLower(locale))
	if locale == "" {
		return ctx
	}
	return context.WithValue(ctx, localeContextKey{}, locale)
}

// LocaleFromContext returns the preferred locale, defaulting to "en".
func LocaleFromContext(ctx context.Context) string {
	if ctx == nil {
		return "en"
	}
	if v, ok := ctx.Value(localeContextKey{}).(string); ok && v != "" {
		return v
	}
	return "en"
}
