// Package token mints and verifies the three signed bearer tokens used by
// the mutation core: short-lived auth tokens, long-lived refresh tokens
// carrying a rotating session id, and time-limited invitation tokens.
// Each shape is signed with its own secret.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"dmarcview.org/internal/model"
)

const defaultIssuer = "dmarcview"

const (
	defaultAuthTTL    = time.Hour
	defaultRefreshTTL = 168 * time.Hour
	defaultInviteTTL  = 24 * time.Hour
)

// ErrInvalidToken indicates the token failed verification.
var ErrInvalidToken = errors.New("token: invalid token")

// AuthClaims is the auth token payload; Subject is the user key.
type AuthClaims struct {
	jwt.RegisteredClaims
}

// RefreshClaims carries the user key (Subject) and the rotating session id
// compared against the user's stored refresh id on every refresh.
type RefreshClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// InviteClaims embeds the invitation parameters for a user who has no
// account yet.
type InviteClaims struct {
	Email string     `json:"email"`
	OrgID string     `json:"org_id"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies all token shapes.
type Manager struct {
	authSecret    []byte
	refreshSecret []byte
	inviteSecret  []byte
	issuer        string
	authTTL       time.Duration
	refreshTTL    time.Duration
	inviteTTL     time.Duration
	now           func() time.Time
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithAuthTTL overrides the auth token lifetime.
func WithAuthTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.authTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
	}
}

// WithInviteTTL overrides the invitation token lifetime.
func WithInviteTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.inviteTTL = ttl
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(m *Manager) {
		if s := strings.TrimSpace(issuer); s != "" {
			m.issuer = s
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager. All three secrets are required and must
// differ pairwise so one leaked key cannot forge the others.
func NewManager(authSecret, refreshSecret, inviteSecret string, opts ...Option) (*Manager, error) {
	authSecret = strings.TrimSpace(authSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	inviteSecret = strings.TrimSpace(inviteSecret)
	if authSecret == "" || refreshSecret == "" || inviteSecret == "" {
		return nil, errors.New("token: all signing secrets are required")
	}
	if authSecret == refreshSecret || authSecret == inviteSecret || refreshSecret == inviteSecret {
		return nil, errors.New("token: signing secrets must be distinct")
	}
	m := &Manager{
		authSecret:    []byte(authSecret),
		refreshSecret: []byte(refreshSecret),
		inviteSecret:  []byte(inviteSecret),
		issuer:        defaultIssuer,
		authTTL:       defaultAuthTTL,
		refreshTTL:    defaultRefreshTTL,
		inviteTTL:     defaultInviteTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewSessionID returns a fresh opaque session id for refresh rotation.
func NewSessionID() string {
	return uuid.NewString()
}

func (m *Manager) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (m *Manager) sign(claims jwt.Claims, secret []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(raw string, claims jwt.Claims, secret []byte) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	},
		jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

// SignAuth mints an auth token for the user.
func (m *Manager) SignAuth(userKey string) (string, time.Time, error) {
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return "", time.Time{}, errors.New("token: user key is required")
	}
	claims := AuthClaims{RegisteredClaims: m.registered(userKey, m.authTTL)}
	signed, err := m.sign(claims, m.authSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyAuth validates an auth token and returns its claims.
func (m *Manager) VerifyAuth(raw string) (*AuthClaims, error) {
	var claims AuthClaims
	if err := m.parse(raw, &claims, m.authSecret); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// SignRefresh mints a refresh token binding the user to a session id.
func (m *Manager) SignRefresh(userKey, sessionID string) (string, time.Time, error) {
	userKey = strings.TrimSpace(userKey)
	sessionID = strings.TrimSpace(sessionID)
	if userKey == "" || sessionID == "" {
		return "", time.Time{}, errors.New("token: user key and session id are required")
	}
	claims := RefreshClaims{
		SessionID:        sessionID,
		RegisteredClaims: m.registered(userKey, m.refreshTTL),
	}
	signed, err := m.sign(claims, m.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyRefresh validates a refresh token signature and expiry. The session
// id still has to be compared with the user's stored refresh id by the
// caller; a valid signature alone proves nothing about replay.
func (m *Manager) VerifyRefresh(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := m.parse(raw, &claims, m.refreshSecret); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// SignInvite mints an invitation token for a user without an account.
func (m *Manager) SignInvite(email, orgID string, role model.Role) (string, time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	orgID = strings.TrimSpace(orgID)
	if email == "" || orgID == "" || !role.Valid() {
		return "", time.Time{}, errors.New("token: email, org id and role are required")
	}
	claims := InviteClaims{
		Email:            email,
		OrgID:            orgID,
		Role:             role,
		RegisteredClaims: m.registered(email, m.inviteTTL),
	}
	signed, err := m.sign(claims, m.inviteSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyInvite validates an invitation token and returns its parameters.
func (m *Manager) VerifyInvite(raw string) (*InviteClaims, error) {
	var claims InviteClaims
	if err := m.parse(raw, &claims, m.inviteSecret); err != nil {
		return nil, err
	}
	if claims.Email == "" || claims.OrgID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
