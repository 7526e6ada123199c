package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel errors for token handling.
var (
	// ErrMissingToken is returned when a request carries no credentials.
	ErrMissingToken = errors.New("no token provided")
	// ErrInvalidToken is returned for malformed, forged or expired tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrForbidden is returned when the principal's role is not allowed.
	ErrForbidden = errors.New("insufficient permissions")
)

// Token defaults.
const (
	DefaultTokenTTL = 7 * 24 * time.Hour
	DefaultIssuer   = "pharmalink"
	DefaultAudience = "pharmalink-users"
)

const bearerPrefix = "Bearer "

// Claims is the JWT payload.
type Claims struct {
	Principal
	jwt.RegisteredClaims
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	// Secret is the HMAC key. Required.
	Secret []byte
	// TTL is the token lifetime. Zero means DefaultTokenTTL.
	TTL      time.Duration
	Issuer   string
	Audience string
}

// SessionManager issues and verifies HS256 session tokens.
// Sessions are stateless: there is no revocation list.
type SessionManager struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

// NewSessionManager creates a SessionManager. It fails without a secret.
func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	m := &SessionManager{
		secret:   cfg.Secret,
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTokenTTL
	}
	if m.issuer == "" {
		m.issuer = DefaultIssuer
	}
	if m.audience == "" {
		m.audience = DefaultAudience
	}
	return m, nil
}

// SetClock replaces time.Now. For tests.
func (m *SessionManager) SetClock(now func() time.Time) {
	m.now = now
}

// TTL returns the token lifetime.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Generate signs a token for principal.
func (m *SessionManager) Generate(p Principal) (string, error) {
	now := m.now()
	claims := Claims{
		Principal: p,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   p.UserID,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry.
// Every failure wraps ErrInvalidToken.
func (m *SessionManager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == "" || !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}
	return claims, nil
}

// Refresh verifies token and issues a new one with the same principal
// and a fresh expiry.
func (m *SessionManager) Refresh(token string) (string, error) {
	claims, err := m.Verify(token)
	if err != nil {
		return "", err
	}
	return m.Generate(claims.Principal)
}

// Authenticate verifies the token in an Authorization header value.
func (m *SessionManager) Authenticate(authorization string) (*Claims, error) {
	token, err := BearerToken(authorization)
	if err != nil {
		return nil, err
	}
	return m.Verify(token)
}

// BearerToken extracts the token from "Bearer <token>".
func BearerToken(authorization string) (string, error) {
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// AuthorizeRole returns ErrForbidden unless p holds one of allowed.
func AuthorizeRole(p *Principal, allowed ...Role) error {
	if p == nil || !p.HasAnyRole(allowed...) {
		return ErrForbidden
	}
	return nil
}
