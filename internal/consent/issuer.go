package consent

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret is returned when signed grants are requested without
	// a configured secret.
	ErrMissingSecret = errors.New("consent token secret is not configured")
	// ErrTokenExpired is returned when a grant's expiry has passed.
	ErrTokenExpired = errors.New("consent grant expired")
	// ErrInvalidToken is returned when a credential is not a valid grant.
	ErrInvalidToken = errors.New("invalid consent grant")
)

const defaultGrantTTL = time.Hour

// Claims represents the JWT claims carried by a signed consent grant.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// Grant is a signed consent credential.
type Grant struct {
	Token     string    `json:"token"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer mints and verifies signed consent grants.
type Issuer struct {
	secret string
	ttl    time.Duration
}

// NewIssuer creates an Issuer. A non-positive ttl falls back to one hour.
// Returns nil when no secret is configured, in which case only opaque tokens
// are accepted.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultGrantTTL
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue mints a signed grant for the given scopes.
func (i *Issuer) Issue(subject string, scopes ...string) (*Grant, error) {
	if i == nil || i.secret == "" {
		return nil, ErrMissingSecret
	}

	now := time.Now()
	expiresAt := now.Add(i.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.secret))
	if err != nil {
		return nil, err
	}

	return &Grant{Token: signed, Scopes: scopes, ExpiresAt: expiresAt}, nil
}

// Verify validates a signed grant and returns the consent Token it carries.
func (i *Issuer) Verify(tokenString string) (*Token, error) {
	if i == nil || i.secret == "" {
		return nil, ErrMissingSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return &Token{Value: tokenString, Scopes: claims.Scopes}, nil
}
