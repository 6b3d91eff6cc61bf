package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIDTokenTTL is the lifetime of an ID token. Clients refresh
	// shortly before it runs out.
	DefaultIDTokenTTL = time.Hour

	// DefaultRefreshTokenTTL bounds how long a refresh token stays usable.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Sign-in providers recorded in the "provider" claim.
const (
	ProviderPassword  = "password"
	ProviderAnonymous = "anonymous"
	ProviderCustom    = "custom"
	ProviderPhone     = "phone"
	ProviderEmailLink = "emailLink"
)

// Claims are the claims of an ID token.
type Claims struct {
	jwt.RegisteredClaims

	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`

	// AuthTime is when the user last presented a first factor.
	AuthTime int64 `json:"auth_time,omitempty"`

	// Provider is the sign-in method that produced the session.
	Provider string `json:"provider,omitempty"`

	// SecondFactor is set when a second factor completed the sign-in.
	SecondFactor string `json:"second_factor,omitempty"`

	TenantID string `json:"tenant_id,omitempty"`
}

// Identity is the user data an ID token is minted from.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	DisplayName   string
	PhotoURL      string
	PhoneNumber   string
	Provider      string
	SecondFactor  string
	TenantID      string
	AuthTime      time.Time
}

// NewIDClaims builds the claims of an ID token for id. audience is the API key
// the token is valid for.
func NewIDClaims(id Identity, ttl time.Duration, issuer, audience string, now time.Time) Claims {
	authTime := id.AuthTime
	if authTime.IsZero() {
		authTime = now
	}
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		Name:          id.DisplayName,
		Picture:       id.PhotoURL,
		PhoneNumber:   id.PhoneNumber,
		AuthTime:      authTime.Unix(),
		Provider:      id.Provider,
		SecondFactor:  id.SecondFactor,
		TenantID:      id.TenantID,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiryAt ensures the token hasn't expired (exp) and isn't before
// nbf at the given instant, allowing leeway for clock skew.
func (c *Claims) ValidateExpiryAt(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}

// ExpirationTime returns exp, or the zero time if the token has none.
func (c *Claims) ExpirationTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
