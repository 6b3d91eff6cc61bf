package authsdk

import (
	"encoding/json"
	"fmt"
)

// UserInfo is one identity linked to a user.
type UserInfo struct {
	UID         string `json:"uid"`
	ProviderID  string `json:"providerId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// MultiFactorInfo describes an enrolled second factor.
type MultiFactorInfo struct {
	UID            string `json:"uid"`
	DisplayName    string `json:"displayName,omitempty"`
	FactorID       string `json:"factorId"`
	EnrollmentTime string `json:"enrollmentTime,omitempty"`
}

// TokenManager is the persisted token state of a user. ExpirationTime is in
// milliseconds since the Unix epoch.
type TokenManager struct {
	AccessToken    string `json:"accessToken"`
	RefreshToken   string `json:"refreshToken"`
	ExpirationTime int64  `json:"expirationTime"`
}

// Record is the serialized form of a User as written to storage.
type Record struct {
	UID           string `json:"uid"`
	APIKey        string `json:"apiKey"`
	AppName       string `json:"appName"`
	AuthDomain    string `json:"authDomain,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	PhotoURL      string `json:"photoURL,omitempty"`
	IsAnonymous   bool   `json:"isAnonymous"`
	TenantID      string `json:"tenantId,omitempty"`

	ProviderData []UserInfo        `json:"providerData"`
	MultiFactor  []MultiFactorInfo `json:"multiFactor,omitempty"`

	CreatedAt   int64 `json:"createdAt,omitempty"`
	LastLoginAt int64 `json:"lastLoginAt,omitempty"`

	STSTokenManager TokenManager `json:"stsTokenManager"`

	// RedirectEventID ties the user to a redirect started before a reload.
	RedirectEventID string `json:"redirectEventId,omitempty"`
}

// valid reports whether r carries enough to rebuild a signed-in user.
func (r *Record) valid() bool {
	return r.UID != "" && r.APIKey != "" && r.STSTokenManager.AccessToken != ""
}

func (r *Record) encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("authsdk: encode user record: %w", err)
	}
	return string(b), nil
}

// decodeRecord parses a stored record. Records missing the uid, API key or
// access token decode to nil without error.
func decodeRecord(s string) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("authsdk: decode user record: %w", err)
	}
	if !r.valid() {
		return nil, nil
	}
	return &r, nil
}
