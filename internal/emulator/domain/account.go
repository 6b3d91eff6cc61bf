package domain

import "time"

// Account is an identity held by the emulator.
type Account struct {
	UID           string
	Email         string // lower-cased; empty for phone, anonymous and custom-token accounts
	EmailVerified bool
	PasswordHash  string // argon2 encoded, empty when no password is set
	DisplayName   string
	PhotoURL      string
	PhoneNumber   string // E.164
	TenantID      string
	Disabled      bool

	// EmailLinkSignIn is set once the account signed in with an email link.
	EmailLinkSignIn bool

	MFA *TOTPEnrollment

	// ValidSince invalidates every ID token issued before it. Bumped on
	// password change.
	ValidSince  time.Time
	CreatedAt   time.Time
	LastLoginAt time.Time

	Providers []ProviderLink
}

// Anonymous reports whether the account has no way to sign in again besides
// its refresh token.
func (a Account) Anonymous() bool {
	return a.Email == "" && a.PhoneNumber == "" && a.PasswordHash == "" && len(a.Providers) == 0
}

// ProviderLink ties a federated identity to an account.
type ProviderLink struct {
	ProviderID  string
	FederatedID string
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// TOTPEnrollment is an account's enrolled second factor.
type TOTPEnrollment struct {
	EnrollmentID string
	DisplayName  string
	Secret       string // base32
	EnrolledAt   time.Time
}
