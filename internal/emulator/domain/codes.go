package domain

import "time"

// RefreshToken is the stored record of an opaque refresh token.
type RefreshToken struct {
	TokenHash string // cryptox.FingerprintToken of the opaque value
	UID       string
	Provider  string // sign-in method the session started with
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// OOBCode is an out-of-band action code delivered by email. The emulator
// keeps the plain code so tests and operators can read it back.
type OOBCode struct {
	Code        string
	RequestType string // PASSWORD_RESET, EMAIL_SIGNIN or VERIFY_EMAIL
	Email       string
	UID         string // empty for EMAIL_SIGNIN to a new address
	Link        string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// PhoneSession is a pending SMS verification.
type PhoneSession struct {
	SessionInfo string
	PhoneNumber string
	Code        string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// MFASession is a first-factor sign-in waiting for its second factor.
type MFASession struct {
	ID        string // the mfaPendingCredential handed to the client
	UID       string
	Provider  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}
