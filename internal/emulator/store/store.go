package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Sub-repositories are reached
// through methods so a Tx exposes the same surface and transactions cannot
// nest.
type Store interface {
	Accounts() Accounts
	RefreshTokens() RefreshTokens
	OOBCodes() OOBCodes
	PhoneSessions() PhoneSessions
	MFASessions() MFASessions

	ApplyMigrations() error

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store.
type Tx interface {
	Accounts() Accounts
	RefreshTokens() RefreshTokens
	OOBCodes() OOBCodes
	PhoneSessions() PhoneSessions
	MFASessions() MFASessions
}

type Accounts interface {
	// Create inserts a, failing with ErrAlreadyExists when the uid, email or
	// phone number is taken.
	Create(ctx context.Context, a domain.Account) error
	Get(ctx context.Context, uid string) (domain.Account, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
	GetByPhone(ctx context.Context, phone string) (domain.Account, error)
	GetByProvider(ctx context.Context, providerID, federatedID string) (domain.Account, error)

	// Update writes every mutable field of a. Provider links are untouched.
	Update(ctx context.Context, a domain.Account) error
	Delete(ctx context.Context, uid string) error

	// LinkProvider attaches p to p.UID, failing with ErrAlreadyExists when
	// the federated id already belongs to an account.
	LinkProvider(ctx context.Context, p domain.ProviderLink) error

	Count(ctx context.Context) (int, error)
}

type RefreshTokens interface {
	Create(ctx context.Context, t domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error)
	RevokeAllForUser(ctx context.Context, uid string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type OOBCodes interface {
	Create(ctx context.Context, c domain.OOBCode) error
	Get(ctx context.Context, code string) (domain.OOBCode, error)
	Delete(ctx context.Context, code string) error
	// List returns every code for email, newest first; all codes when email
	// is empty.
	List(ctx context.Context, email string) ([]domain.OOBCode, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type PhoneSessions interface {
	Create(ctx context.Context, s domain.PhoneSession) error
	Get(ctx context.Context, sessionInfo string) (domain.PhoneSession, error)
	Delete(ctx context.Context, sessionInfo string) error
	List(ctx context.Context) ([]domain.PhoneSession, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type MFASessions interface {
	Create(ctx context.Context, s domain.MFASession) error
	Get(ctx context.Context, id string) (domain.MFASession, error)
	// IncrementAttempts bumps the failed attempt counter and returns the
	// updated session.
	IncrementAttempts(ctx context.Context, id string) (domain.MFASession, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
