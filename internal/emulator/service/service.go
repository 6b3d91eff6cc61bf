// Package service is the emulated identity backend. Service implements
// authsdk.Gateway directly, so the SDK can run against it in-process, and the
// HTTP API in internal/emulator/http exposes the same methods on the wire.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
	"github.com/aussiebroadwan/authstate/internal/emulator/metrics"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/clockx"
	"github.com/aussiebroadwan/authstate/pkg/cryptox"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
)

const (
	// MaxMFAAttempts is the number of wrong second-factor codes a pending
	// sign-in tolerates before it is dropped.
	MaxMFAAttempts = 5

	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6

	defaultOOBCodeTTL    = time.Hour
	defaultPhoneCodeTTL  = 5 * time.Minute
	defaultMFASessionTTL = 5 * time.Minute
	defaultActionURL     = "http://localhost:9099/emulator/action"
)

var _ authsdk.Gateway = (*Service)(nil)

// Config wires a Service. Store, Signer and APIKey are required.
type Config struct {
	Store  store.Store
	Signer jwtx.Signer
	Hasher *cryptox.Hasher

	// Issuer is the iss claim of minted ID tokens; APIKey their audience.
	Issuer string
	APIKey string

	// CustomTokenSecret verifies HS256 custom tokens. Custom token sign-in
	// is rejected when empty.
	CustomTokenSecret []byte

	// ActionURL is the page out-of-band links point at when the request
	// carries no continue URL.
	ActionURL string

	// TOTPIssuer labels enrolled authenticator entries.
	TOTPIssuer string

	IDTokenTTL      time.Duration
	RefreshTokenTTL time.Duration
	OOBCodeTTL      time.Duration
	PhoneCodeTTL    time.Duration
	MFASessionTTL   time.Duration

	Clock   clockx.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Service struct {
	store    store.Store
	signer   jwtx.Signer
	keys     *jwtx.KeySet
	verifier *jwtx.EdDSAVerifier
	hasher   *cryptox.Hasher

	issuer       string
	apiKey       string
	customSecret []byte
	actionURL    string
	totpIssuer   string

	idTTL      time.Duration
	refreshTTL time.Duration
	oobTTL     time.Duration
	phoneTTL   time.Duration
	mfaTTL     time.Duration

	clock   clockx.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("service: signer is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("service: api key is required")
	}

	keys := jwtx.NewKeySet()
	if err := keys.AddSigner(cfg.Signer); err != nil {
		return nil, fmt.Errorf("service: register signing key: %w", err)
	}

	s := &Service{
		store:        cfg.Store,
		signer:       cfg.Signer,
		keys:         keys,
		hasher:       cfg.Hasher,
		issuer:       cfg.Issuer,
		apiKey:       cfg.APIKey,
		customSecret: cfg.CustomTokenSecret,
		actionURL:    cfg.ActionURL,
		totpIssuer:   cfg.TOTPIssuer,
		idTTL:        cfg.IDTokenTTL,
		refreshTTL:   cfg.RefreshTokenTTL,
		oobTTL:       cfg.OOBCodeTTL,
		phoneTTL:     cfg.PhoneCodeTTL,
		mfaTTL:       cfg.MFASessionTTL,
		clock:        cfg.Clock,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
	}

	if s.hasher == nil {
		s.hasher = cryptox.NewHasher("")
	}
	if s.issuer == "" {
		s.issuer = "authstate-emulator"
	}
	if s.actionURL == "" {
		s.actionURL = defaultActionURL
	}
	if s.totpIssuer == "" {
		s.totpIssuer = s.issuer
	}
	if s.idTTL <= 0 {
		s.idTTL = jwtx.DefaultIDTokenTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = jwtx.DefaultRefreshTokenTTL
	}
	if s.oobTTL <= 0 {
		s.oobTTL = defaultOOBCodeTTL
	}
	if s.phoneTTL <= 0 {
		s.phoneTTL = defaultPhoneCodeTTL
	}
	if s.mfaTTL <= 0 {
		s.mfaTTL = defaultMFASessionTTL
	}
	if s.clock == nil {
		s.clock = clockx.Real{}
	}
	if s.log == nil {
		s.log = slogx.Discard()
	}

	s.verifier = jwtx.NewVerifierEdDSA(keys, s.issuer, []string{s.apiKey}, s.clock.Now)
	return s, nil
}

// Keys returns the public keys ID tokens are signed with.
func (s *Service) Keys() *jwtx.KeySet { return s.keys }

// APIKey is the key requests must carry and ID tokens are issued for.
func (s *Service) APIKey() string { return s.apiKey }

func (s *Service) logger(ctx context.Context) *slog.Logger {
	if l := slogx.FromContext(ctx); l != slog.Default() {
		return l
	}
	return s.log
}

// internal logs err and hides it behind auth/internal-error.
func (s *Service) internal(ctx context.Context, op string, err error) error {
	s.logger(ctx).Error("emulator operation failed", "op", op, "error", err)
	return authsdk.ErrInternal
}

// rejectSignIn counts a refused credential and returns err unchanged.
func (s *Service) rejectSignIn(err error) error {
	var ae *authsdk.AuthError
	if errors.As(err, &ae) && ae.Code != authsdk.CodeInternalError {
		s.metrics.SignInFailed(authsdk.ServerMessage(ae))
	}
	return err
}

// ============================================================================
// Token minting
// ============================================================================

type issueOptions struct {
	provider     string
	secondFactor string
	isNew        bool

	// decorate adds provider specific fields to the response.
	decorate func(*authsdk.IDTokenResponse)
}

// mintIDToken signs an ID token for a at now.
func (s *Service) mintIDToken(a domain.Account, provider, secondFactor string, now time.Time) (string, error) {
	claims := jwtx.NewIDClaims(jwtx.Identity{
		UID:           a.UID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		DisplayName:   a.DisplayName,
		PhotoURL:      a.PhotoURL,
		PhoneNumber:   a.PhoneNumber,
		Provider:      provider,
		SecondFactor:  secondFactor,
		TenantID:      a.TenantID,
	}, s.idTTL, s.issuer, s.apiKey, now)
	return s.signer.Sign(claims)
}

// issue starts a session for a: it records the login, mints an ID token and
// stores a fresh refresh token.
func (s *Service) issue(ctx context.Context, a domain.Account, opts issueOptions) (*authsdk.IDTokenResponse, error) {
	now := s.clock.Now()

	idToken, err := s.mintIDToken(a, opts.provider, opts.secondFactor, now)
	if err != nil {
		return nil, s.internal(ctx, "sign id token", err)
	}
	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, s.internal(ctx, "generate refresh token", err)
	}

	a.LastLoginAt = now
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().Update(ctx, a); err != nil {
			return err
		}
		return tx.RefreshTokens().Create(ctx, domain.RefreshToken{
			TokenHash: cryptox.FingerprintToken(refresh),
			UID:       a.UID,
			Provider:  opts.provider,
			ExpiresAt: now.Add(s.refreshTTL),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, s.internal(ctx, "store session", err)
	}

	s.metrics.SignIn(opts.provider)
	s.logger(ctx).Info("session issued", "uid", a.UID, "provider", opts.provider, "new_user", opts.isNew)

	resp := &authsdk.IDTokenResponse{
		IDToken:      idToken,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.idTTL / time.Second),
		LocalID:      a.UID,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		PhotoURL:     a.PhotoURL,
		PhoneNumber:  a.PhoneNumber,
		IsNewUser:    opts.isNew,
		ProviderID:   opts.provider,
		TenantID:     a.TenantID,
	}
	if opts.decorate != nil {
		opts.decorate(resp)
	}
	return resp, nil
}

// complete finishes a first-factor sign-in: accounts with an enrolled second
// factor get a pending credential instead of tokens.
func (s *Service) complete(ctx context.Context, a domain.Account, opts issueOptions) (*authsdk.IDTokenResponse, error) {
	if a.MFA == nil {
		return s.issue(ctx, a, opts)
	}

	pending, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, s.internal(ctx, "generate mfa session", err)
	}
	now := s.clock.Now()
	err = s.store.MFASessions().Create(ctx, domain.MFASession{
		ID:        pending,
		UID:       a.UID,
		Provider:  opts.provider,
		ExpiresAt: now.Add(s.mfaTTL),
		CreatedAt: now,
	})
	if err != nil {
		return nil, s.internal(ctx, "store mfa session", err)
	}

	s.logger(ctx).Info("second factor required", "uid", a.UID, "provider", opts.provider)
	resp := &authsdk.IDTokenResponse{
		LocalID:              a.UID,
		Email:                a.Email,
		ProviderID:           opts.provider,
		MFAPendingCredential: pending,
		MFAInfo:              mfaInfo(a),
	}
	if opts.decorate != nil {
		opts.decorate(resp)
	}
	return resp, nil
}

func mfaInfo(a domain.Account) []authsdk.MFAEnrollment {
	if a.MFA == nil {
		return nil
	}
	return []authsdk.MFAEnrollment{{
		MFAEnrollmentID: a.MFA.EnrollmentID,
		DisplayName:     a.MFA.DisplayName,
		FactorID:        authsdk.FactorIDTOTP,
		EnrolledAt:      a.MFA.EnrolledAt.UTC().Format(time.RFC3339),
	}}
}

// ============================================================================
// ID token checks
// ============================================================================

// accountForIDToken resolves the account an ID token was issued to, applying
// every revocation rule.
func (s *Service) accountForIDToken(ctx context.Context, idToken string) (domain.Account, *jwtx.Claims, error) {
	if idToken == "" {
		return domain.Account{}, nil, authsdk.ErrInvalidUserToken
	}

	claims, err := s.verifier.Verify(idToken)
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return domain.Account{}, nil, authsdk.ErrTokenExpired
	case err != nil:
		s.logger(ctx).Debug("id token rejected", "error", err)
		return domain.Account{}, nil, authsdk.ErrInvalidUserToken
	}

	a, err := s.store.Accounts().Get(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, nil, authsdk.ErrUserDeleted
	}
	if err != nil {
		return domain.Account{}, nil, s.internal(ctx, "load account", err)
	}
	if a.Disabled {
		return domain.Account{}, nil, authsdk.ErrUserDisabled
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.Before(a.ValidSince) {
		return domain.Account{}, nil, authsdk.ErrTokenExpired
	}
	return a, claims, nil
}

// validSince is the revocation watermark for now. ID tokens carry whole
// seconds, so the watermark is truncated to keep tokens minted in the same
// second valid.
func validSince(now time.Time) time.Time {
	return now.Truncate(time.Second)
}
