package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/mail"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/cryptox"
	"github.com/aussiebroadwan/authstate/pkg/idx"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
)

// normalizeEmail lower-cases and validates an address.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", authsdk.ErrInvalidEmail
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < MinPasswordLength {
		return authsdk.ErrWeakPassword.WithMessage("Password should be at least 6 characters")
	}
	return nil
}

// newAccount returns an empty account created now.
func (s *Service) newAccount() domain.Account {
	now := s.clock.Now()
	return domain.Account{
		UID:         idx.New().String(),
		ValidSince:  validSince(now),
		CreatedAt:   now,
		LastLoginAt: now,
	}
}

// createAccount stores a, mapping a lost uniqueness race to EMAIL_EXISTS.
func (s *Service) createAccount(ctx context.Context, a domain.Account, provider string) error {
	err := s.store.Accounts().Create(ctx, a)
	if errors.Is(err, store.ErrAlreadyExists) {
		return authsdk.ErrEmailExists
	}
	if err != nil {
		return s.internal(ctx, "create account", err)
	}
	s.metrics.AccountCreated(provider)
	return nil
}

func (s *Service) VerifyPassword(ctx context.Context, req *authsdk.VerifyPasswordRequest) (*authsdk.IDTokenResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, s.rejectSignIn(authsdk.ErrInvalidEmail)
	}

	a, err := s.store.Accounts().GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) || (err == nil && a.TenantID != req.TenantID) {
		return nil, s.rejectSignIn(authsdk.ErrUserDeleted)
	}
	if err != nil {
		return nil, s.internal(ctx, "load account", err)
	}

	if a.PasswordHash == "" {
		return nil, s.rejectSignIn(authsdk.ErrWrongPassword)
	}
	if err := s.hasher.Verify(req.Password, a.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return nil, s.internal(ctx, "verify password", err)
		}
		return nil, s.rejectSignIn(authsdk.ErrWrongPassword)
	}
	if a.Disabled {
		return nil, s.rejectSignIn(authsdk.ErrUserDisabled)
	}

	return s.complete(ctx, a, issueOptions{provider: jwtx.ProviderPassword})
}

// CreateAccount signs up with email and password. A request without an email
// creates an anonymous account.
func (s *Service) CreateAccount(ctx context.Context, req *authsdk.SignUpRequest) (*authsdk.IDTokenResponse, error) {
	if req.Email == "" && req.Password == "" {
		return s.signUpAnonymous(ctx, req.TenantID)
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(req.Password); err != nil {
		return nil, err
	}

	if _, err := s.store.Accounts().GetByEmail(ctx, email); err == nil {
		return nil, authsdk.ErrEmailExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, s.internal(ctx, "load account", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, s.internal(ctx, "hash password", err)
	}

	a := s.newAccount()
	a.Email = email
	a.PasswordHash = hash
	a.DisplayName = req.DisplayName
	a.TenantID = req.TenantID
	if err := s.createAccount(ctx, a, jwtx.ProviderPassword); err != nil {
		return nil, err
	}

	return s.issue(ctx, a, issueOptions{provider: jwtx.ProviderPassword, isNew: true})
}

func (s *Service) SignInAnonymously(ctx context.Context) (*authsdk.IDTokenResponse, error) {
	return s.signUpAnonymous(ctx, "")
}

func (s *Service) signUpAnonymous(ctx context.Context, tenantID string) (*authsdk.IDTokenResponse, error) {
	a := s.newAccount()
	a.TenantID = tenantID
	if err := s.createAccount(ctx, a, jwtx.ProviderAnonymous); err != nil {
		return nil, err
	}
	return s.issue(ctx, a, issueOptions{provider: jwtx.ProviderAnonymous, isNew: true})
}

// VerifyCustomToken exchanges a token minted with the shared custom token
// secret. The uid it names is created on first use.
func (s *Service) VerifyCustomToken(ctx context.Context, req *authsdk.VerifyCustomTokenRequest) (*authsdk.IDTokenResponse, error) {
	if len(s.customSecret) == 0 {
		return nil, authsdk.ErrOperationNotSupported.WithMessage("custom tokens are not configured")
	}

	claims, err := jwtx.VerifyCustomToken(s.customSecret, req.Token, s.clock.Now())
	switch {
	case errors.Is(err, jwtx.ErrAudience):
		return nil, s.rejectSignIn(authsdk.ErrCustomTokenMismatch)
	case err != nil:
		s.logger(ctx).Debug("custom token rejected", "error", err)
		return nil, s.rejectSignIn(authsdk.ErrInvalidCustomToken)
	}

	a, err := s.store.Accounts().Get(ctx, claims.UID)
	isNew := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		a = s.newAccount()
		a.UID = claims.UID
		a.TenantID = req.TenantID
		if err := s.createAccount(ctx, a, jwtx.ProviderCustom); err != nil {
			return nil, err
		}
		isNew = true
	case err != nil:
		return nil, s.internal(ctx, "load account", err)
	case a.Disabled:
		return nil, s.rejectSignIn(authsdk.ErrUserDisabled)
	}

	return s.issue(ctx, a, issueOptions{provider: jwtx.ProviderCustom, isNew: isNew})
}

// ============================================================================
// Federated identity
// ============================================================================

// assertion is the provider callback payload carried in the post body.
type assertion struct {
	providerID  string
	federatedID string
	email       string
	name        string
	login       string
	picture     string
	idToken     string
	accessToken string
}

// parseAssertion reads a url-encoded callback body. The federated id comes
// from "sub" or "id", falling back to the subject of an id_token.
func parseAssertion(postBody string) (assertion, error) {
	q, err := url.ParseQuery(postBody)
	if err != nil {
		return assertion{}, authsdk.ErrInvalidCredential
	}

	as := assertion{
		providerID:  q.Get("providerId"),
		federatedID: q.Get("sub"),
		email:       q.Get("email"),
		name:        q.Get("name"),
		login:       q.Get("login"),
		picture:     q.Get("picture"),
		idToken:     q.Get("id_token"),
		accessToken: q.Get("access_token"),
	}
	if as.federatedID == "" {
		as.federatedID = q.Get("id")
	}

	if as.idToken != "" {
		if claims, err := jwtx.ParseUnverified(as.idToken); err == nil {
			if as.federatedID == "" {
				as.federatedID = claims.Subject
			}
			if as.email == "" {
				as.email = claims.Email
			}
			if as.name == "" {
				as.name = claims.Name
			}
			if as.picture == "" {
				as.picture = claims.Picture
			}
		}
	}

	if as.providerID == "" || as.federatedID == "" {
		return assertion{}, authsdk.ErrInvalidCredential
	}
	as.email = strings.ToLower(as.email)
	return as, nil
}

// rawUserInfo renders the provider profile the way the provider would send
// it.
func (as assertion) rawUserInfo() string {
	profile := map[string]string{"id": as.federatedID}
	for k, v := range map[string]string{
		"email":   as.email,
		"name":    as.name,
		"login":   as.login,
		"picture": as.picture,
	} {
		if v != "" {
			profile[k] = v
		}
	}
	b, _ := json.Marshal(profile)
	return string(b)
}

func (as assertion) link(uid string) domain.ProviderLink {
	return domain.ProviderLink{
		ProviderID:  as.providerID,
		FederatedID: as.federatedID,
		UID:         uid,
		Email:       as.email,
		DisplayName: as.name,
		PhotoURL:    as.picture,
	}
}

func (as assertion) decorate(resp *authsdk.IDTokenResponse) {
	resp.RawUserInfo = as.rawUserInfo()
	resp.OAuthAccessToken = as.accessToken
	resp.OAuthIDToken = as.idToken
}

// VerifyAssertion signs in with a federated identity, or links it to the
// account of req.IDToken.
func (s *Service) VerifyAssertion(ctx context.Context, req *authsdk.VerifyAssertionRequest) (*authsdk.IDTokenResponse, error) {
	if req.RequestURI == "" {
		return nil, authsdk.ErrArgument.WithMessage("MISSING_REQUEST_URI")
	}
	as, err := parseAssertion(req.PostBody)
	if err != nil {
		return nil, s.rejectSignIn(authsdk.ErrInvalidCredential)
	}

	owner, err := s.store.Accounts().GetByProvider(ctx, as.providerID, as.federatedID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, s.internal(ctx, "load provider link", err)
	}
	linked := err == nil

	opts := issueOptions{provider: as.providerID, decorate: as.decorate}

	if req.IDToken != "" {
		a, _, err := s.accountForIDToken(ctx, req.IDToken)
		if err != nil {
			return nil, err
		}
		if linked && owner.UID != a.UID {
			return nil, authsdk.ErrCredentialAlreadyInUse
		}
		if !linked {
			if err := s.store.Accounts().LinkProvider(ctx, as.link(a.UID)); err != nil {
				if errors.Is(err, store.ErrAlreadyExists) {
					return nil, authsdk.ErrCredentialAlreadyInUse
				}
				return nil, s.internal(ctx, "link provider", err)
			}
			a.Providers = append(a.Providers, as.link(a.UID))
		}
		return s.issue(ctx, a, opts)
	}

	if linked {
		if owner.Disabled {
			return nil, s.rejectSignIn(authsdk.ErrUserDisabled)
		}
		return s.complete(ctx, owner, opts)
	}

	// First sign-in with this identity. An account already holding the
	// provider's email adopts the identity.
	if as.email != "" {
		a, err := s.store.Accounts().GetByEmail(ctx, as.email)
		if err == nil {
			if a.Disabled {
				return nil, s.rejectSignIn(authsdk.ErrUserDisabled)
			}
			if err := s.store.Accounts().LinkProvider(ctx, as.link(a.UID)); err != nil {
				return nil, s.internal(ctx, "link provider", err)
			}
			a.Providers = append(a.Providers, as.link(a.UID))
			return s.complete(ctx, a, opts)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, s.internal(ctx, "load account", err)
		}
	}

	a := s.newAccount()
	a.Email = as.email
	a.EmailVerified = as.email != ""
	a.DisplayName = as.name
	a.PhotoURL = as.picture
	a.TenantID = req.TenantID
	a.Providers = []domain.ProviderLink{as.link(a.UID)}
	if err := s.createAccount(ctx, a, as.providerID); err != nil {
		return nil, err
	}

	opts.isNew = true
	return s.issue(ctx, a, opts)
}

// ============================================================================
// Email link
// ============================================================================

// SignInWithEmailLink consumes an EMAIL_SIGNIN code. The address is verified
// by the act of clicking the link, and an account is created if needed.
func (s *Service) SignInWithEmailLink(ctx context.Context, req *authsdk.EmailLinkSignInRequest) (*authsdk.IDTokenResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	code, err := s.lookupOOBCode(ctx, req.OOBCode, authsdk.OOBEmailSignIn)
	if err != nil {
		return nil, s.rejectSignIn(err)
	}
	if code.Email != email {
		return nil, s.rejectSignIn(authsdk.ErrInvalidEmail.WithMessage("the email does not match the sign-in link"))
	}
	if err := s.store.OOBCodes().Delete(ctx, code.Code); err != nil {
		return nil, s.internal(ctx, "delete oob code", err)
	}

	a, err := s.store.Accounts().GetByEmail(ctx, email)
	isNew := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		a = s.newAccount()
		a.Email = email
		a.EmailVerified = true
		a.EmailLinkSignIn = true
		if err := s.createAccount(ctx, a, jwtx.ProviderEmailLink); err != nil {
			return nil, err
		}
		isNew = true
	case err != nil:
		return nil, s.internal(ctx, "load account", err)
	case a.Disabled:
		return nil, s.rejectSignIn(authsdk.ErrUserDisabled)
	default:
		a.EmailVerified = true
		a.EmailLinkSignIn = true
		if err := s.store.Accounts().Update(ctx, a); err != nil {
			return nil, s.internal(ctx, "update account", err)
		}
	}

	return s.complete(ctx, a, issueOptions{provider: jwtx.ProviderEmailLink, isNew: isNew})
}
