package authsdk

import (
	"context"

	"github.com/aussiebroadwan/authstate/pkg/storage"
)

// completeSignIn turns a token response into the current user. A response
// asking for a second factor yields a *MultiFactorRequiredError instead.
func (a *Auth) completeSignIn(ctx context.Context, resp *IDTokenResponse, op OperationType, cred *AuthCredential) (*UserCredential, error) {
	if resp.MFAPendingCredential != "" {
		return nil, a.multiFactorRequired(resp, op)
	}

	user, err := newUserFromResponse(a.env, resp)
	if err != nil {
		return nil, err
	}
	if err := user.Reload(ctx); err != nil {
		return nil, err
	}

	current, err := a.setCurrentUser(ctx, user, true)
	if err != nil {
		return nil, err
	}
	return &UserCredential{
		User:               current,
		Credential:         cred,
		AdditionalUserInfo: additionalUserInfo(resp),
		OperationType:      op,
	}, nil
}

// signIn runs one gateway sign-in call behind the ready gate and applies its
// response.
func (a *Auth) signIn(ctx context.Context, cred *AuthCredential, call func(context.Context) (*IDTokenResponse, error)) (*UserCredential, error) {
	return track(a.registry, ctx, func(ctx context.Context) (*UserCredential, error) {
		if err := a.waitReady(ctx); err != nil {
			return nil, err
		}
		resp, err := call(ctx)
		if err != nil {
			return nil, err
		}
		return a.completeSignIn(ctx, resp, OperationSignIn, cred)
	})
}

// SignInWithEmailAndPassword signs in an existing password account.
func (a *Auth) SignInWithEmailAndPassword(ctx context.Context, email, password string) (*UserCredential, error) {
	return a.SignInWithCredential(ctx, EmailCredential(email, password))
}

// CreateUserWithEmailAndPassword creates a password account and signs it in.
func (a *Auth) CreateUserWithEmailAndPassword(ctx context.Context, email, password string) (*UserCredential, error) {
	return a.signIn(ctx, nil, func(ctx context.Context) (*IDTokenResponse, error) {
		return a.gateway.CreateAccount(ctx, &SignUpRequest{Email: email, Password: password, TenantID: a.tenantID})
	})
}

// SignInWithCustomToken signs in with a token minted by the application's
// own backend.
func (a *Auth) SignInWithCustomToken(ctx context.Context, token string) (*UserCredential, error) {
	return a.signIn(ctx, nil, func(ctx context.Context) (*IDTokenResponse, error) {
		return a.gateway.VerifyCustomToken(ctx, &VerifyCustomTokenRequest{Token: token, TenantID: a.tenantID})
	})
}

// SignInAnonymously signs in a new anonymous account. When an anonymous
// user is already signed in it is returned without contacting the backend.
func (a *Auth) SignInAnonymously(ctx context.Context) (*UserCredential, error) {
	return track(a.registry, ctx, func(ctx context.Context) (*UserCredential, error) {
		if err := a.waitReady(ctx); err != nil {
			return nil, err
		}
		if cur := a.CurrentUser(); cur != nil && cur.IsAnonymous() {
			return &UserCredential{
				User:               cur,
				AdditionalUserInfo: &AdditionalUserInfo{IsNewUser: false},
				OperationType:      OperationSignIn,
			}, nil
		}

		resp, err := a.gateway.SignInAnonymously(ctx)
		if err != nil {
			return nil, err
		}
		return a.completeSignIn(ctx, resp, OperationSignIn, nil)
	})
}

// SignInWithCredential exchanges cred for a session.
func (a *Auth) SignInWithCredential(ctx context.Context, cred *AuthCredential) (*UserCredential, error) {
	if cred == nil {
		return nil, ErrArgument.WithMessage("credential is nil")
	}

	var kept *AuthCredential
	call := func(ctx context.Context) (*IDTokenResponse, error) {
		switch cred.SignInMethod {
		case ProviderIDPassword:
			return a.gateway.VerifyPassword(ctx, &VerifyPasswordRequest{
				Email:    cred.email,
				Password: cred.password,
				TenantID: a.tenantID,
			})
		case ProviderIDEmailLink:
			return a.gateway.SignInWithEmailLink(ctx, &EmailLinkSignInRequest{Email: cred.email, OOBCode: cred.oobCode})
		case ProviderIDPhone:
			return a.gateway.VerifyPhoneNumber(ctx, &VerifyPhoneNumberRequest{SessionInfo: cred.sessionInfo, Code: cred.code})
		}
		req := cred.assertionRequest()
		req.TenantID = a.tenantID
		resp, err := a.gateway.VerifyAssertion(ctx, req)
		if err == nil {
			kept = credentialFromResponse(resp)
		}
		return resp, err
	}

	uc, err := a.signIn(ctx, nil, call)
	if err != nil {
		return nil, err
	}
	if kept != nil {
		uc.Credential = kept
	}
	return uc, nil
}

// IsSignInWithEmailLink reports whether link is an email sign-in link.
func (a *Auth) IsSignInWithEmailLink(link string) bool {
	return actionCodeFromLink(link) != ""
}

// SignInWithEmailLink signs in with the link sent by SendSignInLinkToEmail.
func (a *Auth) SignInWithEmailLink(ctx context.Context, email, link string) (*UserCredential, error) {
	cred, err := EmailLinkCredential(email, link)
	if err != nil {
		return nil, err
	}
	return a.SignInWithCredential(ctx, cred)
}

// ConfirmationResult is a pending phone sign-in waiting for the SMS code.
type ConfirmationResult struct {
	VerificationID string

	auth *Auth
}

// Confirm completes the phone sign-in with the code the user received.
func (c *ConfirmationResult) Confirm(ctx context.Context, code string) (*UserCredential, error) {
	return c.auth.SignInWithCredential(ctx, PhoneCredential(c.VerificationID, code))
}

// SignInWithPhoneNumber sends a verification code to phoneNumber.
func (a *Auth) SignInWithPhoneNumber(ctx context.Context, phoneNumber string) (*ConfirmationResult, error) {
	return track(a.registry, ctx, func(ctx context.Context) (*ConfirmationResult, error) {
		if err := a.waitReady(ctx); err != nil {
			return nil, err
		}
		resp, err := a.gateway.SendVerificationCode(ctx, &SendVerificationCodeRequest{PhoneNumber: phoneNumber})
		if err != nil {
			return nil, err
		}
		return &ConfirmationResult{VerificationID: resp.SessionInfo, auth: a}, nil
	})
}

// ============================================================================
// Session
// ============================================================================

// SignOut signs the current user out. It does nothing when nobody is signed
// in.
func (a *Auth) SignOut(ctx context.Context) error {
	_, err := track(a.registry, ctx, func(ctx context.Context) (struct{}, error) {
		if err := a.waitReady(ctx); err != nil {
			return struct{}{}, err
		}
		a.stateMu.Lock()
		defer a.stateMu.Unlock()
		return struct{}{}, a.signOutLocked(ctx)
	})
	return err
}

// UpdateCurrentUser makes a copy of user the current user. user must belong
// to an app with the same API key; it is reloaded before being applied.
func (a *Auth) UpdateCurrentUser(ctx context.Context, user *User) error {
	if user == nil {
		return ErrNullUser
	}

	_, err := track(a.registry, ctx, func(ctx context.Context) (*User, error) {
		if err := a.waitReady(ctx); err != nil {
			return nil, err
		}
		if user.APIKey() != a.apiKey {
			return nil, ErrInvalidUserToken
		}

		clone := newUserFromRecord(a.env, user.Record())
		if err := clone.Reload(ctx); err != nil {
			return nil, err
		}
		return a.setCurrentUser(ctx, clone, true)
	})
	return err
}

// GetIDTokenInternal returns the current user's ID token, or "" when nobody
// is signed in.
func (a *Auth) GetIDTokenInternal(ctx context.Context, forceRefresh bool) (string, error) {
	return track(a.registry, ctx, func(ctx context.Context) (string, error) {
		if err := a.waitReady(ctx); err != nil {
			return "", err
		}
		cur := a.CurrentUser()
		if cur == nil {
			return "", nil
		}
		return cur.GetIDToken(ctx, forceRefresh)
	})
}

// SetPersistence moves the session to tier p. Invalid or unsupported tiers
// are rejected before any work starts.
func (a *Auth) SetPersistence(ctx context.Context, p storage.Persistence) error {
	if err := persistenceError(p.Validate()); err != nil {
		return err
	}
	if err := persistenceError(a.manager.Supports(p)); err != nil {
		return err
	}

	_, err := track(a.registry, ctx, func(ctx context.Context) (struct{}, error) {
		if err := a.waitReady(ctx); err != nil {
			return struct{}{}, err
		}
		a.stateMu.Lock()
		defer a.stateMu.Unlock()
		return struct{}{}, a.users.SetPersistence(ctx, p)
	})
	return err
}

// Persistence returns the active storage tier.
func (a *Auth) Persistence() storage.Persistence {
	return a.users.Persistence()
}
