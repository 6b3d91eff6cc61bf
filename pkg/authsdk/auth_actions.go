package authsdk

import "context"

// continueURI is sent where the backend wants a URI for the calling page.
const continueURI = "http://localhost"

// FetchSignInMethodsForEmail lists the sign-in methods registered for email.
func (a *Auth) FetchSignInMethodsForEmail(ctx context.Context, email string) ([]string, error) {
	return track(a.registry, ctx, func(ctx context.Context) ([]string, error) {
		resp, err := a.gateway.FetchSignInMethodsForIdentifier(ctx, &CreateAuthURIRequest{
			Identifier:  email,
			ContinueURI: continueURI,
		})
		if err != nil {
			return nil, err
		}
		if resp.SignInMethods == nil {
			return []string{}, nil
		}
		return resp.SignInMethods, nil
	})
}

// SendSignInLinkToEmail emails a sign-in link. The link must be handled in
// the app, so settings.HandleCodeInApp is required.
func (a *Auth) SendSignInLinkToEmail(ctx context.Context, email string, settings ActionCodeSettings) error {
	if !settings.HandleCodeInApp {
		return ErrArgument.WithMessage("HandleCodeInApp must be true for email link sign-in")
	}
	_, err := track(a.registry, ctx, func(ctx context.Context) (*OOBCodeResponse, error) {
		return a.gateway.SendSignInLinkToEmail(ctx, &OOBCodeRequest{
			RequestType:        OOBEmailSignIn,
			Email:              email,
			ActionCodeSettings: settings,
			LanguageCode:       a.LanguageCode(),
		})
	})
	return err
}

// SendPasswordResetEmail emails a password reset code.
func (a *Auth) SendPasswordResetEmail(ctx context.Context, email string, settings *ActionCodeSettings) error {
	req := &OOBCodeRequest{
		RequestType:  OOBPasswordReset,
		Email:        email,
		LanguageCode: a.LanguageCode(),
	}
	if settings != nil {
		req.ActionCodeSettings = *settings
	}
	_, err := track(a.registry, ctx, func(ctx context.Context) (*OOBCodeResponse, error) {
		return a.gateway.SendPasswordResetEmail(ctx, req)
	})
	return err
}

// CheckActionCode reports what an email action code does without applying
// it.
func (a *Auth) CheckActionCode(ctx context.Context, code string) (*ActionCodeInfo, error) {
	return track(a.registry, ctx, func(ctx context.Context) (*ActionCodeInfo, error) {
		resp, err := a.gateway.CheckActionCode(ctx, code)
		if err != nil {
			return nil, err
		}
		email := resp.Email
		if resp.NewEmail != "" {
			email = resp.NewEmail
		}
		return &ActionCodeInfo{Operation: resp.RequestType, Email: email}, nil
	})
}

// VerifyPasswordResetCode returns the email a reset code was issued for.
func (a *Auth) VerifyPasswordResetCode(ctx context.Context, code string) (string, error) {
	info, err := a.CheckActionCode(ctx, code)
	if err != nil {
		return "", err
	}
	if info.Operation != OOBPasswordReset {
		return "", ErrInvalidActionCode
	}
	return info.Email, nil
}

// ConfirmPasswordReset sets a new password using a reset code.
func (a *Auth) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	_, err := track(a.registry, ctx, func(ctx context.Context) (*ResetPasswordResponse, error) {
		return a.gateway.ConfirmPasswordReset(ctx, &ResetPasswordRequest{OOBCode: code, NewPassword: newPassword})
	})
	return err
}

// ApplyActionCode applies an email verification code.
func (a *Auth) ApplyActionCode(ctx context.Context, code string) error {
	_, err := track(a.registry, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.gateway.ApplyActionCode(ctx, code)
	})
	return err
}
