package service

import (
	"context"
	"errors"
	"net/url"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/cryptox"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
)

// actionModes maps request types to the mode parameter of their links.
var actionModes = map[string]string{
	authsdk.OOBEmailSignIn:   authsdk.ActionModeSignIn,
	authsdk.OOBPasswordReset: authsdk.ActionModeResetPassword,
	authsdk.OOBVerifyEmail:   authsdk.ActionModeVerifyEmail,
}

// actionLink appends the code to the continue URL, or to the emulator action
// page when the request has none.
func (s *Service) actionLink(continueURL, requestType, code string) string {
	base := continueURL
	if base == "" {
		base = s.actionURL
	}
	u, err := url.Parse(base)
	if err != nil {
		u, _ = url.Parse(s.actionURL)
	}
	q := u.Query()
	q.Set("mode", actionModes[requestType])
	q.Set("oobCode", code)
	q.Set("apiKey", s.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) SendSignInLinkToEmail(ctx context.Context, req *authsdk.OOBCodeRequest) (*authsdk.OOBCodeResponse, error) {
	r := *req
	r.RequestType = authsdk.OOBEmailSignIn
	return s.SendOOBCode(ctx, &r)
}

func (s *Service) SendPasswordResetEmail(ctx context.Context, req *authsdk.OOBCodeRequest) (*authsdk.OOBCodeResponse, error) {
	r := *req
	r.RequestType = authsdk.OOBPasswordReset
	return s.SendOOBCode(ctx, &r)
}

// SendOOBCode issues an out-of-band code of req.RequestType. No email leaves
// the emulator; codes are read back with OOBCodes.
func (s *Service) SendOOBCode(ctx context.Context, req *authsdk.OOBCodeRequest) (*authsdk.OOBCodeResponse, error) {
	code := domain.OOBCode{RequestType: req.RequestType}

	switch req.RequestType {
	case authsdk.OOBEmailSignIn:
		email, err := normalizeEmail(req.Email)
		if err != nil {
			return nil, err
		}
		code.Email = email
		if a, err := s.store.Accounts().GetByEmail(ctx, email); err == nil {
			code.UID = a.UID
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, s.internal(ctx, "load account", err)
		}

	case authsdk.OOBPasswordReset:
		email, err := normalizeEmail(req.Email)
		if err != nil {
			return nil, err
		}
		a, err := s.store.Accounts().GetByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return nil, authsdk.ErrUserDeleted.WithMessage("EMAIL_NOT_FOUND")
		}
		if err != nil {
			return nil, s.internal(ctx, "load account", err)
		}
		code.Email = email
		code.UID = a.UID

	case authsdk.OOBVerifyEmail:
		a, _, err := s.accountForIDToken(ctx, req.IDToken)
		if err != nil {
			return nil, err
		}
		if a.Email == "" {
			return nil, authsdk.ErrArgument.WithMessage("the account has no email")
		}
		code.Email = a.Email
		code.UID = a.UID

	default:
		return nil, authsdk.ErrArgument.WithMessage("unknown requestType " + req.RequestType)
	}

	value, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, s.internal(ctx, "generate oob code", err)
	}
	now := s.clock.Now()
	code.Code = value
	code.Link = s.actionLink(req.URL, req.RequestType, value)
	code.ExpiresAt = now.Add(s.oobTTL)
	code.CreatedAt = now

	if err := s.store.OOBCodes().Create(ctx, code); err != nil {
		return nil, s.internal(ctx, "store oob code", err)
	}

	s.metrics.OOBCodeSent(req.RequestType)
	s.logger(ctx).Info("oob code issued", "type", req.RequestType, "email", code.Email, "link", code.Link)
	return &authsdk.OOBCodeResponse{Email: code.Email}, nil
}

// lookupOOBCode returns a live code of the given type. Expired codes are
// removed on sight.
func (s *Service) lookupOOBCode(ctx context.Context, value, requestType string) (domain.OOBCode, error) {
	if value == "" {
		return domain.OOBCode{}, authsdk.ErrInvalidActionCode
	}
	code, err := s.store.OOBCodes().Get(ctx, value)
	if errors.Is(err, store.ErrNotFound) {
		return domain.OOBCode{}, authsdk.ErrInvalidActionCode
	}
	if err != nil {
		return domain.OOBCode{}, s.internal(ctx, "load oob code", err)
	}
	if !s.clock.Now().Before(code.ExpiresAt) {
		_ = s.store.OOBCodes().Delete(ctx, value)
		return domain.OOBCode{}, authsdk.ErrExpiredActionCode
	}
	if requestType != "" && code.RequestType != requestType {
		return domain.OOBCode{}, authsdk.ErrInvalidActionCode
	}
	return code, nil
}

// ConfirmPasswordReset sets a new password. Every session of the account is
// revoked and ID tokens issued before now stop being accepted.
func (s *Service) ConfirmPasswordReset(ctx context.Context, req *authsdk.ResetPasswordRequest) (*authsdk.ResetPasswordResponse, error) {
	if req.NewPassword == "" {
		return s.CheckActionCode(ctx, req.OOBCode)
	}
	if err := checkPassword(req.NewPassword); err != nil {
		return nil, err
	}

	code, err := s.lookupOOBCode(ctx, req.OOBCode, authsdk.OOBPasswordReset)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return nil, s.internal(ctx, "hash password", err)
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.Accounts().Get(ctx, code.UID)
		if err != nil {
			return err
		}
		a.PasswordHash = hash
		a.EmailVerified = true
		a.ValidSince = validSince(s.clock.Now())
		if err := tx.Accounts().Update(ctx, a); err != nil {
			return err
		}
		if err := tx.RefreshTokens().RevokeAllForUser(ctx, a.UID); err != nil {
			return err
		}
		return tx.OOBCodes().Delete(ctx, code.Code)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, authsdk.ErrUserDeleted
	}
	if err != nil {
		return nil, s.internal(ctx, "reset password", err)
	}

	s.logger(ctx).Info("password reset", "uid", code.UID)
	return &authsdk.ResetPasswordResponse{Email: code.Email, RequestType: code.RequestType}, nil
}

// CheckActionCode reports what a code does without consuming it.
func (s *Service) CheckActionCode(ctx context.Context, oobCode string) (*authsdk.ResetPasswordResponse, error) {
	code, err := s.lookupOOBCode(ctx, oobCode, "")
	if err != nil {
		return nil, err
	}
	return &authsdk.ResetPasswordResponse{Email: code.Email, RequestType: code.RequestType}, nil
}

// ApplyActionCode applies a VERIFY_EMAIL code.
func (s *Service) ApplyActionCode(ctx context.Context, oobCode string) error {
	code, err := s.lookupOOBCode(ctx, oobCode, authsdk.OOBVerifyEmail)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.Accounts().Get(ctx, code.UID)
		if err != nil {
			return err
		}
		// The address may have changed since the code was sent.
		if a.Email != code.Email {
			return errEmailChanged
		}
		a.EmailVerified = true
		if err := tx.Accounts().Update(ctx, a); err != nil {
			return err
		}
		return tx.OOBCodes().Delete(ctx, code.Code)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return authsdk.ErrUserDeleted
	case errors.Is(err, errEmailChanged):
		return authsdk.ErrInvalidActionCode
	case err != nil:
		return s.internal(ctx, "apply action code", err)
	}
	return nil
}

var errEmailChanged = errors.New("service: email changed")

// FetchSignInMethodsForIdentifier lists how the account of an email can sign
// in.
func (s *Service) FetchSignInMethodsForIdentifier(
	ctx context.Context,
	req *authsdk.CreateAuthURIRequest,
) (*authsdk.CreateAuthURIResponse, error) {
	if req.ContinueURI == "" {
		return nil, authsdk.ErrArgument.WithMessage("MISSING_CONTINUE_URI")
	}
	email, err := normalizeEmail(req.Identifier)
	if err != nil {
		return nil, err
	}

	a, err := s.store.Accounts().GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return &authsdk.CreateAuthURIResponse{}, nil
	}
	if err != nil {
		return nil, s.internal(ctx, "load account", err)
	}

	var methods []string
	if a.PasswordHash != "" {
		methods = append(methods, jwtx.ProviderPassword)
	}
	if a.EmailLinkSignIn {
		methods = append(methods, jwtx.ProviderEmailLink)
	}
	for _, p := range a.Providers {
		methods = append(methods, p.ProviderID)
	}
	return &authsdk.CreateAuthURIResponse{Registered: true, SignInMethods: methods}, nil
}

// OOBCodes lists issued codes for email, or every code when email is empty.
func (s *Service) OOBCodes(ctx context.Context, email string) ([]domain.OOBCode, error) {
	codes, err := s.store.OOBCodes().List(ctx, email)
	if err != nil {
		return nil, s.internal(ctx, "list oob codes", err)
	}
	return codes, nil
}
