package service

import (
	"context"
	"errors"
	"regexp"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/cryptox"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
)

// phoneCodeDigits is the length of an SMS verification code.
const phoneCodeDigits = 6

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// SendVerificationCode starts a phone sign-in. No SMS leaves the emulator:
// the code is read back with VerificationCodes.
func (s *Service) SendVerificationCode(
	ctx context.Context,
	req *authsdk.SendVerificationCodeRequest,
) (*authsdk.SendVerificationCodeResponse, error) {
	if !e164.MatchString(req.PhoneNumber) {
		return nil, authsdk.ErrArgument.WithMessage("INVALID_PHONE_NUMBER")
	}

	code, err := cryptox.GenerateDigits(phoneCodeDigits)
	if err != nil {
		return nil, s.internal(ctx, "generate phone code", err)
	}
	sessionInfo, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, s.internal(ctx, "generate session info", err)
	}

	now := s.clock.Now()
	err = s.store.PhoneSessions().Create(ctx, domain.PhoneSession{
		SessionInfo: sessionInfo,
		PhoneNumber: req.PhoneNumber,
		Code:        code,
		ExpiresAt:   now.Add(s.phoneTTL),
		CreatedAt:   now,
	})
	if err != nil {
		return nil, s.internal(ctx, "store phone session", err)
	}

	s.logger(ctx).Info("verification code sent", "phone", req.PhoneNumber)
	return &authsdk.SendVerificationCodeResponse{SessionInfo: sessionInfo}, nil
}

// VerifyPhoneNumber completes a phone sign-in, creating the account on first
// use.
func (s *Service) VerifyPhoneNumber(ctx context.Context, req *authsdk.VerifyPhoneNumberRequest) (*authsdk.IDTokenResponse, error) {
	sess, err := s.store.PhoneSessions().Get(ctx, req.SessionInfo)
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.rejectSignIn(authsdk.ErrInvalidVerificationCode.WithMessage("INVALID_SESSION_INFO"))
	}
	if err != nil {
		return nil, s.internal(ctx, "load phone session", err)
	}
	if !s.clock.Now().Before(sess.ExpiresAt) {
		_ = s.store.PhoneSessions().Delete(ctx, sess.SessionInfo)
		return nil, s.rejectSignIn(authsdk.ErrInvalidVerificationCode.WithMessage("the verification code has expired"))
	}
	if req.Code != sess.Code {
		return nil, s.rejectSignIn(authsdk.ErrInvalidVerificationCode)
	}
	if err := s.store.PhoneSessions().Delete(ctx, sess.SessionInfo); err != nil {
		return nil, s.internal(ctx, "delete phone session", err)
	}

	a, err := s.store.Accounts().GetByPhone(ctx, sess.PhoneNumber)
	isNew := false
	switch {
	case errors.Is(err, store.ErrNotFound):
		a = s.newAccount()
		a.PhoneNumber = sess.PhoneNumber
		if err := s.createAccount(ctx, a, jwtx.ProviderPhone); err != nil {
			return nil, err
		}
		isNew = true
	case err != nil:
		return nil, s.internal(ctx, "load account", err)
	case a.Disabled:
		return nil, s.rejectSignIn(authsdk.ErrUserDisabled)
	}

	return s.complete(ctx, a, issueOptions{provider: jwtx.ProviderPhone, isNew: isNew})
}

// VerificationCodes lists pending phone verifications, newest first.
func (s *Service) VerificationCodes(ctx context.Context) ([]domain.PhoneSession, error) {
	sessions, err := s.store.PhoneSessions().List(ctx)
	if err != nil {
		return nil, s.internal(ctx, "list phone sessions", err)
	}
	return sessions, nil
}
