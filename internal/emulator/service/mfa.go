package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/idx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPEnrollment is what EnrollTOTP hands back to the operator.
type TOTPEnrollment struct {
	EnrollmentID string `json:"mfaEnrollmentId"`
	Secret       string `json:"secret"`
	URL          string `json:"otpauthUrl"`
}

// EnrollTOTP attaches a TOTP second factor to uid, replacing any existing one.
// Subsequent first-factor sign-ins answer with a pending credential.
func (s *Service) EnrollTOTP(ctx context.Context, uid, displayName string) (*TOTPEnrollment, error) {
	a, err := s.store.Accounts().Get(ctx, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, authsdk.ErrUserDeleted
	}
	if err != nil {
		return nil, s.internal(ctx, "load account", err)
	}

	account := a.Email
	if account == "" {
		account = a.UID
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totpIssuer,
		AccountName: account,
		Period:      totpOpts.Period,
		Digits:      totpOpts.Digits,
		Algorithm:   totpOpts.Algorithm,
	})
	if err != nil {
		return nil, s.internal(ctx, "generate totp key", err)
	}

	a.MFA = &domain.TOTPEnrollment{
		EnrollmentID: idx.New().String(),
		DisplayName:  displayName,
		Secret:       key.Secret(),
		EnrolledAt:   s.clock.Now(),
	}
	if err := s.store.Accounts().Update(ctx, a); err != nil {
		return nil, s.internal(ctx, "store totp enrollment", err)
	}

	s.logger(ctx).Info("totp enrolled", "uid", uid)
	return &TOTPEnrollment{
		EnrollmentID: a.MFA.EnrollmentID,
		Secret:       key.Secret(),
		URL:          key.URL(),
	}, nil
}

// FinalizeMFASignIn completes a pending sign-in with a TOTP code. The pending
// credential is dropped after MaxMFAAttempts wrong codes.
func (s *Service) FinalizeMFASignIn(ctx context.Context, req *authsdk.FinalizeMFARequest) (*authsdk.IDTokenResponse, error) {
	sess, err := s.store.MFASessions().Get(ctx, req.MFAPendingCredential)
	if errors.Is(err, store.ErrNotFound) {
		return nil, authsdk.ErrArgument.WithMessage("invalid or expired mfaPendingCredential")
	}
	if err != nil {
		return nil, s.internal(ctx, "load mfa session", err)
	}

	now := s.clock.Now()
	if !now.Before(sess.ExpiresAt) {
		_ = s.store.MFASessions().Delete(ctx, sess.ID)
		return nil, authsdk.ErrArgument.WithMessage("invalid or expired mfaPendingCredential")
	}

	a, err := s.store.Accounts().Get(ctx, sess.UID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, authsdk.ErrUserDeleted
	}
	if err != nil {
		return nil, s.internal(ctx, "load account", err)
	}
	if a.Disabled {
		return nil, s.rejectSignIn(authsdk.ErrUserDisabled)
	}
	if a.MFA == nil || a.MFA.EnrollmentID != req.MFAEnrollmentID {
		return nil, authsdk.ErrArgument.WithMessage("unknown mfaEnrollmentId")
	}

	// Malformed codes count as wrong ones.
	ok, err := totp.ValidateCustom(req.TOTPCode, a.MFA.Secret, now, totpOpts)
	if err != nil || !ok {
		return nil, s.failMFAAttempt(ctx, sess.ID)
	}

	if err := s.store.MFASessions().Delete(ctx, sess.ID); err != nil {
		return nil, s.internal(ctx, "delete mfa session", err)
	}
	return s.issue(ctx, a, issueOptions{provider: sess.Provider, secondFactor: authsdk.FactorIDTOTP})
}

func (s *Service) failMFAAttempt(ctx context.Context, id string) error {
	sess, err := s.store.MFASessions().IncrementAttempts(ctx, id)
	if err != nil {
		return s.internal(ctx, "count mfa attempt", err)
	}
	if sess.Attempts >= MaxMFAAttempts {
		if err := s.store.MFASessions().Delete(ctx, id); err != nil {
			return s.internal(ctx, "delete mfa session", err)
		}
		s.logger(ctx).Warn("mfa session locked", "uid", sess.UID, "attempts", sess.Attempts)
		return s.rejectSignIn(authsdk.ErrTooManyRequests)
	}
	return s.rejectSignIn(authsdk.ErrInvalidVerificationCode.WithMessage(
		fmt.Sprintf("invalid code, %d attempts left", MaxMFAAttempts-sess.Attempts)))
}
