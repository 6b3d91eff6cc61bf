package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func (h *harness) phoneCode(t *testing.T, sessionInfo string) string {
	t.Helper()

	sessions, err := h.svc.VerificationCodes(context.Background())
	require.NoError(t, err)
	for _, s := range sessions {
		if s.SessionInfo == sessionInfo {
			return s.Code
		}
	}
	t.Fatalf("no verification code for session %q", sessionInfo)
	return ""
}

func TestPhoneSignIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.SendVerificationCode(ctx, &authsdk.SendVerificationCodeRequest{PhoneNumber: "0412 345 678"})
	require.ErrorIs(t, err, authsdk.ErrArgument)

	sent, err := h.svc.SendVerificationCode(ctx, &authsdk.SendVerificationCodeRequest{PhoneNumber: "+61412345678"})
	require.NoError(t, err)
	code := h.phoneCode(t, sent.SessionInfo)
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = h.svc.VerifyPhoneNumber(ctx, &authsdk.VerifyPhoneNumberRequest{SessionInfo: sent.SessionInfo, Code: wrong})
	require.ErrorIs(t, err, authsdk.ErrInvalidVerificationCode)

	first, err := h.svc.VerifyPhoneNumber(ctx, &authsdk.VerifyPhoneNumberRequest{SessionInfo: sent.SessionInfo, Code: code})
	require.NoError(t, err)
	require.True(t, first.IsNewUser)
	require.Equal(t, "+61412345678", first.PhoneNumber)
	require.Equal(t, jwtx.ProviderPhone, first.ProviderID)

	_, err = h.svc.VerifyPhoneNumber(ctx, &authsdk.VerifyPhoneNumberRequest{SessionInfo: sent.SessionInfo, Code: code})
	require.ErrorIs(t, err, authsdk.ErrInvalidVerificationCode, "sessions are single use")

	again, err := h.svc.SendVerificationCode(ctx, &authsdk.SendVerificationCodeRequest{PhoneNumber: "+61412345678"})
	require.NoError(t, err)
	second, err := h.svc.VerifyPhoneNumber(ctx, &authsdk.VerifyPhoneNumberRequest{
		SessionInfo: again.SessionInfo,
		Code:        h.phoneCode(t, again.SessionInfo),
	})
	require.NoError(t, err)
	require.False(t, second.IsNewUser)
	require.Equal(t, first.LocalID, second.LocalID)
}

func TestPhoneCodeExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	sent, err := h.svc.SendVerificationCode(ctx, &authsdk.SendVerificationCodeRequest{PhoneNumber: "+61412345678"})
	require.NoError(t, err)
	code := h.phoneCode(t, sent.SessionInfo)

	h.clock.Advance(6 * time.Minute)
	_, err = h.svc.VerifyPhoneNumber(ctx, &authsdk.VerifyPhoneNumberRequest{SessionInfo: sent.SessionInfo, Code: code})
	require.ErrorIs(t, err, authsdk.ErrInvalidVerificationCode)

	sessions, err := h.svc.VerificationCodes(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}
