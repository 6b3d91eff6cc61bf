package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestGetAccountInfo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	resp, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)

	info, err := h.svc.GetAccountInfo(ctx, resp.IDToken)
	require.NoError(t, err)
	require.Equal(t, resp.LocalID, info.LocalID)
	require.Equal(t, "REDACTED", info.PasswordHash)
	require.Equal(t, testStart.UnixMilli(), info.CreatedAt)
	require.Len(t, info.ProviderUserInfo, 1)
	require.Equal(t, jwtx.ProviderPassword, info.ProviderUserInfo[0].ProviderID)

	_, err = h.svc.GetAccountInfo(ctx, "garbage")
	require.ErrorIs(t, err, authsdk.ErrInvalidUserToken)
	_, err = h.svc.GetAccountInfo(ctx, "")
	require.ErrorIs(t, err, authsdk.ErrInvalidUserToken)

	h.clock.Advance(2 * time.Hour)
	_, err = h.svc.GetAccountInfo(ctx, resp.IDToken)
	require.ErrorIs(t, err, authsdk.ErrTokenExpired)
}

func TestIDTokenFromOtherEmulatorIsRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newHarness(t)
	b := newHarness(t)

	resp, err := a.svc.SignInAnonymously(ctx)
	require.NoError(t, err)

	_, err = b.svc.GetAccountInfo(ctx, resp.IDToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidUserToken)
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	resp, err := h.svc.SignInAnonymously(ctx)
	require.NoError(t, err)

	h.clock.Advance(50 * time.Minute)
	refreshed, err := h.svc.RefreshToken(ctx, resp.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, resp.RefreshToken, refreshed.RefreshToken)
	require.Equal(t, resp.LocalID, refreshed.UserID)
	require.NotEqual(t, resp.IDToken, refreshed.IDToken)

	claims, err := jwtx.ParseUnverified(refreshed.IDToken)
	require.NoError(t, err)
	require.Equal(t, jwtx.ProviderAnonymous, claims.Provider)
	require.WithinDuration(t, testStart.Add(50*time.Minute+time.Hour), claims.ExpirationTime(), 0)

	_, err = h.svc.RefreshToken(ctx, "unknown")
	require.ErrorIs(t, err, authsdk.ErrInvalidUserToken)
	_, err = h.svc.RefreshToken(ctx, "")
	require.ErrorIs(t, err, authsdk.ErrInvalidUserToken)

	h.clock.Advance(31 * 24 * time.Hour)
	_, err = h.svc.RefreshToken(ctx, resp.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidUserToken)
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	resp, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteAccount(ctx, resp.IDToken))

	_, err = h.svc.GetAccountInfo(ctx, resp.IDToken)
	require.ErrorIs(t, err, authsdk.ErrUserDeleted)
	_, err = h.svc.RefreshToken(ctx, resp.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidUserToken)
	require.ErrorIs(t, h.svc.DeleteAccount(ctx, resp.IDToken), authsdk.ErrUserDeleted)

	// The address is free again.
	_, err = h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	resp, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)

	updated, err := h.svc.UpdateProfile(ctx, &authsdk.UpdateProfileRequest{
		IDToken:     resp.IDToken,
		DisplayName: "Ann",
		PhotoURL:    "https://example.com/ann.png",
	})
	require.NoError(t, err)
	require.Equal(t, "Ann", updated.DisplayName)
	require.Equal(t, "https://example.com/ann.png", updated.PhotoURL)

	updated, err = h.svc.UpdateProfile(ctx, &authsdk.UpdateProfileRequest{
		IDToken: resp.IDToken,
		Delete:  []string{service.AttrPhotoURL},
	})
	require.NoError(t, err)
	require.Equal(t, "Ann", updated.DisplayName)
	require.Empty(t, updated.PhotoURL)

	info, err := h.svc.GetAccountInfo(ctx, resp.IDToken)
	require.NoError(t, err)
	require.Equal(t, "Ann", info.DisplayName)
	require.Empty(t, info.PhotoURL)

	_, err = h.svc.UpdateProfile(ctx, &authsdk.UpdateProfileRequest{IDToken: resp.IDToken, Delete: []string{"EMAIL"}})
	require.ErrorIs(t, err, authsdk.ErrArgument)
}
