package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHousekeepingCleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.SignInAnonymously(ctx)
	require.NoError(t, err)
	_, err = h.svc.SendSignInLinkToEmail(ctx, &authsdk.OOBCodeRequest{Email: "ann@example.com"})
	require.NoError(t, err)
	_, err = h.svc.SendVerificationCode(ctx, &authsdk.SendVerificationCodeRequest{PhoneNumber: "+61412345678"})
	require.NoError(t, err)

	hk := service.NewHousekeepingService(h.store, slogx.Discard(), 0)
	hk.Clock = h.clock
	hk.Metrics = h.metrics
	require.Equal(t, time.Hour, hk.Interval)

	require.Zero(t, hk.Cleanup(ctx), "nothing has expired yet")

	h.clock.Advance(2 * time.Hour)
	require.Equal(t, int64(2), hk.Cleanup(ctx))
	require.InDelta(t, 1, testutil.ToFloat64(h.metrics.HousekeepingRows.WithLabelValues("oob_codes")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(h.metrics.HousekeepingRows.WithLabelValues("phone_sessions")), 0)

	h.clock.Advance(31 * 24 * time.Hour)
	require.Equal(t, int64(1), hk.Cleanup(ctx))
	require.InDelta(t, 1, testutil.ToFloat64(h.metrics.HousekeepingRows.WithLabelValues("refresh_tokens")), 0)
}

func TestHousekeepingStartStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	hk := service.NewHousekeepingService(h.store, slogx.Discard(), time.Hour)
	hk.Start()
	hk.Stop()
}
