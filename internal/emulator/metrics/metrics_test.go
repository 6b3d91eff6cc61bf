package metrics_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())

	m.SignIn("password")
	m.SignIn("password")
	m.Refreshed()
	m.SignInFailed("INVALID_PASSWORD")
	m.Cleaned("oob_codes", 3)
	m.Cleaned("oob_codes", 0)
	m.ObserveRequest("accounts:lookup", 20*time.Millisecond)

	require.InDelta(t, 2, testutil.ToFloat64(m.SignIns.WithLabelValues("password")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(m.TokensIssued), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.TokenRefreshes), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.SignInFailures.WithLabelValues("INVALID_PASSWORD")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(m.HousekeepingRows.WithLabelValues("oob_codes")), 0)
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.SignIn("anonymous")
		m.SignInFailed("x")
		m.TokenIssued()
		m.Refreshed()
		m.AccountCreated("password")
		m.AccountDeleted()
		m.OOBCodeSent("EMAIL_SIGNIN")
		m.Limited("accounts:signInWithPassword")
		m.Cleaned("oob_codes", 1)
		m.ObserveRequest("token", time.Second)
	})
}

func TestSeparateRegistries(t *testing.T) {
	t.Parallel()

	// Registering twice against one registry would panic; fresh ones do not.
	require.NotPanics(t, func() {
		metrics.New(prometheus.NewRegistry())
		metrics.New(prometheus.NewRegistry())
	})
}
