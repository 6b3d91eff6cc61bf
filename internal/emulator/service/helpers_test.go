package service_test

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/domain"
	"github.com/aussiebroadwan/authstate/internal/emulator/metrics"
	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	"github.com/aussiebroadwan/authstate/internal/emulator/store/sqlite"
	"github.com/aussiebroadwan/authstate/pkg/clockx"
	"github.com/aussiebroadwan/authstate/pkg/cryptox"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey = "test-api-key"
	testIssuer = "test-emulator"
)

var (
	testStart    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	customSecret = []byte("custom-token-secret")
)

type harness struct {
	svc     *service.Service
	store   *sqlite.Store
	clock   *clockx.Fake
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithClock(t, clockx.NewFake(testStart))
}

func newHarnessWithClock(t *testing.T, clock clockx.Clock) *harness {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	signer, err := jwtx.NewSignerEdDSA("test-key", pemKey)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	svc, err := service.New(service.Config{
		Store:             st,
		Signer:            signer,
		Issuer:            testIssuer,
		APIKey:            testAPIKey,
		CustomTokenSecret: customSecret,
		Clock:             clock,
		Metrics:           m,
	})
	require.NoError(t, err)

	h := &harness{svc: svc, store: st, metrics: m}
	h.clock, _ = clock.(*clockx.Fake)
	return h
}

// latestCode returns the newest out-of-band code issued to email.
func (h *harness) latestCode(t *testing.T, email string) domain.OOBCode {
	t.Helper()

	codes, err := h.svc.OOBCodes(context.Background(), email)
	require.NoError(t, err)
	require.NotEmpty(t, codes)
	return codes[0]
}

// linkCode pulls the oobCode parameter out of an action link.
func linkCode(t *testing.T, link string) string {
	t.Helper()

	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("oobCode")
}

// wrongTOTP returns a six digit code not accepted at now.
func wrongTOTP(t *testing.T, secret string, now time.Time) string {
	t.Helper()

	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totp.GenerateCode(secret, now.Add(d))
		require.NoError(t, err)
		valid[code] = true
	}
	for i := 0; ; i++ {
		code := fmt.Sprintf("%06d", i)
		if !valid[code] {
			return code
		}
	}
}
