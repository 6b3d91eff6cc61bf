package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the emulator's counters. A nil *Metrics records nothing.
type Metrics struct {
	SignIns          *prometheus.CounterVec
	SignInFailures   *prometheus.CounterVec
	TokensIssued     prometheus.Counter
	TokenRefreshes   prometheus.Counter
	AccountsCreated  *prometheus.CounterVec
	AccountsDeleted  prometheus.Counter
	OOBCodesSent     *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
	HousekeepingRows *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New registers the emulator metrics with reg. Tests pass a fresh
// prometheus.NewRegistry; binaries pass prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SignIns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstate_emulator_signins_total",
			Help: "Successful sign-ins by provider",
		}, []string{"provider"}),
		SignInFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstate_emulator_signin_failures_total",
			Help: "Rejected sign-ins by wire error message",
		}, []string{"reason"}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "authstate_emulator_id_tokens_issued_total",
			Help: "ID tokens minted",
		}),
		TokenRefreshes: f.NewCounter(prometheus.CounterOpts{
			Name: "authstate_emulator_token_refreshes_total",
			Help: "Refresh token exchanges",
		}),
		AccountsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstate_emulator_accounts_created_total",
			Help: "Accounts created by provider",
		}, []string{"provider"}),
		AccountsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "authstate_emulator_accounts_deleted_total",
			Help: "Accounts deleted by their owner",
		}),
		OOBCodesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstate_emulator_oob_codes_total",
			Help: "Out-of-band codes issued by request type",
		}, []string{"type"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstate_emulator_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"route"}),
		HousekeepingRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authstate_emulator_housekeeping_deleted_total",
			Help: "Expired rows removed by housekeeping",
		}, []string{"table"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authstate_emulator_request_duration_seconds",
			Help:    "Gateway request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) SignIn(provider string) {
	if m == nil {
		return
	}
	m.SignIns.WithLabelValues(provider).Inc()
	m.TokensIssued.Inc()
}

func (m *Metrics) SignInFailed(reason string) {
	if m == nil {
		return
	}
	m.SignInFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.TokensIssued.Inc()
}

func (m *Metrics) Refreshed() {
	if m == nil {
		return
	}
	m.TokenRefreshes.Inc()
	m.TokensIssued.Inc()
}

func (m *Metrics) AccountCreated(provider string) {
	if m == nil {
		return
	}
	m.AccountsCreated.WithLabelValues(provider).Inc()
}

func (m *Metrics) AccountDeleted() {
	if m == nil {
		return
	}
	m.AccountsDeleted.Inc()
}

func (m *Metrics) OOBCodeSent(requestType string) {
	if m == nil {
		return
	}
	m.OOBCodesSent.WithLabelValues(requestType).Inc()
}

func (m *Metrics) Limited(route string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(route).Inc()
}

func (m *Metrics) Cleaned(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.HousekeepingRows.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) ObserveRequest(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
