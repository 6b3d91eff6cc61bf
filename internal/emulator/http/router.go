package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authstate/internal/emulator/metrics"
	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	"github.com/aussiebroadwan/authstate/internal/emulator/store"
	"github.com/aussiebroadwan/authstate/pkg/httpx"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Limits are the rate limit profiles of the public API.
type Limits struct {
	// SignIn covers credential checks and code verification.
	SignIn httpx.RateLimitConfig `envPrefix:"SIGNIN_"`
	// Mutation covers account changes and code delivery.
	Mutation httpx.RateLimitConfig `envPrefix:"MUTATION_"`
	// Lookup covers token refresh and account lookups.
	Lookup httpx.RateLimitConfig `envPrefix:"LOOKUP_"`
}

// DefaultLimits returns the shared httpx profiles.
func DefaultLimits() Limits {
	return Limits{
		SignIn:   httpx.StrictLimit,
		Mutation: httpx.ModerateLimit,
		Lookup:   httpx.LenientLimit,
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	svc          *service.Service
	store        store.Store
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	limits       Limits
	adminToken   string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

// RouterConfig wires a Router. Gatherer may be nil to leave /metrics out;
// zero Limits select DefaultLimits.
type RouterConfig struct {
	Service      *service.Service
	Store        store.Store
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Limits       Limits
	AdminToken   string
	BuildVersion string
	Logger       *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slogx.Discard()
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}

	r := &Router{
		Mux:          http.NewServeMux(),
		svc:          cfg.Service,
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		gatherer:     cfg.Gatherer,
		limits:       cfg.Limits,
		adminToken:   cfg.AdminToken,
		buildVersion: cfg.BuildVersion,
		startTime:    time.Now(),
		logger:       cfg.Logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSignIn()
	r.registerAccounts()
	r.registerActions()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers h under pattern, timing every request under route.
func (r *Router) handle(pattern, route string, h http.Handler, mws ...httpx.Middleware) {
	timed := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, req)
		r.metrics.ObserveRequest(route, time.Since(start))
	})
	r.Mux.Handle(pattern, httpx.Chain(timed, mws...))
}

// api registers a public RPC at /v1/{method}. Every call must carry the
// emulator's API key.
func (r *Router) api(method string, h http.Handler, limit httpx.Middleware) {
	r.handle("POST /v1/"+method, method, h,
		limit,
		requireAPIKey(r.svc.APIKey()),
	)
}

func (r *Router) onLimited(route string) func(*http.Request) {
	return func(*http.Request) { r.metrics.Limited(route) }
}

func (r *Router) byIP(cfg httpx.RateLimitConfig, route string) httpx.Middleware {
	return httpx.RateLimitByIP(cfg, r.onLimited(route))
}

func (r *Router) byEmail(cfg httpx.RateLimitConfig, route string) httpx.Middleware {
	return httpx.RateLimitByIPAndJSONField(cfg, "email", r.onLimited(route))
}

func (r *Router) registerSignIn() {
	const (
		signInWithPassword    = "accounts:signInWithPassword"
		signUp                = "accounts:signUp"
		signInWithCustomToken = "accounts:signInWithCustomToken"
		signInWithIdp         = "accounts:signInWithIdp"
		signInWithEmailLink   = "accounts:signInWithEmailLink"
		sendVerificationCode  = "accounts:sendVerificationCode"
		signInWithPhoneNumber = "accounts:signInWithPhoneNumber"
		mfaFinalize           = "mfaSignIn:finalize"
	)

	// Password checks are keyed by address as well so one account cannot be
	// brute forced while others stay reachable from the same client.
	r.api(signInWithPassword, rpc(r.svc.VerifyPassword), r.byEmail(r.limits.SignIn, signInWithPassword))
	r.api(signUp, rpc(r.svc.CreateAccount), r.byIP(r.limits.Mutation, signUp))
	r.api(signInWithCustomToken, rpc(r.svc.VerifyCustomToken), r.byIP(r.limits.SignIn, signInWithCustomToken))
	r.api(signInWithIdp, rpc(r.svc.VerifyAssertion), r.byIP(r.limits.SignIn, signInWithIdp))
	r.api(signInWithEmailLink, rpc(r.svc.SignInWithEmailLink), r.byEmail(r.limits.SignIn, signInWithEmailLink))
	r.api(sendVerificationCode, rpc(r.svc.SendVerificationCode), r.byIP(r.limits.Mutation, sendVerificationCode))
	r.api(signInWithPhoneNumber, rpc(r.svc.VerifyPhoneNumber), r.byIP(r.limits.SignIn, signInWithPhoneNumber))
	r.api(mfaFinalize, rpc(r.svc.FinalizeMFASignIn), r.byIP(r.limits.SignIn, mfaFinalize))
}

func (r *Router) registerAccounts() {
	h := &AccountsHandler{Service: r.svc}

	r.api("accounts:lookup", http.HandlerFunc(h.HandleLookup), r.byIP(r.limits.Lookup, "accounts:lookup"))
	r.api("accounts:delete", http.HandlerFunc(h.HandleDelete), r.byIP(r.limits.Mutation, "accounts:delete"))
	r.api("accounts:update", http.HandlerFunc(h.HandleUpdate), r.byIP(r.limits.Mutation, "accounts:update"))
	r.api("token", http.HandlerFunc(h.HandleToken), r.byIP(r.limits.Lookup, "token"))
}

func (r *Router) registerActions() {
	r.api("accounts:sendOobCode", rpc(r.svc.SendOOBCode), r.byEmail(r.limits.Mutation, "accounts:sendOobCode"))
	r.api("accounts:resetPassword", rpc(r.svc.ConfirmPasswordReset), r.byIP(r.limits.SignIn, "accounts:resetPassword"))
	r.api("accounts:createAuthUri", rpc(r.svc.FetchSignInMethodsForIdentifier), r.byIP(r.limits.Lookup, "accounts:createAuthUri"))

	// Default target of out-of-band links without a continue URL.
	h := &ActionHandler{Service: r.svc}
	r.handle("GET /emulator/action", "emulator:action", h, r.byIP(r.limits.Mutation, "emulator:action"))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{Service: r.svc}
	admin := func(pattern, route string, fn http.HandlerFunc) {
		r.handle(pattern, route, fn,
			httpx.RequireBearer(r.adminToken),
			r.byIP(httpx.PublicLimit, route),
		)
	}

	admin("GET /emulator/v1/oobCodes", "emulator:oobCodes", h.HandleOOBCodes)
	admin("GET /emulator/v1/verificationCodes", "emulator:verificationCodes", h.HandleVerificationCodes)
	admin("GET /emulator/v1/stats", "emulator:stats", h.HandleStats)
	admin("POST /emulator/v1/accounts:disable", "emulator:disable", h.HandleDisable)
	admin("POST /emulator/v1/accounts:enrollTotp", "emulator:enrollTotp", h.HandleEnrollTOTP)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.svc.Keys()),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.svc.Keys()),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	if r.gatherer != nil {
		r.Mux.Handle("GET /metrics",
			httpx.Chain(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}),
				httpx.RateLimitByIP(httpx.PublicLimit),
			),
		)
	}
}
