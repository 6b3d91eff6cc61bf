package authsdk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authstate/pkg/clockx"
	"github.com/aussiebroadwan/authstate/pkg/idx"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
	"github.com/aussiebroadwan/authstate/pkg/storage"
)

// DefaultAppName names the app when Config.AppName is empty.
const DefaultAppName = "[DEFAULT]"

// Config configures an Auth instance.
type Config struct {
	// APIKey is required.
	APIKey     string
	AppName    string
	AuthDomain string
	TenantID   string

	// Gateway is the identity backend. When nil an SDKClient for BaseURL is
	// used.
	Gateway Gateway
	BaseURL string

	// Storage holds the session. When nil the instance gets a private
	// in-memory Manager, closed by Delete.
	Storage     *storage.Manager
	Persistence storage.Persistence

	PopupTimeout time.Duration
	PopupOpener  PopupOpener
	Redirector   Redirector
	RedirectURL  string

	// InitialEvent is the completion delivered with this instance's load,
	// if any. It settles the redirect result during startup.
	InitialEvent *AuthEvent

	LanguageCode string

	Clock  clockx.Clock
	Logger *slog.Logger
	// IDs generates event ids. Defaults to ULIDs.
	IDs func() string
}

// Auth coordinates the signed-in user of one app: it loads the persisted
// session on startup, applies sign-ins and sign-outs, keeps storage and
// observers in step, and follows changes made by other instances sharing
// the local storage tier.
type Auth struct {
	apiKey     string
	appName    string
	authDomain string
	tenantID   string

	gateway     Gateway
	env         userEnv
	manager     *storage.Manager
	ownsManager bool
	users       *UserStore
	redirects   *RedirectUserStore
	pending     *PendingRedirectStore
	arbiter     *Arbiter
	registry    *registry
	queue       *eventQueue
	clock       clockx.Clock
	logger      *slog.Logger
	newID       func() string

	popupOpener  PopupOpener
	redirector   Redirector
	redirectURL  string
	initialEvent *AuthEvent

	ready chan struct{}

	// stateMu serializes changes of the current user.
	stateMu sync.Mutex

	mu             sync.Mutex
	current        *User
	detachUser     func()
	resolved       bool
	lastUID        string
	deleted        bool
	listenerID     storage.ListenerID
	listening      bool
	authObservers  []*observer[*User]
	tokenObservers []*observer[*User]
	langObservers  []*observer[string]
	fwObservers    []*observer[[]string]
	languageCode   string
	frameworks     []string
}

// New creates an Auth and starts loading its state in the background. It
// fails immediately when no API key is configured.
func New(cfg Config) (*Auth, error) {
	if cfg.APIKey == "" {
		return nil, ErrInvalidAPIKey
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.Clock == nil {
		cfg.Clock = clockx.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slogx.Discard()
	}
	if cfg.IDs == nil {
		cfg.IDs = func() string { return idx.New().String() }
	}
	if cfg.Persistence != "" {
		if err := persistenceError(cfg.Persistence.Validate()); err != nil {
			return nil, err
		}
	}

	gateway := cfg.Gateway
	if gateway == nil {
		if cfg.BaseURL == "" {
			return nil, ErrArgument.WithMessage("either Gateway or BaseURL must be set")
		}
		gateway = NewSDKClient(cfg.BaseURL, cfg.APIKey)
	}

	manager := cfg.Storage
	owns := false
	if manager == nil {
		manager = storage.NewManager(context.Background(), storage.Options{Clock: cfg.Clock, Logger: cfg.Logger})
		owns = true
	}

	logger := cfg.Logger.With("app", cfg.AppName)
	scope := AppScopeID(cfg.APIKey, cfg.AppName)

	a := &Auth{
		apiKey:     cfg.APIKey,
		appName:    cfg.AppName,
		authDomain: cfg.AuthDomain,
		tenantID:   cfg.TenantID,
		gateway:    gateway,
		env: userEnv{
			gateway:    gateway,
			clock:      cfg.Clock,
			logger:     logger,
			apiKey:     cfg.APIKey,
			appName:    cfg.AppName,
			authDomain: cfg.AuthDomain,
		},
		manager:      manager,
		ownsManager:  owns,
		users:        NewUserStore(manager, scope, cfg.Persistence, logger),
		redirects:    NewRedirectUserStore(manager, scope),
		pending:      NewPendingRedirectStore(manager, scope),
		registry:     newRegistry(),
		queue:        newEventQueue(logger),
		clock:        cfg.Clock,
		logger:       logger,
		newID:        cfg.IDs,
		popupOpener:  cfg.PopupOpener,
		redirector:   cfg.Redirector,
		redirectURL:  cfg.RedirectURL,
		initialEvent: cfg.InitialEvent,
		ready:        make(chan struct{}),
		languageCode: cfg.LanguageCode,
	}
	a.arbiter = newArbiter(gateway, a, cfg.Clock, logger, cfg.PopupTimeout, cfg.IDs)

	go a.initialize(context.Background())
	return a, nil
}

// ============================================================================
// Startup
// ============================================================================

func (a *Auth) initialize(ctx context.Context) {
	defer close(a.ready)

	if err := a.users.Initialize(ctx); err != nil {
		a.logger.Warn("failed to initialize user store", "error", err)
	}

	redirectRec, err := a.redirects.GetRedirectUser(ctx)
	if err != nil {
		a.logger.Warn("failed to read redirect user", "error", err)
	}

	user := a.loadStoredUser(ctx, redirectRec)

	a.stateMu.Lock()
	a.attach(user)
	a.stateMu.Unlock()

	a.resolveRedirect(ctx)

	if err := a.syncAuthUserChanges(ctx); err != nil {
		a.logger.Warn("storage sync after startup failed", "error", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleted {
		return
	}
	a.resolved = true
	a.lastUID = uidOf(a.current)
	a.fireAllLocked()
	a.listenerID = a.users.AddCurrentUserChangeListener(a.onStorageChange)
	a.listening = true
	a.logger.Debug("auth state resolved", "uid", a.lastUID)
}

// loadStoredUser returns the persisted user, revalidated against the backend
// unless it is the user a redirect was started for.
func (a *Auth) loadStoredUser(ctx context.Context, redirectRec *Record) *User {
	rec, err := a.users.GetCurrentUser(ctx)
	if err != nil {
		a.logger.Warn("failed to read stored user", "error", err)
		return nil
	}
	if rec == nil {
		return nil
	}

	if redirectRec != nil && redirectRec.UID == rec.UID && redirectRec.RedirectEventID != "" {
		user := newUserFromRecord(a.env, rec)
		user.setRedirectEventID(redirectRec.RedirectEventID)
		return user
	}

	user := newUserFromRecord(a.env, rec)
	if err := user.Reload(ctx); err != nil {
		if isNetworkError(err) {
			a.logger.Info("keeping cached user, backend unreachable", "uid", user.UID(), "error", err)
			return user
		}
		a.logger.Info("stored user rejected by backend", "uid", user.UID(), "error", err)
		if err := a.users.RemoveCurrentUser(ctx); err != nil {
			a.logger.Warn("failed to remove rejected user", "error", err)
		}
		return nil
	}

	// The user is not attached yet, so its change event reaches no one. Save
	// it here or the startup sync reloads the stale record over it.
	if err := a.users.SetCurrentUser(ctx, user.Record()); err != nil {
		a.logger.Warn("failed to save revalidated user", "uid", user.UID(), "error", err)
	}
	return user
}

func (a *Auth) resolveRedirect(ctx context.Context) {
	pending, err := a.pending.IsPending(ctx)
	if err != nil {
		a.logger.Warn("failed to read pending redirect", "error", err)
	}

	_, err = a.arbiter.resolveInitialRedirect(ctx, pending, a.initialEvent)
	if err != nil && !errors.Is(err, ErrOperationNotSupported) {
		a.logger.Info("redirect result failed", "error", err)
	}

	if pending && a.initialEvent != nil {
		if err := a.pending.RemovePending(ctx); err != nil {
			a.logger.Warn("failed to clear pending redirect", "error", err)
		}
	}
}

// Ready blocks until startup has resolved the initial state.
func (a *Auth) Ready(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (a *Auth) waitReady(ctx context.Context) error {
	if err := a.Ready(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleted {
		return ErrModuleDestroyed
	}
	return nil
}

// ============================================================================
// Current User
// ============================================================================

// CurrentUser returns the signed-in user, or nil.
func (a *Auth) CurrentUser() *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func uidOf(u *User) string {
	if u == nil {
		return ""
	}
	return u.UID()
}

// attach makes u current without persisting or notifying. a.stateMu must be
// held.
func (a *Auth) attach(u *User) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.detachUser != nil {
		a.detachUser()
		a.detachUser = nil
	}
	a.current = u
	if u == nil {
		return
	}
	u.setLanguageCode(a.languageCode)
	u.setFrameworks(a.frameworks)
	a.detachUser = u.subscribe(func(ev userEvent) { a.onUserEvent(u, ev) })
}

// setCurrentUser applies u as the signed-in user: merged into the current
// object when the uid matches, replacing it otherwise. The result is
// persisted when persist is set, and observers are notified. It returns the
// object that is now current.
func (a *Auth) setCurrentUser(ctx context.Context, u *User, persist bool) (*User, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.setCurrentUserLocked(ctx, u, persist)
}

func (a *Auth) setCurrentUserLocked(ctx context.Context, u *User, persist bool) (*User, error) {
	cur := a.CurrentUser()

	tokenChanged := true
	if cur != nil && u != nil && cur.UID() == u.UID() {
		tokenChanged = cur.copyFrom(u)
		u = cur
	} else {
		a.attach(u)
	}

	if persist {
		var err error
		if u == nil {
			err = a.users.RemoveCurrentUser(ctx)
		} else {
			err = a.users.SetCurrentUser(ctx, u.Record())
		}
		if err != nil {
			return u, err
		}
	}

	a.notify(tokenChanged)
	return u, nil
}

func (a *Auth) onUserEvent(u *User, ev userEvent) {
	if a.CurrentUser() != u {
		return
	}

	ctx := context.Background()
	switch ev.kind {
	case userTokenChanged:
		a.persistUser(ctx, u)
		a.notify(true)
	case userProfileChanged:
		a.persistUser(ctx, u)
	case userInvalidated, userDeleted:
		a.logger.Info("signing out user", "uid", u.UID(), "error", ev.err)
		a.stateMu.Lock()
		defer a.stateMu.Unlock()
		if a.CurrentUser() != u {
			return
		}
		if err := a.signOutLocked(ctx); err != nil {
			a.logger.Warn("sign out after invalidation failed", "error", err)
		}
	}
}

func (a *Auth) persistUser(ctx context.Context, u *User) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if a.CurrentUser() != u {
		return
	}
	if err := a.users.SetCurrentUser(ctx, u.Record()); err != nil {
		a.logger.Warn("failed to persist user", "uid", u.UID(), "error", err)
	}
}

// signOutLocked clears the current user. a.stateMu must be held.
func (a *Auth) signOutLocked(ctx context.Context) error {
	if a.CurrentUser() == nil {
		return nil
	}
	a.attach(nil)

	err := a.users.RemoveCurrentUser(ctx)
	if rerr := a.redirects.RemoveRedirectUser(ctx); err == nil {
		err = rerr
	}
	a.notify(false)
	return err
}

// ============================================================================
// Cross-instance Sync
// ============================================================================

func (a *Auth) onStorageChange() {
	if err := a.syncAuthUserChanges(context.Background()); err != nil {
		a.logger.Warn("failed to sync user from storage", "error", err)
	}
}

// syncAuthUserChanges reconciles the current user with the stored one after
// another instance wrote it. It never writes storage.
func (a *Auth) syncAuthUserChanges(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	a.mu.Lock()
	deleted := a.deleted
	a.mu.Unlock()
	if deleted {
		return nil
	}

	rec, err := a.users.GetCurrentUser(ctx)
	if err != nil {
		return err
	}

	cur := a.CurrentUser()
	switch {
	case cur == nil && rec == nil:
		return nil
	case cur != nil && rec != nil && cur.UID() == rec.UID:
		if cur.copyFrom(newUserFromRecord(a.env, rec)) {
			a.notify(true)
		}
		return nil
	}

	var next *User
	if rec != nil {
		next = newUserFromRecord(a.env, rec)
	}
	a.logger.Debug("current user changed in storage", "from", uidOf(cur), "to", uidOf(next))
	a.attach(next)
	a.notify(false)
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Delete tears the instance down. Outstanding operations fail with
// ErrModuleDestroyed, as does every later call. Delete is idempotent.
func (a *Auth) Delete(ctx context.Context) error {
	a.mu.Lock()
	if a.deleted {
		a.mu.Unlock()
		return nil
	}
	a.deleted = true
	listening, lid := a.listening, a.listenerID
	a.listening = false
	if a.detachUser != nil {
		a.detachUser()
		a.detachUser = nil
	}
	a.mu.Unlock()

	a.registry.cancelAll(ErrModuleDestroyed)
	a.arbiter.Detach()
	if listening {
		a.users.RemoveCurrentUserChangeListener(lid)
	}
	a.queue.close()

	if a.ownsManager {
		return a.manager.Close()
	}
	a.logger.Debug("auth deleted")
	return nil
}

// Snapshot is a serializable view of an Auth.
type Snapshot struct {
	APIKey       string              `json:"apiKey"`
	AppName      string              `json:"appName"`
	AuthDomain   string              `json:"authDomain,omitempty"`
	TenantID     string              `json:"tenantId,omitempty"`
	Persistence  storage.Persistence `json:"persistence"`
	LanguageCode string              `json:"languageCode,omitempty"`
	CurrentUser  *Record             `json:"currentUser"`
}

func (a *Auth) Snapshot() Snapshot {
	s := Snapshot{
		APIKey:      a.apiKey,
		AppName:     a.appName,
		AuthDomain:  a.authDomain,
		TenantID:    a.tenantID,
		Persistence: a.users.Persistence(),
	}
	a.mu.Lock()
	s.LanguageCode = a.languageCode
	cur := a.current
	a.mu.Unlock()
	if cur != nil {
		s.CurrentUser = cur.Record()
	}
	return s
}
