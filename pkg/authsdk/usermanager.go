package authsdk

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/authstate/pkg/slogx"
	"github.com/aussiebroadwan/authstate/pkg/storage"
)

// Storage key names.
const (
	keyNameCurrentUser     = "authUser"
	keyNameRedirectUser    = "redirectUser"
	keyNamePersistence     = "persistence"
	keyNamePendingRedirect = "pendingRedirect"
)

var (
	keyPersistence     = storage.Key{Name: keyNamePersistence, Persistence: storage.Session}
	keyRedirectUser    = storage.Key{Name: keyNameRedirectUser, Persistence: storage.Session}
	keyPendingRedirect = storage.Key{Name: keyNamePendingRedirect, Persistence: storage.Session}
)

func currentUserKey(p storage.Persistence) storage.Key {
	return storage.Key{Name: keyNameCurrentUser, Persistence: p}
}

// tierOrder is the order tiers are searched for a stored user on startup.
var tierOrder = []storage.Persistence{storage.Session, storage.None, storage.Local}

// AppScopeID is the per-app component of every storage key.
func AppScopeID(apiKey, appName string) string {
	return apiKey + storage.Separator + appName
}

// persistenceError maps storage validation errors onto auth codes.
func persistenceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrInvalidPersistence):
		return ErrInvalidPersistence.WithMessage(err.Error())
	case errors.Is(err, storage.ErrUnsupportedPersistence):
		return ErrUnsupportedPersistence.WithMessage(err.Error())
	}
	return err
}

// ============================================================================
// UserStore
// ============================================================================

// UserStore persists the current user of one app in whichever tier is
// active. Operations are serialized.
type UserStore struct {
	manager  *storage.Manager
	scope    string
	fallback storage.Persistence
	logger   *slog.Logger

	mu     sync.Mutex
	active storage.Persistence
}

// NewUserStore creates a store for the app identified by scope. Call
// Initialize before use.
func NewUserStore(m *storage.Manager, scope string, defaultPersistence storage.Persistence, logger *slog.Logger) *UserStore {
	if logger == nil {
		logger = slogx.Discard()
	}
	if defaultPersistence == "" {
		defaultPersistence = storage.Local
	}
	return &UserStore{
		manager:  m,
		scope:    scope,
		fallback: defaultPersistence,
		logger:   logger,
		active:   defaultPersistence,
	}
}

// Initialize picks the active tier: the first tier already holding a user,
// else the persistence saved before a redirect, else the default. The user
// is then removed from every other tier.
func (s *UserStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := storage.Persistence("")
	for _, p := range tierOrder {
		if s.manager.Supports(p) != nil {
			continue
		}
		_, ok, err := s.manager.Get(ctx, currentUserKey(p), s.scope)
		if err != nil {
			return err
		}
		if ok {
			active = p
			break
		}
	}

	saved, ok, err := s.manager.Get(ctx, keyPersistence, s.scope)
	if err != nil {
		return err
	}
	if ok {
		if err := s.manager.Remove(ctx, keyPersistence, s.scope); err != nil {
			return err
		}
		if active == "" && s.manager.Supports(storage.Persistence(saved)) == nil {
			active = storage.Persistence(saved)
		}
	}

	if active == "" {
		active = s.fallback
	}
	s.active = active
	return s.removeFromOthersLocked(ctx, active)
}

func (s *UserStore) removeFromOthersLocked(ctx context.Context, keep storage.Persistence) error {
	for _, p := range tierOrder {
		if p == keep || s.manager.Supports(p) != nil {
			continue
		}
		if err := s.manager.Remove(ctx, currentUserKey(p), s.scope); err != nil {
			return err
		}
	}
	return nil
}

// Persistence returns the active tier.
func (s *UserStore) Persistence() storage.Persistence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// GetCurrentUser returns the stored user, or nil. Undecodable records are
// logged and treated as absent.
func (s *UserStore) GetCurrentUser(ctx context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, s.active)
}

func (s *UserStore) getLocked(ctx context.Context, p storage.Persistence) (*Record, error) {
	raw, ok, err := s.manager.Get(ctx, currentUserKey(p), s.scope)
	if err != nil || !ok {
		return nil, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		s.logger.Warn("discarding unreadable stored user", "persistence", p, "error", err)
		return nil, nil
	}
	return rec, nil
}

// SetCurrentUser stores rec in the active tier.
func (s *UserStore) SetCurrentUser(ctx context.Context, rec *Record) error {
	raw, err := rec.encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Set(ctx, currentUserKey(s.active), s.scope, raw)
}

// RemoveCurrentUser deletes the stored user from the active tier.
func (s *UserStore) RemoveCurrentUser(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Remove(ctx, currentUserKey(s.active), s.scope)
}

// SetPersistence moves the stored user into tier p and clears the others.
func (s *UserStore) SetPersistence(ctx context.Context, p storage.Persistence) error {
	if err := persistenceError(s.manager.Supports(p)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p == s.active {
		return nil
	}

	rec, err := s.getLocked(ctx, s.active)
	if err != nil {
		return err
	}
	if rec != nil {
		raw, err := rec.encode()
		if err != nil {
			return err
		}
		if err := s.manager.Set(ctx, currentUserKey(p), s.scope, raw); err != nil {
			return err
		}
	}

	s.logger.Debug("persistence changed", "from", s.active, "to", p)
	s.active = p
	return s.removeFromOthersLocked(ctx, p)
}

// SavePersistenceForRedirect records the active tier so the page receiving
// the redirect restores it.
func (s *UserStore) SavePersistenceForRedirect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager.Set(ctx, keyPersistence, s.scope, string(s.active))
}

// AddCurrentUserChangeListener calls fn when another instance writes the
// local-tier user. A user written there while another tier is active switches
// this store to local.
func (s *UserStore) AddCurrentUserChangeListener(fn func()) storage.ListenerID {
	return s.manager.AddListener(currentUserKey(storage.Local), s.scope, func() {
		s.switchToLocal()
		fn()
	})
}

// RemoveCurrentUserChangeListener unregisters a listener.
func (s *UserStore) RemoveCurrentUserChangeListener(id storage.ListenerID) {
	s.manager.RemoveListener(currentUserKey(storage.Local), s.scope, id)
}

func (s *UserStore) switchToLocal() {
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == storage.Local {
		return
	}
	// A removal on the local tier says nothing about where this user lives.
	rec, err := s.getLocked(ctx, storage.Local)
	if err != nil {
		s.logger.Warn("failed to read local storage after external change", "error", err)
		return
	}
	if rec == nil {
		return
	}
	s.logger.Debug("external change on local storage, switching persistence", "from", s.active)
	s.active = storage.Local
	if err := s.removeFromOthersLocked(ctx, storage.Local); err != nil {
		s.logger.Warn("failed to clear other storage tiers", "error", err)
	}
}

// ============================================================================
// Redirect Stores
// ============================================================================

// RedirectUserStore holds the user written just before a redirect. Reading it
// consumes it.
type RedirectUserStore struct {
	manager *storage.Manager
	scope   string
}

func NewRedirectUserStore(m *storage.Manager, scope string) *RedirectUserStore {
	return &RedirectUserStore{manager: m, scope: scope}
}

func (s *RedirectUserStore) SetRedirectUser(ctx context.Context, rec *Record) error {
	raw, err := rec.encode()
	if err != nil {
		return err
	}
	return s.manager.Set(ctx, keyRedirectUser, s.scope, raw)
}

// GetRedirectUser returns the redirect user and deletes it.
func (s *RedirectUserStore) GetRedirectUser(ctx context.Context) (*Record, error) {
	raw, ok, err := s.manager.Get(ctx, keyRedirectUser, s.scope)
	if err != nil || !ok {
		return nil, err
	}
	if err := s.manager.Remove(ctx, keyRedirectUser, s.scope); err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

func (s *RedirectUserStore) RemoveRedirectUser(ctx context.Context) error {
	return s.manager.Remove(ctx, keyRedirectUser, s.scope)
}

// PendingRedirectStore flags that a redirect was started and its result is
// expected on the next load.
type PendingRedirectStore struct {
	manager *storage.Manager
	scope   string
}

func NewPendingRedirectStore(m *storage.Manager, scope string) *PendingRedirectStore {
	return &PendingRedirectStore{manager: m, scope: scope}
}

func (s *PendingRedirectStore) SetPending(ctx context.Context) error {
	return s.manager.Set(ctx, keyPendingRedirect, s.scope, "pending")
}

func (s *PendingRedirectStore) IsPending(ctx context.Context) (bool, error) {
	_, ok, err := s.manager.Get(ctx, keyPendingRedirect, s.scope)
	return ok, err
}

func (s *PendingRedirectStore) RemovePending(ctx context.Context) error {
	return s.manager.Remove(ctx, keyPendingRedirect, s.scope)
}
