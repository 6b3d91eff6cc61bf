package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authstate/pkg/clockx"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
)

// DefaultPollInterval is how often the local tier is re-read when native change
// events cannot be relied on.
const DefaultPollInterval = 1000 * time.Millisecond

// StaleEventDelay is the re-read delay used on platforms whose change events
// arrive before the new value is readable.
const StaleEventDelay = 10 * time.Millisecond

// NativeMode controls how the Manager uses a backend's ChangeNotifier.
type NativeMode int

const (
	// NativeAuto uses native events when the local backend provides them and
	// polls otherwise.
	NativeAuto NativeMode = iota
	// NativeUnreliable arms both native events and polling; whichever sees a
	// change first disables the other.
	NativeUnreliable
	// NativeOff always polls.
	NativeOff
)

// Options configures a Manager. The zero value is usable: every tier is
// in-memory and nothing is shared.
type Options struct {
	Local   Backend
	Session Backend

	// Unsupported lists tiers the environment cannot provide. Selecting one
	// fails with ErrUnsupportedPersistence.
	Unsupported []Persistence

	NativeEvents NativeMode
	PollInterval time.Duration

	// StaleEventDelay defers processing of native events so the live value
	// is re-read after it settles. Zero processes events immediately.
	StaleEventDelay time.Duration

	Clock  clockx.Clock
	Logger *slog.Logger
}

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

// Listener is invoked after an external write to the key it was registered on.
type Listener func()

type listenerEntry struct {
	id ListenerID
	fn Listener
}

type cachedValue struct {
	value   string
	present bool
}

// source tags which detection mechanism observed a change.
type source int

const (
	sourcePoll source = iota
	sourceNative
)

// Manager namespaces keys across the three tiers and synchronizes the local
// tier with writes made by other instances sharing its backend.
type Manager struct {
	tiers       map[Persistence]Backend
	unsupported map[Persistence]bool
	notifier    ChangeNotifier
	mode        NativeMode
	interval    time.Duration
	staleDelay  time.Duration
	clock       clockx.Clock
	logger      *slog.Logger

	mu           sync.Mutex
	listeners    map[string][]listenerEntry
	nextID       ListenerID
	cache        map[string]cachedValue
	running      bool
	pollTimer    clockx.Timer
	polling      bool
	cancelNative func()
	closed       bool
}

// NewManager builds a Manager. Backends that implement Pinger and fail their
// ping are replaced with memory, so the tier keeps working but is no longer
// shared.
func NewManager(ctx context.Context, opts Options) *Manager {
	m := &Manager{
		tiers:       make(map[Persistence]Backend, 3),
		unsupported: make(map[Persistence]bool),
		mode:        opts.NativeEvents,
		interval:    opts.PollInterval,
		staleDelay:  opts.StaleEventDelay,
		clock:       opts.Clock,
		logger:      opts.Logger,
		listeners:   make(map[string][]listenerEntry),
		cache:       make(map[string]cachedValue),
	}
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	if m.clock == nil {
		m.clock = clockx.Real{}
	}
	if m.logger == nil {
		m.logger = slogx.Discard()
	}
	for _, p := range opts.Unsupported {
		m.unsupported[p] = true
	}

	m.tiers[Local] = m.usable(ctx, Local, opts.Local)
	m.tiers[Session] = m.usable(ctx, Session, opts.Session)
	m.tiers[None] = NewMemoryBackend()

	if n, ok := m.tiers[Local].(ChangeNotifier); ok && m.mode != NativeOff {
		m.notifier = n
	}

	return m
}

func (m *Manager) usable(ctx context.Context, p Persistence, b Backend) Backend {
	if b == nil || m.unsupported[p] {
		return NewMemoryBackend()
	}
	if pinger, ok := b.(Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			m.logger.Warn("storage backend unavailable, falling back to memory",
				"persistence", p, "error", err)
			return NewMemoryBackend()
		}
	}
	return b
}

// Supports reports whether p can be selected in this environment.
func (m *Manager) Supports(p Persistence) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if m.unsupported[p] {
		return fmt.Errorf("%w: %q", ErrUnsupportedPersistence, string(p))
	}
	return nil
}

// Get reads key for the given app scope id.
func (m *Manager) Get(ctx context.Context, key Key, id string) (string, bool, error) {
	b, err := m.backend(key.Persistence)
	if err != nil {
		return "", false, err
	}
	return b.Get(ctx, key.FullName(id))
}

// Set writes key for the given app scope id. Local-tier writes update the
// change cache first so this Manager never notifies itself about them.
func (m *Manager) Set(ctx context.Context, key Key, id, value string) error {
	b, err := m.backend(key.Persistence)
	if err != nil {
		return err
	}

	full := key.FullName(id)
	restore := m.remember(key.Persistence, full, cachedValue{value: value, present: true})
	if err := b.Set(ctx, full, value); err != nil {
		restore()
		return fmt.Errorf("storage: set %s: %w", full, err)
	}
	return nil
}

// Remove deletes key for the given app scope id.
func (m *Manager) Remove(ctx context.Context, key Key, id string) error {
	b, err := m.backend(key.Persistence)
	if err != nil {
		return err
	}

	full := key.FullName(id)
	restore := m.remember(key.Persistence, full, cachedValue{})
	if err := b.Remove(ctx, full); err != nil {
		restore()
		return fmt.Errorf("storage: remove %s: %w", full, err)
	}
	return nil
}

func (m *Manager) backend(p Persistence) (Backend, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return m.tiers[p], nil
}

// remember records v as the last known value of a local-tier key and returns
// a func that undoes it.
func (m *Manager) remember(p Persistence, full string, v cachedValue) func() {
	if p != Local {
		return func() {}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.cache[full]
	m.cache[full] = v
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if had {
			m.cache[full] = prev
		} else {
			delete(m.cache, full)
		}
	}
}

// AddListener registers fn for external changes to key on the local tier. The
// first listener starts change detection.
func (m *Manager) AddListener(key Key, id string, fn Listener) ListenerID {
	full := key.FullName(id)

	// Reseed the cache from the live value whenever the key becomes tracked,
	// so the first detection pass does not report a change that happened
	// before registration.
	live, present, err := m.tiers[Local].Get(context.Background(), full)
	if err != nil {
		m.logger.Warn("failed to seed storage listener", "key", full, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	lid := m.nextID

	if _, tracked := m.listeners[full]; !tracked && err == nil {
		m.cache[full] = cachedValue{value: live, present: present}
	}
	m.listeners[full] = append(m.listeners[full], listenerEntry{id: lid, fn: fn})

	if !m.running && !m.closed {
		m.startLocked()
	}
	return lid
}

// RemoveListener unregisters a listener. Detection stops with the last one.
func (m *Manager) RemoveListener(key Key, id string, lid ListenerID) {
	full := key.FullName(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.listeners[full]
	for i, e := range entries {
		if e.id == lid {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(m.listeners, full)
	} else {
		m.listeners[full] = entries
	}

	if len(m.listeners) == 0 && m.running {
		m.stopLocked()
	}
}

// Close stops change detection. Later reads and writes return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.running {
		m.stopLocked()
	}
	clear(m.listeners)
	return nil
}

func (m *Manager) startLocked() {
	m.running = true

	if m.notifier != nil {
		cancel, err := m.notifier.Subscribe(context.Background(), m.handleNative)
		if err != nil {
			m.logger.Warn("native storage events unavailable, polling instead", "error", err)
		} else {
			m.cancelNative = cancel
		}
	}

	if m.cancelNative == nil || m.mode == NativeUnreliable {
		m.polling = true
		m.schedulePollLocked()
	}
}

func (m *Manager) stopLocked() {
	m.running = false
	m.stopPollingLocked()
	if m.cancelNative != nil {
		m.cancelNative()
		m.cancelNative = nil
	}
}

func (m *Manager) stopPollingLocked() {
	m.polling = false
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
}

func (m *Manager) schedulePollLocked() {
	m.pollTimer = m.clock.AfterFunc(m.interval, m.poll)
}

func (m *Manager) poll() {
	m.mu.Lock()
	if !m.polling || m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.recheckAll(sourcePoll)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.polling && !m.closed {
		m.schedulePollLocked()
	}
}

func (m *Manager) handleNative(c Change) {
	m.mu.Lock()
	if !m.running || m.closed || m.cancelNative == nil {
		m.mu.Unlock()
		return
	}
	// Native delivery works here, so the poller is redundant.
	if m.polling {
		m.stopPollingLocked()
	}
	m.mu.Unlock()

	if c.Key == "" {
		m.recheckAll(sourceNative)
		return
	}

	if !strings.HasPrefix(c.Key, Namespace+Separator) {
		return
	}

	m.mu.Lock()
	_, tracked := m.listeners[c.Key]
	m.mu.Unlock()
	if !tracked {
		return
	}

	if m.staleDelay > 0 {
		m.clock.AfterFunc(m.staleDelay, func() { m.recheck(c.Key, sourceNative) })
		return
	}
	m.recheck(c.Key, sourceNative)
}

func (m *Manager) recheckAll(src source) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.listeners))
	for k := range m.listeners {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.recheck(k, src)
	}
}

// recheck compares the live value of full against the cache and fires its
// listeners when they differ.
func (m *Manager) recheck(full string, src source) {
	live, present, err := m.tiers[Local].Get(context.Background(), full)
	if err != nil {
		m.logger.Warn("failed to read storage during sync", "key", full, "error", err)
		return
	}
	current := cachedValue{value: live, present: present}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	entries, tracked := m.listeners[full]
	if !tracked || m.cache[full] == current {
		m.mu.Unlock()
		return
	}
	m.cache[full] = current

	// Polling got there first, so native events are not reaching this
	// instance reliably.
	if src == sourcePoll && m.cancelNative != nil {
		m.cancelNative()
		m.cancelNative = nil
	}

	fns := make([]Listener, len(entries))
	for i, e := range entries {
		fns[i] = e.fn
	}
	m.mu.Unlock()

	m.logger.Debug("storage key changed externally", "key", full, "present", present)
	for _, fn := range fns {
		fn()
	}
}
