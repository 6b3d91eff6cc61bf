package storage

import (
	"context"
	"maps"
	"sync"
)

// MemoryBackend is a process-local Backend. It is the fallback for every tier
// that has no usable backend and the implementation of the "none" tier.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// SharedMemory is an in-memory store shared by several handles, the way one
// browser origin's storage is shared by its tabs. Each handle from Tab is a
// Backend and a ChangeNotifier that sees writes made by the other handles.
type SharedMemory struct {
	mu     sync.RWMutex
	values map[string]string
	nextID int
	subs   map[int]*memorySub
}

type memorySub struct {
	tab  *MemoryTab
	ch   chan Change
	done chan struct{}
}

// subscriberBuffer bounds how far a slow subscriber may lag before writers block.
const subscriberBuffer = 64

func NewSharedMemory() *SharedMemory {
	return &SharedMemory{
		values: make(map[string]string),
		subs:   make(map[int]*memorySub),
	}
}

// Tab returns a new handle onto the shared values.
func (s *SharedMemory) Tab() *MemoryTab {
	return &MemoryTab{shared: s}
}

// Snapshot copies the current contents. Mostly useful in tests.
func (s *SharedMemory) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Clear removes every value and notifies all handles with a null key.
func (s *SharedMemory) Clear() {
	s.mu.Lock()
	clear(s.values)
	s.mu.Unlock()

	s.publish(nil, Change{})
}

func (s *SharedMemory) publish(from *MemoryTab, c Change) {
	s.mu.RLock()
	targets := make([]*memorySub, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.tab != from {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- c:
		case <-sub.done:
		}
	}
}

// MemoryTab is one handle onto a SharedMemory.
type MemoryTab struct {
	shared *SharedMemory
}

func (t *MemoryTab) Get(_ context.Context, key string) (string, bool, error) {
	t.shared.mu.RLock()
	defer t.shared.mu.RUnlock()
	v, ok := t.shared.values[key]
	return v, ok, nil
}

func (t *MemoryTab) Set(_ context.Context, key, value string) error {
	t.shared.mu.Lock()
	t.shared.values[key] = value
	t.shared.mu.Unlock()

	t.shared.publish(t, Change{Key: key})
	return nil
}

func (t *MemoryTab) Remove(_ context.Context, key string) error {
	t.shared.mu.Lock()
	_, existed := t.shared.values[key]
	delete(t.shared.values, key)
	t.shared.mu.Unlock()

	if existed {
		t.shared.publish(t, Change{Key: key})
	}
	return nil
}

// Subscribe delivers changes made by other tabs to fn, in order, on a
// dedicated goroutine. Delivery stops when ctx is done or cancel is called.
func (t *MemoryTab) Subscribe(ctx context.Context, fn func(Change)) (func(), error) {
	s := t.shared
	done := make(chan struct{})
	sub := &memorySub{tab: t, ch: make(chan Change, subscriberBuffer), done: done}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-sub.ch:
				fn(c)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			stop()
		})
	}

	// Unregister when the caller's context ends, not only on cancel.
	go func() {
		<-done
		cancel()
	}()

	return cancel, nil
}
