// Package storage is the key/value persistence layer behind the SDK's session
// state. It exposes three tiers (local, session, none), each backed by a
// Backend, and a Manager that namespaces keys and watches the shared local
// tier for writes made by other instances.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Namespace prefixes every key written through a Manager.
const Namespace = "authstate"

// Separator joins the parts of a fully qualified key.
const Separator = ":"

var (
	ErrInvalidPersistence     = errors.New("storage: invalid persistence type")
	ErrUnsupportedPersistence = errors.New("storage: persistence type not supported in this environment")
	ErrClosed                 = errors.New("storage: manager closed")
)

// Persistence selects the storage tier a value lives in.
type Persistence string

const (
	// Local survives process restarts and is shared by every instance
	// pointed at the same backend.
	Local Persistence = "local"
	// Session survives a reload of the current instance only.
	Session Persistence = "session"
	// None keeps values in memory for the lifetime of the Manager.
	None Persistence = "none"
)

// Validate reports ErrInvalidPersistence for anything outside the three tiers.
func (p Persistence) Validate() error {
	switch p {
	case Local, Session, None:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPersistence, string(p))
	}
}

func (p Persistence) String() string { return string(p) }

// Key names a logical value and the tier it is stored in.
type Key struct {
	Name        string
	Persistence Persistence
}

// FullName returns the namespaced key for the given app scope id:
// "authstate:{name}:{id}", or "authstate:{name}" when id is empty.
func (k Key) FullName(id string) string {
	name := Namespace + Separator + k.Name
	if id != "" {
		name += Separator + id
	}
	return name
}

// Backend is the contract every tier implementation satisfies.
type Backend interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Change describes a write observed on a shared backend. An empty Key means the
// whole backend was cleared.
type Change struct {
	Key string
}

// ChangeNotifier is implemented by backends that can push writes made by other
// instances. Writes made through the subscribing handle itself are not
// delivered.
type ChangeNotifier interface {
	Subscribe(ctx context.Context, fn func(Change)) (cancel func(), err error)
}

// Pinger is implemented by backends that can report whether they are usable.
type Pinger interface {
	Ping(ctx context.Context) error
}
