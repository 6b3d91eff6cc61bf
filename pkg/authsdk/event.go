package authsdk

import (
	"sync"
	"time"
)

// EventType names the flow an auth event completes.
type EventType string

const (
	EventSignInViaPopup    EventType = "signInViaPopup"
	EventLinkViaPopup      EventType = "linkViaPopup"
	EventReauthViaPopup    EventType = "reauthViaPopup"
	EventSignInViaRedirect EventType = "signInViaRedirect"
	EventLinkViaRedirect   EventType = "linkViaRedirect"
	EventReauthViaRedirect EventType = "reauthViaRedirect"
	EventUnknown           EventType = "unknown"
)

// Mode is the delivery channel of an event.
type Mode int

const (
	ModeUnknown Mode = iota
	ModePopup
	ModeRedirect
)

func (t EventType) Mode() Mode {
	switch t {
	case EventSignInViaPopup, EventLinkViaPopup, EventReauthViaPopup:
		return ModePopup
	case EventSignInViaRedirect, EventLinkViaRedirect, EventReauthViaRedirect:
		return ModeRedirect
	}
	return ModeUnknown
}

// Operation returns the kind of credential operation t performs.
func (t EventType) Operation() OperationType {
	switch t {
	case EventLinkViaPopup, EventLinkViaRedirect:
		return OperationLink
	case EventReauthViaPopup, EventReauthViaRedirect:
		return OperationReauthenticate
	}
	return OperationSignIn
}

// AuthEvent is the completion of a popup or redirect flow, as delivered by the
// provider handler page.
type AuthEvent struct {
	Type    EventType `json:"type"`
	EventID string    `json:"eventId,omitempty"`

	// URL is the handler URL the provider returned to, passed to the backend
	// as the assertion's request URI.
	URL       string `json:"urlResponse,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	PostBody  string `json:"postBody,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`

	// Error is set when the flow failed at the provider.
	Error *AuthError `json:"error,omitempty"`
}

func (e *AuthEvent) key() string {
	return string(e.Type) + "|" + e.EventID + "|" + e.SessionID
}

// eventDedupWindow is how long a processed event is remembered.
const eventDedupWindow = 10 * time.Minute

// processedEvents remembers recently handled events so a redelivered one is
// not applied twice.
type processedEvents struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newProcessedEvents() *processedEvents {
	return &processedEvents{seen: make(map[string]time.Time)}
}

// claim records ev as handled at now. It reports false when ev was already
// handled within the dedup window. Events with no ids are never deduplicated.
func (p *processedEvents) claim(ev *AuthEvent, now time.Time) bool {
	if ev.EventID == "" && ev.SessionID == "" {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for k, at := range p.seen {
		if now.Sub(at) >= eventDedupWindow {
			delete(p.seen, k)
		}
	}
	key := ev.key()
	if _, ok := p.seen[key]; ok {
		return false
	}
	p.seen[key] = now
	return true
}
