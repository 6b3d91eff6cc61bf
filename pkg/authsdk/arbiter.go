package authsdk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authstate/pkg/clockx"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
)

const (
	// DefaultPopupTimeout bounds how long a popup attempt waits for its event.
	DefaultPopupTimeout = 2 * time.Minute

	windowPollInterval = time.Second
	windowClosedGrace  = 2 * time.Second
)

// assertionSink is the sign-in completion path an Arbiter hands verified
// provider responses to.
type assertionSink interface {
	// prepareAssertion adds what the flow needs to req, such as the ID token
	// of the user being linked.
	prepareAssertion(ctx context.Context, ev *AuthEvent, req *VerifyAssertionRequest) error
	applyAssertion(ctx context.Context, ev *AuthEvent, resp *IDTokenResponse) (*UserCredential, error)
}

type outcome struct {
	cred *UserCredential
	err  error
}

// pendingOperation is one outstanding popup attempt. Its fields are guarded by
// the owning Arbiter's mutex.
type pendingOperation struct {
	eventType EventType
	eventID   string
	result    chan outcome

	window   Window
	timeout  clockx.Timer
	watcher  clockx.Timer
	handling bool
	settled  bool
}

// Arbiter correlates popup and redirect completions with the attempts that
// started them. At most one popup attempt is outstanding at a time.
type Arbiter struct {
	gateway   Gateway
	sink      assertionSink
	clock     clockx.Clock
	logger    *slog.Logger
	timeout   time.Duration
	newID     func() string
	processed *processedEvents

	mu           sync.Mutex
	popup        *pendingOperation
	redirect     *outcome
	redirectDone chan struct{}
	detached     bool
}

func newArbiter(gateway Gateway, sink assertionSink, clock clockx.Clock, logger *slog.Logger, timeout time.Duration, newID func() string) *Arbiter {
	if logger == nil {
		logger = slogx.Discard()
	}
	if timeout <= 0 {
		timeout = DefaultPopupTimeout
	}
	return &Arbiter{
		gateway:      gateway,
		sink:         sink,
		clock:        clock,
		logger:       logger,
		timeout:      timeout,
		newID:        newID,
		processed:    newProcessedEvents(),
		redirectDone: make(chan struct{}),
	}
}

// ============================================================================
// Popups
// ============================================================================

// StartPopup registers a popup attempt of type t, rejecting any attempt still
// outstanding with ErrExpiredPopupRequest first. open is called with the new
// event id and must show the provider page. StartPopup blocks until the
// attempt settles or ctx is done.
func (a *Arbiter) StartPopup(ctx context.Context, t EventType, open func(eventID string) (Window, error)) (*UserCredential, error) {
	if t.Mode() != ModePopup {
		return nil, ErrArgument.WithMessage("not a popup event type: " + string(t))
	}

	op := &pendingOperation{eventType: t, eventID: a.newID(), result: make(chan outcome, 1)}

	a.mu.Lock()
	if a.detached {
		a.mu.Unlock()
		return nil, ErrModuleDestroyed
	}
	prev := a.popup
	a.popup = op
	var prevWindow Window
	var prevTimers []clockx.Timer
	if prev != nil {
		prevWindow, prevTimers = a.settleLocked(prev)
	}
	a.mu.Unlock()

	if prev != nil {
		a.logger.Debug("popup superseded", "event_id", prev.eventID, "by", op.eventID)
		a.finish(prev, prevWindow, prevTimers, outcome{err: ErrExpiredPopupRequest})
	}

	w, err := open(op.eventID)
	if err != nil {
		a.settle(op, outcome{err: err})
		return a.wait(ctx, op)
	}

	a.mu.Lock()
	if op.settled {
		// Superseded while the window was opening.
		a.mu.Unlock()
		if w != nil {
			w.Close()
		}
		return a.wait(ctx, op)
	}
	op.window = w
	op.timeout = a.clock.AfterFunc(a.timeout, func() { a.expire(op, ErrTimeout) })
	if w != nil {
		op.watcher = a.clock.AfterFunc(windowPollInterval, func() { a.checkWindow(op) })
	}
	a.mu.Unlock()

	return a.wait(ctx, op)
}

func (a *Arbiter) wait(ctx context.Context, op *pendingOperation) (*UserCredential, error) {
	select {
	case out := <-op.result:
		return out.cred, out.err
	case <-ctx.Done():
		a.settle(op, outcome{err: context.Cause(ctx)})
		return nil, context.Cause(ctx)
	}
}

// checkWindow polls the popup window. Once it reports closed the attempt is
// given a short grace period for an in-flight event before being rejected.
func (a *Arbiter) checkWindow(op *pendingOperation) {
	a.mu.Lock()
	if op.settled || op.window == nil {
		a.mu.Unlock()
		return
	}
	w := op.window
	a.mu.Unlock()

	closed := w.Closed()

	a.mu.Lock()
	defer a.mu.Unlock()
	if op.settled {
		return
	}
	if closed {
		op.watcher = a.clock.AfterFunc(windowClosedGrace, func() { a.expire(op, ErrPopupClosedByUser) })
		return
	}
	op.watcher = a.clock.AfterFunc(windowPollInterval, func() { a.checkWindow(op) })
}

// settleLocked marks op settled and detaches it, returning what finish must
// release. a.mu must be held.
func (a *Arbiter) settleLocked(op *pendingOperation) (Window, []clockx.Timer) {
	op.settled = true
	if a.popup == op {
		a.popup = nil
	}
	var timers []clockx.Timer
	if op.timeout != nil {
		timers = append(timers, op.timeout)
	}
	if op.watcher != nil {
		timers = append(timers, op.watcher)
	}
	return op.window, timers
}

// settle resolves op once. Later calls are ignored.
func (a *Arbiter) settle(op *pendingOperation, out outcome) bool {
	a.mu.Lock()
	if op.settled {
		a.mu.Unlock()
		return false
	}
	w, timers := a.settleLocked(op)
	a.mu.Unlock()

	a.finish(op, w, timers, out)
	return true
}

// expire rejects op with err unless a matching event is already being
// applied, in which case that event decides the outcome.
func (a *Arbiter) expire(op *pendingOperation, err error) {
	a.mu.Lock()
	if op.settled || op.handling {
		a.mu.Unlock()
		return
	}
	w, timers := a.settleLocked(op)
	a.mu.Unlock()

	a.finish(op, w, timers, outcome{err: err})
}

// finish closes the window, then stops the timers, then delivers the result.
func (a *Arbiter) finish(op *pendingOperation, w Window, timers []clockx.Timer, out outcome) {
	if w != nil {
		w.Close()
	}
	for _, t := range timers {
		t.Stop()
	}
	op.result <- out
}

// ============================================================================
// Events
// ============================================================================

// CanHandle reports whether an event of type t with the given id would be
// accepted. Popup events must match the outstanding attempt; redirect and
// unknown events are always accepted.
func (a *Arbiter) CanHandle(t EventType, eventID string) bool {
	switch t.Mode() {
	case ModePopup:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.popup != nil && !a.popup.handling && a.popup.eventType == t && a.popup.eventID == eventID
	case ModeRedirect:
		return true
	}
	return t == EventUnknown
}

// HandleEvent processes a completion delivered by the provider handler. It
// reports whether the event was consumed. Events already handled within the
// dedup window, and popup events for attempts that have settled, are dropped.
func (a *Arbiter) HandleEvent(ctx context.Context, ev *AuthEvent) bool {
	if ev == nil {
		return false
	}
	now := a.clock.Now()

	switch ev.Type.Mode() {
	case ModePopup:
		a.mu.Lock()
		op := a.popup
		if op == nil || op.handling || op.eventType != ev.Type || op.eventID != ev.EventID {
			a.mu.Unlock()
			a.logger.Debug("no popup waiting for event", "type", ev.Type, "event_id", ev.EventID)
			return false
		}
		if !a.processed.claim(ev, now) {
			a.mu.Unlock()
			a.logger.Debug("dropping duplicate auth event", "type", ev.Type, "event_id", ev.EventID)
			return false
		}
		op.handling = true
		a.mu.Unlock()

		if ev.Error != nil {
			a.settle(op, outcome{err: ev.Error})
			return true
		}
		cred, err := a.finishAttempt(ctx, ev)
		if !a.settle(op, outcome{cred: cred, err: err}) {
			a.logger.Info("popup settled before its event completed", "event_id", ev.EventID)
		}
		return true

	case ModeRedirect:
		if !a.processed.claim(ev, now) {
			a.logger.Debug("dropping duplicate auth event", "type", ev.Type, "event_id", ev.EventID)
			return false
		}
		a.completeRedirect(ctx, ev)
		return true
	}

	if ev.Type != EventUnknown {
		return false
	}
	if !a.processed.claim(ev, now) {
		a.logger.Debug("dropping duplicate auth event", "type", ev.Type, "event_id", ev.EventID)
		return false
	}
	if ev.Error != nil && !ev.Error.Is(ErrNoAuthEvent) {
		a.recordRedirect(outcome{err: ev.Error})
	} else {
		a.recordRedirect(outcome{})
	}
	return true
}

// finishAttempt exchanges the event payload for a verified token response and
// applies it to the session.
func (a *Arbiter) finishAttempt(ctx context.Context, ev *AuthEvent) (*UserCredential, error) {
	req := &VerifyAssertionRequest{
		RequestURI: ev.URL,
		SessionID:  ev.SessionID,
		PostBody:   ev.PostBody,
		TenantID:   ev.TenantID,
	}
	if err := a.sink.prepareAssertion(ctx, ev, req); err != nil {
		return nil, err
	}
	resp, err := a.gateway.VerifyAssertion(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.sink.applyAssertion(ctx, ev, resp)
}

// ============================================================================
// Redirects
// ============================================================================

func (a *Arbiter) completeRedirect(ctx context.Context, ev *AuthEvent) {
	if ev.Error != nil {
		a.recordRedirect(outcome{err: ev.Error})
		return
	}
	cred, err := a.finishAttempt(ctx, ev)
	a.recordRedirect(outcome{cred: cred, err: err})
}

// recordRedirect stores the redirect result of this instance. The first
// result wins.
func (a *Arbiter) recordRedirect(out outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.redirect != nil {
		a.logger.Debug("redirect result already recorded, ignoring", "error", out.err)
		return
	}
	a.redirect = &out
	close(a.redirectDone)
}

// resolveInitialRedirect settles the redirect result on startup. With no
// redirect pending the result is an empty credential; a pending redirect
// without an event stays open for a later HandleEvent.
func (a *Arbiter) resolveInitialRedirect(ctx context.Context, pending bool, ev *AuthEvent) (*UserCredential, error) {
	switch {
	case ev != nil:
		if !a.HandleEvent(ctx, ev) {
			return nil, nil
		}
	case !pending:
		a.recordRedirect(outcome{cred: &UserCredential{}})
	default:
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.redirect == nil {
		return nil, nil
	}
	return a.redirect.cred, a.redirect.err
}

// RedirectResult waits for the redirect result of this instance.
func (a *Arbiter) RedirectResult(ctx context.Context) (*UserCredential, error) {
	select {
	case <-a.redirectDone:
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.redirect.cred, a.redirect.err
}

// Detach rejects the outstanding popup with ErrModuleDestroyed and refuses
// new attempts.
func (a *Arbiter) Detach() {
	a.mu.Lock()
	a.detached = true
	op := a.popup
	a.mu.Unlock()

	if op != nil {
		a.settle(op, outcome{err: ErrModuleDestroyed})
	}
}
