package authsdk

import (
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

type observer[T any] struct {
	fn     func(T)
	active atomic.Bool
}

func newObserver[T any](fn func(T)) *observer[T] {
	o := &observer[T]{fn: fn}
	o.active.Store(true)
	return o
}

func (o *observer[T]) call(v T) {
	if o.active.Load() {
		o.fn(v)
	}
}

func removeObserver[T any](list []*observer[T], o *observer[T]) []*observer[T] {
	return slices.DeleteFunc(list, func(x *observer[T]) bool { return x == o })
}

// ============================================================================
// Auth State
// ============================================================================

// OnAuthStateChanged registers fn to be called with the current user whenever
// the signed-in uid changes, including to and from nil. Token refreshes for
// the same uid do not call it. Once state is resolved fn is also called once
// with the current user shortly after registering. It returns the func that
// unregisters fn.
//
// Observers run one at a time on an internal goroutine, in registration
// order.
func (a *Auth) OnAuthStateChanged(fn func(*User)) func() {
	return a.addUserObserver(&a.authObservers, fn)
}

// OnIDTokenChanged is OnAuthStateChanged, but fn is also called whenever the
// current user's ID token changes.
func (a *Auth) OnIDTokenChanged(fn func(*User)) func() {
	return a.addUserObserver(&a.tokenObservers, fn)
}

func (a *Auth) addUserObserver(list *[]*observer[*User], fn func(*User)) func() {
	o := newObserver(fn)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.deleted {
		return func() {}
	}
	*list = append(*list, o)
	if a.resolved {
		user := a.current
		a.queue.push(func() { o.call(user) })
	}

	return func() {
		o.active.Store(false)
		a.mu.Lock()
		defer a.mu.Unlock()
		*list = removeObserver(*list, o)
	}
}

// notify tells observers the current user changed. Token observers are
// always called; auth state observers only when the uid differs from the one
// they last saw. Nothing is sent before state is resolved.
func (a *Auth) notify(tokenChanged bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.resolved || a.deleted {
		return
	}

	user := a.current
	uid := uidOf(user)
	uidChanged := uid != a.lastUID
	a.lastUID = uid
	if !uidChanged && !tokenChanged {
		return
	}

	tokens := slices.Clone(a.tokenObservers)
	var auths []*observer[*User]
	if uidChanged {
		auths = slices.Clone(a.authObservers)
	}
	if len(tokens) == 0 && len(auths) == 0 {
		return
	}

	a.queue.push(func() {
		for _, o := range tokens {
			o.call(user)
		}
		for _, o := range auths {
			o.call(user)
		}
	})
}

// fireAllLocked sends the resolved state to every observer registered during
// startup. a.mu must be held.
func (a *Auth) fireAllLocked() {
	user := a.current
	tokens := slices.Clone(a.tokenObservers)
	auths := slices.Clone(a.authObservers)
	a.queue.push(func() {
		for _, o := range tokens {
			o.call(user)
		}
		for _, o := range auths {
			o.call(user)
		}
	})
}

// ============================================================================
// Language and Frameworks
// ============================================================================

// SetLanguageCode sets the language of emails and SMS sent on the user's
// behalf. An empty code resets to the backend default.
func (a *Auth) SetLanguageCode(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if code == a.languageCode {
		return
	}
	a.languageCode = code
	if a.current != nil {
		a.current.setLanguageCode(code)
	}
	obs := slices.Clone(a.langObservers)
	a.queue.push(func() {
		for _, o := range obs {
			o.call(code)
		}
	})
}

func (a *Auth) LanguageCode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.languageCode
}

// UseDeviceLanguage sets the language code from the process locale.
func (a *Auth) UseDeviceLanguage() {
	a.SetLanguageCode(deviceLanguage())
}

// deviceLanguage converts a POSIX locale such as "en_AU.UTF-8" into a BCP 47
// tag.
func deviceLanguage() string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(name)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}

// OnLanguageCodeChanged registers fn for language code changes.
func (a *Auth) OnLanguageCodeChanged(fn func(string)) func() {
	o := newObserver(fn)

	a.mu.Lock()
	a.langObservers = append(a.langObservers, o)
	a.mu.Unlock()

	return func() {
		o.active.Store(false)
		a.mu.Lock()
		defer a.mu.Unlock()
		a.langObservers = removeObserver(a.langObservers, o)
	}
}

// LogFramework records a framework built on this instance. The list is kept
// sorted and free of duplicates.
func (a *Auth) LogFramework(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if name == "" || slices.Contains(a.frameworks, name) {
		return
	}
	a.frameworks = append(a.frameworks, name)
	slices.Sort(a.frameworks)
	if a.current != nil {
		a.current.setFrameworks(a.frameworks)
	}

	fw := slices.Clone(a.frameworks)
	obs := slices.Clone(a.fwObservers)
	a.queue.push(func() {
		for _, o := range obs {
			o.call(slices.Clone(fw))
		}
	})
}

func (a *Auth) Frameworks() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.frameworks)
}

// OnFrameworkChanged registers fn for changes to the framework list.
func (a *Auth) OnFrameworkChanged(fn func([]string)) func() {
	o := newObserver(fn)

	a.mu.Lock()
	a.fwObservers = append(a.fwObservers, o)
	a.mu.Unlock()

	return func() {
		o.active.Store(false)
		a.mu.Lock()
		defer a.mu.Unlock()
		a.fwObservers = removeObserver(a.fwObservers, o)
	}
}
