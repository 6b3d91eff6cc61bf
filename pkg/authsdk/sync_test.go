package authsdk

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/pkg/clockx"
	"github.com/aussiebroadwan/authstate/pkg/storage"
	"github.com/stretchr/testify/require"
)

// countingBackend counts writes reaching the wrapped backend.
type countingBackend struct {
	storage.Backend
	writes atomic.Int32
}

func (b *countingBackend) Set(ctx context.Context, key, value string) error {
	b.writes.Add(1)
	return b.Backend.Set(ctx, key, value)
}

func (b *countingBackend) Remove(ctx context.Context, key string) error {
	b.writes.Add(1)
	return b.Backend.Remove(ctx, key)
}

type tabs struct {
	gateway *fakeGateway
	clock   *clockx.Fake
	shared  *storage.SharedMemory
}

func newTabs() *tabs {
	return &tabs{gateway: newFakeGateway(), clock: newTestClock(), shared: storage.NewSharedMemory()}
}

// open starts an Auth on a new handle onto the shared local tier.
func (ts *tabs) open(t *testing.T, mode storage.NativeMode, local storage.Backend) *Auth {
	t.Helper()
	if local == nil {
		local = ts.shared.Tab()
	}
	m := storage.NewManager(context.Background(), storage.Options{
		Local:        local,
		NativeEvents: mode,
		Clock:        ts.clock,
	})
	t.Cleanup(func() { _ = m.Close() })

	return start(t, Config{
		APIKey:  testAPIKey,
		Gateway: ts.gateway,
		Storage: m,
		Clock:   ts.clock,
	})
}

// Sign-out in one tab reaches the other on the next poll.
func TestSignOutPropagatesByPolling(t *testing.T) {
	t.Parallel()

	ts := newTabs()
	ts.gateway.addUser("abc", "ann@example.com", "hunter22")
	tab1 := ts.open(t, storage.NativeOff, nil)
	tab2 := ts.open(t, storage.NativeOff, nil)
	ctx := context.Background()

	var rec userRecorder
	tab2.OnAuthStateChanged(rec.observe)
	tab2.queue.flush()
	rec.reset()

	_, err := tab1.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	require.Nil(t, tab2.CurrentUser())

	ts.clock.Advance(storage.DefaultPollInterval)
	tab2.queue.flush()
	require.Equal(t, "abc", uidOf(tab2.CurrentUser()))
	require.Equal(t, []string{"abc"}, rec.get())

	require.NoError(t, tab1.SignOut(ctx))
	ts.clock.Advance(storage.DefaultPollInterval - time.Millisecond)
	require.NotNil(t, tab2.CurrentUser())

	ts.clock.Advance(time.Millisecond)
	tab2.queue.flush()
	require.Nil(t, tab2.CurrentUser())
	require.Equal(t, []string{"abc", ""}, rec.get())
}

// Sign-out in one tab reaches the other through change events.
func TestSignOutPropagatesByNativeEvents(t *testing.T) {
	t.Parallel()

	ts := newTabs()
	ts.gateway.addUser("abc", "ann@example.com", "hunter22")
	tab1 := ts.open(t, storage.NativeAuto, nil)
	tab2 := ts.open(t, storage.NativeAuto, nil)
	ctx := context.Background()

	var rec userRecorder
	tab2.OnAuthStateChanged(rec.observe)

	_, err := tab1.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return uidOf(tab2.CurrentUser()) == "abc" }, 5*time.Second, time.Millisecond)

	require.NoError(t, tab1.SignOut(ctx))
	require.Eventually(t, func() bool { return tab2.CurrentUser() == nil }, 5*time.Second, time.Millisecond)

	tab2.queue.flush()
	require.Equal(t, []string{"", "abc", ""}, rec.get())
}

func TestClearedStorageSignsOutEveryTab(t *testing.T) {
	t.Parallel()

	ts := newTabs()
	ts.gateway.addUser("abc", "ann@example.com", "hunter22")
	tab1 := ts.open(t, storage.NativeAuto, nil)
	tab2 := ts.open(t, storage.NativeAuto, nil)

	_, err := tab1.SignInWithEmailAndPassword(context.Background(), "ann@example.com", "hunter22")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tab2.CurrentUser() != nil }, 5*time.Second, time.Millisecond)

	ts.shared.Clear()
	require.Eventually(t, func() bool {
		return tab1.CurrentUser() == nil && tab2.CurrentUser() == nil
	}, 5*time.Second, time.Millisecond)
}

func TestTokenRefreshInOtherTabIsAdopted(t *testing.T) {
	t.Parallel()

	ts := newTabs()
	ts.gateway.addUser("abc", "ann@example.com", "hunter22")
	tab1 := ts.open(t, storage.NativeOff, nil)
	local := &countingBackend{Backend: ts.shared.Tab()}
	tab2 := ts.open(t, storage.NativeOff, local)
	ctx := context.Background()

	_, err := tab1.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	ts.clock.Advance(storage.DefaultPollInterval)
	followed := tab2.CurrentUser()
	require.NotNil(t, followed)

	var authRec, tokenRec userRecorder
	tab2.OnAuthStateChanged(authRec.observe)
	tab2.OnIDTokenChanged(tokenRec.observe)
	tab2.queue.flush()
	authRec.reset()
	tokenRec.reset()

	token, err := tab1.CurrentUser().GetIDToken(ctx, true)
	require.NoError(t, err)

	writes := local.writes.Load()
	ts.clock.Advance(storage.DefaultPollInterval)
	tab2.queue.flush()

	require.Same(t, followed, tab2.CurrentUser())
	require.Equal(t, token, tab2.CurrentUser().accessToken())
	require.Empty(t, authRec.get())
	require.Equal(t, []string{"abc"}, tokenRec.get())

	// Following another tab never writes back.
	require.Equal(t, writes, local.writes.Load())
}

// The second sign out does not touch storage.
func TestRepeatedSignOutSkipsStorage(t *testing.T) {
	t.Parallel()

	ts := newTabs()
	ts.gateway.addUser("abc", "ann@example.com", "hunter22")
	local := &countingBackend{Backend: storage.NewMemoryBackend()}
	a := ts.open(t, storage.NativeOff, local)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, a.SignOut(ctx))

	writes := local.writes.Load()
	require.NoError(t, a.SignOut(ctx))
	require.Equal(t, writes, local.writes.Load())
}
