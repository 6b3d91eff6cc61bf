package authsdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/pkg/storage"
	"github.com/stretchr/testify/require"
)

// seedStoredUser signs uid in on a throwaway instance so its record is left
// in the harness storage.
func (h *harness) seedStoredUser(t *testing.T, uid, email, password string) {
	t.Helper()
	h.gateway.addUser(uid, email, password)

	seed, err := New(h.config())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, seed.Ready(ctx))
	_, err = seed.SignInWithEmailAndPassword(ctx, email, password)
	require.NoError(t, err)
	require.NoError(t, seed.Delete(ctx))
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Gateway: newFakeGateway()})
	require.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = New(Config{APIKey: testAPIKey})
	require.ErrorIs(t, err, ErrArgument)
}

func TestFreshInstanceFiresOnceWithNoUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, err := New(h.config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Delete(context.Background()) })

	var rec userRecorder
	a.OnAuthStateChanged(rec.observe)

	require.NoError(t, a.Ready(context.Background()))
	a.queue.flush()

	require.Equal(t, []string{""}, rec.get())
	require.Nil(t, a.CurrentUser())
}

func TestStartupRestoresRevalidatedUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedStoredUser(t, "abc", "ann@example.com", "hunter22")
	lookups := h.gateway.callCount("GetAccountInfo")

	a, err := New(h.config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Delete(context.Background()) })

	var rec userRecorder
	a.OnAuthStateChanged(rec.observe)
	require.NoError(t, a.Ready(context.Background()))
	a.queue.flush()

	require.NotNil(t, a.CurrentUser())
	require.Equal(t, "abc", a.CurrentUser().UID())
	require.Equal(t, "ann@example.com", a.CurrentUser().Email())
	require.Equal(t, []string{"abc"}, rec.get())
	require.Equal(t, lookups+1, h.gateway.callCount("GetAccountInfo"))
}

func TestStartupSavesRevalidatedUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedStoredUser(t, "abc", "ann@example.com", "hunter22")
	h.gateway.updateAccount("abc", func(info *AccountInfo) {
		info.DisplayName = "Fresh Name"
		info.EmailVerified = true
	})
	// The stored token has expired, so revalidation refreshes it.
	h.clock.Advance(2 * time.Hour)

	a := h.start(t)
	ctx := context.Background()
	require.Equal(t, 1, h.gateway.callCount("RefreshToken"))

	u := a.CurrentUser()
	require.NotNil(t, u)
	require.Equal(t, "Fresh Name", u.DisplayName())
	require.True(t, u.EmailVerified())

	rec, err := a.users.GetCurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "Fresh Name", rec.DisplayName)
	require.True(t, rec.EmailVerified)
	require.Equal(t, u.accessToken(), rec.STSTokenManager.AccessToken)

	_, err = a.GetIDTokenInternal(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, h.gateway.callCount("RefreshToken"))
}

// A network failure during revalidation keeps the stored user.
func TestStartupKeepsCachedUserWhenOffline(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedStoredUser(t, "abc", "ann@example.com", "hunter22")
	h.gateway.setLookupErr(ErrNetworkRequestFailed)

	a := h.start(t)
	require.NotNil(t, a.CurrentUser())
	require.Equal(t, "abc", a.CurrentUser().UID())
}

func TestStartupEvictsRejectedUser(t *testing.T) {
	t.Parallel()

	for name, lookupErr := range map[string]error{
		"token expired": ErrTokenExpired,
		"invalid token": ErrInvalidUserToken,
		"user deleted":  ErrUserDeleted,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.seedStoredUser(t, "abc", "ann@example.com", "hunter22")
			h.gateway.setLookupErr(lookupErr)

			a := h.start(t)
			require.Nil(t, a.CurrentUser())

			rec, err := a.users.GetCurrentUser(context.Background())
			require.NoError(t, err)
			require.Nil(t, rec)
		})
	}
}

func TestObserverRegisteredAfterReadyFiresOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	a.queue.flush()

	var rec userRecorder
	a.OnAuthStateChanged(rec.observe)
	a.queue.flush()
	require.Equal(t, []string{"abc"}, rec.get())

	// Nothing changes, nothing more is delivered.
	a.queue.flush()
	require.Equal(t, []string{"abc"}, rec.get())
}

func TestTokenRefreshFiresOnlyTokenObservers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	h.gateway.addUser("def", "bob@example.com", "hunter33")
	a := h.start(t)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)

	var authRec, tokenRec userRecorder
	a.OnAuthStateChanged(authRec.observe)
	a.OnIDTokenChanged(tokenRec.observe)
	a.queue.flush()
	authRec.reset()
	tokenRec.reset()

	_, err = a.CurrentUser().GetIDToken(ctx, true)
	require.NoError(t, err)
	a.queue.flush()
	require.Empty(t, authRec.get())
	require.Equal(t, []string{"abc"}, tokenRec.get())

	_, err = a.SignInWithEmailAndPassword(ctx, "bob@example.com", "hunter33")
	require.NoError(t, err)
	a.queue.flush()
	require.Equal(t, []string{"def"}, authRec.get())
	require.Equal(t, []string{"abc", "def"}, tokenRec.get())

	require.NoError(t, a.SignOut(ctx))
	a.queue.flush()
	require.Equal(t, []string{"def", ""}, authRec.get())
	require.Equal(t, []string{"abc", "def", ""}, tokenRec.get())
}

func TestSameUIDSignInMergesIntoCurrentUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	first, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	token := first.User.accessToken()

	second, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	require.Same(t, first.User, second.User)
	require.Same(t, first.User, a.CurrentUser())
	require.NotEqual(t, token, a.CurrentUser().accessToken())
}

func TestConcurrentSignInsLeaveOneCurrentUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	const n = 8
	for i := range n {
		h.gateway.addUser(fmt.Sprintf("u%d", i), fmt.Sprintf("u%d@example.com", i), "pw-123456")
	}
	a := h.start(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	users := make([]*User, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := a.SignInWithEmailAndPassword(ctx, fmt.Sprintf("u%d@example.com", i), "pw-123456")
			if err == nil {
				users[i] = cred.User
			}
		}()
	}
	wg.Wait()

	cur := a.CurrentUser()
	require.NotNil(t, cur)

	stored, err := a.users.GetCurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, cur.UID(), stored.UID)

	current := 0
	for _, u := range users {
		require.NotNil(t, u)
		if u == cur {
			current++
		}
	}
	require.Equal(t, 1, current)
}

// The second sign-out neither writes storage nor notifies.
func TestSignOutIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)

	var rec userRecorder
	a.OnAuthStateChanged(rec.observe)
	a.queue.flush()
	rec.reset()

	require.NoError(t, a.SignOut(ctx))
	require.NoError(t, a.SignOut(ctx))
	a.queue.flush()

	require.Nil(t, a.CurrentUser())
	require.Equal(t, []string{""}, rec.get())

	stored, err := a.users.GetCurrentUser(ctx)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestSignInAnonymouslyReusesAnonymousUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.start(t)
	ctx := context.Background()

	first, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)
	require.True(t, first.User.IsAnonymous())
	require.True(t, first.AdditionalUserInfo.IsNewUser)

	second, err := a.SignInAnonymously(ctx)
	require.NoError(t, err)
	require.Same(t, first.User, second.User)
	require.False(t, second.AdditionalUserInfo.IsNewUser)
	require.Equal(t, 1, h.gateway.callCount("SignInAnonymously"))
}

func TestSignInErrorsSurface(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "nope")
	require.ErrorIs(t, err, ErrWrongPassword)

	_, err = a.CreateUserWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.ErrorIs(t, err, ErrEmailExists)
	require.Nil(t, a.CurrentUser())
}

func TestCreateUserAndCustomToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.start(t)
	ctx := context.Background()

	cred, err := a.CreateUserWithEmailAndPassword(ctx, "new@example.com", "hunter22")
	require.NoError(t, err)
	require.True(t, cred.AdditionalUserInfo.IsNewUser)
	require.Equal(t, "new@example.com", a.CurrentUser().Email())
	require.False(t, a.CurrentUser().IsAnonymous())

	cred, err = a.SignInWithCustomToken(ctx, "svc-7")
	require.NoError(t, err)
	require.Equal(t, "svc-7", cred.User.UID())
	require.Equal(t, OperationSignIn, cred.OperationType)
}

func TestUpdateCurrentUser(t *testing.T) {
	t.Parallel()

	t.Run("nil user fails without a network call", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		a := h.start(t)
		before := h.gateway.callCount("GetAccountInfo")

		require.ErrorIs(t, a.UpdateCurrentUser(context.Background(), nil), ErrNullUser)
		require.Equal(t, before, h.gateway.callCount("GetAccountInfo"))
	})

	t.Run("user of another project is rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.gateway.addUser("abc", "ann@example.com", "hunter22")
		a := h.start(t)

		cfg := h.config()
		cfg.APIKey = "other-key"
		other := start(t, cfg)
		cred, err := other.SignInWithEmailAndPassword(context.Background(), "ann@example.com", "hunter22")
		require.NoError(t, err)

		err = a.UpdateCurrentUser(context.Background(), cred.User)
		require.ErrorIs(t, err, ErrInvalidUserToken)
	})

	t.Run("user is copied in", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.gateway.addUser("abc", "ann@example.com", "hunter22")
		a := h.start(t)

		cfg := h.config()
		cfg.AppName = "second"
		other := start(t, cfg)
		cred, err := other.SignInWithEmailAndPassword(context.Background(), "ann@example.com", "hunter22")
		require.NoError(t, err)

		require.NoError(t, a.UpdateCurrentUser(context.Background(), cred.User))
		require.Equal(t, "abc", a.CurrentUser().UID())
		require.NotSame(t, cred.User, a.CurrentUser())
	})
}

func TestGetIDTokenInternal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	token, err := a.GetIDTokenInternal(ctx, false)
	require.NoError(t, err)
	require.Empty(t, token)

	_, err = a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)

	token, err = a.GetIDTokenInternal(ctx, false)
	require.NoError(t, err)
	require.Equal(t, a.CurrentUser().accessToken(), token)

	refreshed, err := a.GetIDTokenInternal(ctx, true)
	require.NoError(t, err)
	require.NotEqual(t, token, refreshed)
}

func TestTokenRefreshNearExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	token := a.CurrentUser().accessToken()

	h.clock.Advance(50 * time.Minute)
	same, err := a.CurrentUser().GetIDToken(ctx, false)
	require.NoError(t, err)
	require.Equal(t, token, same)

	h.clock.Advance(6 * time.Minute)
	fresh, err := a.CurrentUser().GetIDToken(ctx, false)
	require.NoError(t, err)
	require.NotEqual(t, token, fresh)

	stored, err := a.users.GetCurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, fresh, stored.STSTokenManager.AccessToken)
}

func TestInvalidatedUserIsSignedOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)

	h.gateway.setRefreshErr(ErrUserDisabled)
	_, err = a.CurrentUser().GetIDToken(ctx, true)
	require.ErrorIs(t, err, ErrUserDisabled)
	require.Nil(t, a.CurrentUser())
}

func TestDeletedUserIsSignedOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	cred, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)

	require.NoError(t, cred.User.Delete(ctx))
	require.Nil(t, a.CurrentUser())
	_, err = cred.User.GetIDToken(ctx, false)
	require.ErrorIs(t, err, ErrUserDeleted)
}

func TestUpdateProfilePersists(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)

	name := "Ann"
	require.NoError(t, a.CurrentUser().UpdateProfile(ctx, ProfileUpdate{DisplayName: &name}))
	require.Equal(t, "Ann", a.CurrentUser().DisplayName())

	stored, err := a.users.GetCurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "Ann", stored.DisplayName)
}

func TestSetPersistence(t *testing.T) {
	t.Parallel()

	t.Run("invalid values fail before any work", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		a, err := New(h.config())
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Delete(context.Background()) })

		// A cancelled context proves the check does not wait for startup.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, a.SetPersistence(ctx, "durable"), ErrInvalidPersistence)
	})

	t.Run("unsupported tier", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.manager = storage.NewManager(context.Background(), storage.Options{
			Clock:       h.clock,
			Unsupported: []storage.Persistence{storage.Session},
		})
		t.Cleanup(func() { _ = h.manager.Close() })
		a := h.start(t)
		require.ErrorIs(t, a.SetPersistence(context.Background(), storage.Session), ErrUnsupportedPersistence)
	})

	t.Run("user moves tiers", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.gateway.addUser("abc", "ann@example.com", "hunter22")
		a := h.start(t)
		ctx := context.Background()

		_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
		require.NoError(t, err)

		require.NoError(t, a.SetPersistence(ctx, storage.Session))
		require.Equal(t, storage.Session, a.Persistence())

		scope := AppScopeID(testAPIKey, DefaultAppName)
		_, ok, err := h.manager.Get(ctx, currentUserKey(storage.Local), scope)
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = h.manager.Get(ctx, currentUserKey(storage.Session), scope)
		require.NoError(t, err)
		require.True(t, ok)
	})
}

func TestDeleteCancelsOutstandingWork(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.start(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := a.SignInWithPopup(ctx, Provider{ProviderID: "idp.example.com"})
		done <- err
	}()
	h.popups.next(t)

	require.NoError(t, a.Delete(ctx))
	require.NoError(t, a.Delete(ctx))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrModuleDestroyed)
	case <-time.After(5 * time.Second):
		t.Fatal("popup was not cancelled")
	}

	_, err := a.SignInAnonymously(ctx)
	require.ErrorIs(t, err, ErrModuleDestroyed)
	require.Zero(t, a.registry.size())
}

func TestMultiFactorSignIn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	h.gateway.mu.Lock()
	h.gateway.accounts["abc"].mfa = true
	h.gateway.mu.Unlock()
	a := h.start(t)
	ctx := context.Background()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.ErrorIs(t, err, ErrMFARequired)
	require.Nil(t, a.CurrentUser())

	var mfaErr *MultiFactorRequiredError
	require.True(t, errors.As(err, &mfaErr))
	require.Len(t, mfaErr.Resolver.Hints, 1)
	require.Equal(t, FactorIDTOTP, mfaErr.Resolver.Hints[0].FactorID)

	_, err = mfaErr.Resolver.ResolveSignIn(ctx, TOTPAssertion{Code: "000000"})
	require.ErrorIs(t, err, ErrInvalidVerificationCode)

	cred, err := mfaErr.Resolver.ResolveSignIn(ctx, TOTPAssertion{Code: "654321"})
	require.NoError(t, err)
	require.Equal(t, "abc", cred.User.UID())
	require.Same(t, cred.User, a.CurrentUser())
}

func TestPhoneSignIn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.start(t)
	ctx := context.Background()

	confirm, err := a.SignInWithPhoneNumber(ctx, "+61400000000")
	require.NoError(t, err)

	_, err = confirm.Confirm(ctx, "000000")
	require.ErrorIs(t, err, ErrInvalidVerificationCode)

	cred, err := confirm.Confirm(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, "+61400000000", cred.User.PhoneNumber())
}

func TestEmailLinkSignIn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.start(t)
	ctx := context.Background()

	require.ErrorIs(t, a.SendSignInLinkToEmail(ctx, "ann@example.com", ActionCodeSettings{URL: "https://app.example.com"}), ErrArgument)
	require.NoError(t, a.SendSignInLinkToEmail(ctx, "ann@example.com", ActionCodeSettings{URL: "https://app.example.com", HandleCodeInApp: true}))

	link := "https://app.example.com/finish?apiKey=key123&mode=signIn&oobCode=good-code"
	require.True(t, a.IsSignInWithEmailLink(link))
	require.False(t, a.IsSignInWithEmailLink("https://app.example.com/finish?mode=resetPassword&oobCode=x"))

	cred, err := a.SignInWithEmailLink(ctx, "ann@example.com", link)
	require.NoError(t, err)
	require.Equal(t, "ann@example.com", cred.User.Email())
}

func TestEmailActions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	methods, err := a.FetchSignInMethodsForEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{ProviderIDPassword}, methods)

	methods, err = a.FetchSignInMethodsForEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.Empty(t, methods)

	require.NoError(t, a.SendPasswordResetEmail(ctx, "ann@example.com", nil))
	require.ErrorIs(t, a.SendPasswordResetEmail(ctx, "nobody@example.com", nil), ErrUserDeleted)

	email, err := a.VerifyPasswordResetCode(ctx, "reset-code")
	require.NoError(t, err)
	require.Equal(t, "ann@example.com", email)

	_, err = a.VerifyPasswordResetCode(ctx, "verify-code")
	require.ErrorIs(t, err, ErrInvalidActionCode)

	require.NoError(t, a.ConfirmPasswordReset(ctx, "reset-code", "new-password"))

	info, err := a.CheckActionCode(ctx, "verify-code")
	require.NoError(t, err)
	require.Equal(t, OOBVerifyEmail, info.Operation)
	require.NoError(t, a.ApplyActionCode(ctx, "verify-code"))
	require.ErrorIs(t, a.ApplyActionCode(ctx, "bogus"), ErrInvalidActionCode)
}

func TestLanguageAndFrameworks(t *testing.T) {
	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)
	ctx := context.Background()

	var mu sync.Mutex
	var langs []string
	var fws [][]string
	a.OnLanguageCodeChanged(func(code string) {
		mu.Lock()
		defer mu.Unlock()
		langs = append(langs, code)
	})
	stop := a.OnFrameworkChanged(func(fw []string) {
		mu.Lock()
		defer mu.Unlock()
		fws = append(fws, fw)
	})

	a.SetLanguageCode("fr")
	a.SetLanguageCode("fr")
	a.LogFramework("react")
	a.LogFramework("angular")
	a.LogFramework("react")
	a.queue.flush()

	mu.Lock()
	require.Equal(t, []string{"fr"}, langs)
	require.Equal(t, [][]string{{"react"}, {"angular", "react"}}, fws)
	mu.Unlock()

	_, err := a.SignInWithEmailAndPassword(ctx, "ann@example.com", "hunter22")
	require.NoError(t, err)
	require.Equal(t, "fr", a.CurrentUser().LanguageCode())
	require.Equal(t, []string{"angular", "react"}, a.CurrentUser().Frameworks())

	stop()
	a.LogFramework("vue")
	a.queue.flush()
	mu.Lock()
	require.Len(t, fws, 2)
	mu.Unlock()

	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "en_AU.UTF-8")
	a.UseDeviceLanguage()
	require.Equal(t, "en-AU", a.LanguageCode())
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.addUser("abc", "ann@example.com", "hunter22")
	a := h.start(t)

	s := a.Snapshot()
	require.Equal(t, testAPIKey, s.APIKey)
	require.Equal(t, DefaultAppName, s.AppName)
	require.Equal(t, storage.Local, s.Persistence)
	require.Nil(t, s.CurrentUser)

	_, err := a.SignInWithEmailAndPassword(context.Background(), "ann@example.com", "hunter22")
	require.NoError(t, err)
	require.Equal(t, "abc", a.Snapshot().CurrentUser.UID)
}
