/*
Package authsdk is the client side of an identity service: it keeps track of
the signed-in user of an app, persists the session, and keeps several
instances sharing one storage backend in agreement.

# Overview

An Auth owns the session of one app, identified by its API key and app name.
It talks to the identity backend through a Gateway. SDKClient implements the
Gateway over HTTP; the emulator in internal/emulator implements it in
process.

	auth, err := authsdk.New(authsdk.Config{
		APIKey:  "demo-key",
		BaseURL: "http://localhost:9099",
		Storage: manager,
	})
	if err != nil {
		return err // auth/invalid-api-key when APIKey is empty
	}

New returns at once. Loading the persisted user, revalidating it, and
settling any redirect result run in the background. Every operation waits for
that to finish, and Ready can be used to wait explicitly.

# Auth vs User

The package is organized around two main types:

  - Auth: the session of an app. Signs users in and out, persists the
    current user and notifies observers.
  - User: a signed-in account. Refreshes its own ID token, reloads its
    profile, and can update or delete the account.

A User is only current while Auth says so. Signing in again with the same uid
merges the new tokens into the existing User instead of replacing it.

# Observers

	stop := auth.OnAuthStateChanged(func(u *authsdk.User) {
		if u == nil {
			fmt.Println("signed out")
			return
		}
		fmt.Println("signed in as", u.UID())
	})
	defer stop()

OnAuthStateChanged fires when the uid changes. OnIDTokenChanged fires on
every token change as well, including a refresh for the same uid. Observers
registered after startup are called once with the current user. Callbacks
run one at a time on an internal goroutine, in registration order.

# Storage

Sessions live in a storage.Manager with three tiers: local, session and
none. The local tier is shared with every other instance using the same
backend, and the Manager reports writes made there by others, through
native change events or by polling. Auth follows such writes, so signing out
in one instance signs out all of them.

	err := auth.SetPersistence(ctx, storage.Session)

SetPersistence validates its argument before doing any work.

# Popups and Redirects

Federated sign-in runs in a popup or through a full redirect. The
application supplies the window handling:

	auth, _ := authsdk.New(authsdk.Config{
		APIKey:      "demo-key",
		BaseURL:     baseURL,
		PopupOpener: openWindow,
	})

	cred, err := auth.SignInWithPopup(ctx, authsdk.Provider{ProviderID: "google.com"})

The provider handler's completion is passed back with HandleAuthEvent. Only
one popup can be pending: starting another fails the first with
auth/expired-popup-request. Popups time out after DefaultPopupTimeout.

# Error Handling

Every operation fails with an *AuthError carrying an "auth/..." code.
Compare with errors.Is against the predefined values:

	_, err := auth.SignInWithEmailAndPassword(ctx, email, password)
	switch {
	case errors.Is(err, authsdk.ErrWrongPassword):
		// ask again
	case errors.Is(err, authsdk.ErrMFARequired):
		var mfa *authsdk.MultiFactorRequiredError
		errors.As(err, &mfa)
		cred, err = mfa.Resolver.ResolveSignIn(ctx, authsdk.TOTPAssertion{Code: code})
	}

# Thread Safety

Auth and User are safe for concurrent use. Delete cancels every outstanding
operation with auth/app-deleted.
*/
package authsdk
