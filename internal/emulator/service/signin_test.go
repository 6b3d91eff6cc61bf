package service_test

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/jwtx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPasswordSignUpAndSignIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	created, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{
		Email:       "Ann@Example.com",
		Password:    "hunter22",
		DisplayName: "Ann",
	})
	require.NoError(t, err)
	require.True(t, created.IsNewUser)
	require.Equal(t, "ann@example.com", created.Email)
	require.Equal(t, jwtx.ProviderPassword, created.ProviderID)
	require.NotEmpty(t, created.IDToken)
	require.NotEmpty(t, created.RefreshToken)
	require.Equal(t, int64(3600), created.ExpiresIn)

	claims, err := jwtx.ParseUnverified(created.IDToken)
	require.NoError(t, err)
	require.Equal(t, created.LocalID, claims.Subject)
	require.Equal(t, testIssuer, claims.Issuer)
	require.WithinDuration(t, testStart.Add(time.Hour), claims.ExpirationTime(), 0)

	signedIn, err := h.svc.VerifyPassword(ctx, &authsdk.VerifyPasswordRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)
	require.False(t, signedIn.IsNewUser)
	require.Equal(t, created.LocalID, signedIn.LocalID)
	require.Equal(t, "Ann", signedIn.DisplayName)
	require.NotEqual(t, created.RefreshToken, signedIn.RefreshToken)

	require.InDelta(t, 2, testutil.ToFloat64(h.metrics.SignIns.WithLabelValues(jwtx.ProviderPassword)), 0)
}

func TestPasswordErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want *authsdk.AuthError
	}{
		{"duplicate email", func() error {
			_, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "ANN@example.com", Password: "hunter22"})
			return err
		}, authsdk.ErrEmailExists},
		{"weak password", func() error {
			_, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "bob@example.com", Password: "123"})
			return err
		}, authsdk.ErrWeakPassword},
		{"bad email", func() error {
			_, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "not-an-email", Password: "hunter22"})
			return err
		}, authsdk.ErrInvalidEmail},
		{"wrong password", func() error {
			_, err := h.svc.VerifyPassword(ctx, &authsdk.VerifyPasswordRequest{Email: "ann@example.com", Password: "nope123"})
			return err
		}, authsdk.ErrWrongPassword},
		{"unknown email", func() error {
			_, err := h.svc.VerifyPassword(ctx, &authsdk.VerifyPasswordRequest{Email: "who@example.com", Password: "hunter22"})
			return err
		}, authsdk.ErrUserDeleted},
		{"other tenant", func() error {
			_, err := h.svc.VerifyPassword(ctx, &authsdk.VerifyPasswordRequest{
				Email: "ann@example.com", Password: "hunter22", TenantID: "tenant-b",
			})
			return err
		}, authsdk.ErrUserDeleted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.call(), tc.want)
		})
	}

	require.InDelta(t, 1, testutil.ToFloat64(h.metrics.SignInFailures.WithLabelValues("INVALID_PASSWORD")), 0)
}

func TestDisabledAccountCannotSignIn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	resp, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)
	require.NoError(t, h.svc.SetDisabled(ctx, resp.LocalID, true))

	_, err = h.svc.VerifyPassword(ctx, &authsdk.VerifyPasswordRequest{Email: "ann@example.com", Password: "hunter22"})
	require.ErrorIs(t, err, authsdk.ErrUserDisabled)

	_, err = h.svc.GetAccountInfo(ctx, resp.IDToken)
	require.ErrorIs(t, err, authsdk.ErrUserDisabled)

	_, err = h.svc.RefreshToken(ctx, resp.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrUserDisabled)

	require.NoError(t, h.svc.SetDisabled(ctx, resp.LocalID, false))
	_, err = h.svc.VerifyPassword(ctx, &authsdk.VerifyPasswordRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)

	require.ErrorIs(t, h.svc.SetDisabled(ctx, "missing", true), authsdk.ErrUserDeleted)
}

func TestAnonymousSignUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	resp, err := h.svc.SignInAnonymously(ctx)
	require.NoError(t, err)
	require.True(t, resp.IsNewUser)
	require.Equal(t, jwtx.ProviderAnonymous, resp.ProviderID)
	require.Empty(t, resp.Email)

	info, err := h.svc.GetAccountInfo(ctx, resp.IDToken)
	require.NoError(t, err)
	require.Equal(t, resp.LocalID, info.LocalID)
	require.Empty(t, info.ProviderUserInfo)
	require.Empty(t, info.PasswordHash)

	// An empty sign-up request is the wire form of an anonymous sign-in.
	other, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{})
	require.NoError(t, err)
	require.Equal(t, jwtx.ProviderAnonymous, other.ProviderID)
	require.NotEqual(t, resp.LocalID, other.LocalID)

	n, err := h.svc.CountAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCustomToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	token, err := jwtx.SignCustomToken(customSecret, "app-server", "user-42", time.Hour, testStart)
	require.NoError(t, err)

	first, err := h.svc.VerifyCustomToken(ctx, &authsdk.VerifyCustomTokenRequest{Token: token})
	require.NoError(t, err)
	require.Equal(t, "user-42", first.LocalID)
	require.True(t, first.IsNewUser)

	again, err := h.svc.VerifyCustomToken(ctx, &authsdk.VerifyCustomTokenRequest{Token: token})
	require.NoError(t, err)
	require.False(t, again.IsNewUser)

	forged, err := jwtx.SignCustomToken([]byte("other-secret"), "app-server", "user-42", time.Hour, testStart)
	require.NoError(t, err)
	_, err = h.svc.VerifyCustomToken(ctx, &authsdk.VerifyCustomTokenRequest{Token: forged})
	require.ErrorIs(t, err, authsdk.ErrInvalidCustomToken)

	h.clock.Advance(2 * time.Hour)
	_, err = h.svc.VerifyCustomToken(ctx, &authsdk.VerifyCustomTokenRequest{Token: token})
	require.ErrorIs(t, err, authsdk.ErrInvalidCustomToken)
}

func TestVerifyAssertion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	body := url.Values{
		"providerId":   {"github.com"},
		"id":           {"42"},
		"login":        {"octocat"},
		"email":        {"Octo@Example.com"},
		"access_token": {"gh-access"},
	}.Encode()

	first, err := h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{RequestURI: "http://localhost", PostBody: body})
	require.NoError(t, err)
	require.True(t, first.IsNewUser)
	require.Equal(t, "github.com", first.ProviderID)
	require.Equal(t, "octo@example.com", first.Email)
	require.Equal(t, "gh-access", first.OAuthAccessToken)

	var profile map[string]string
	require.NoError(t, json.Unmarshal([]byte(first.RawUserInfo), &profile))
	require.Equal(t, "octocat", profile["login"])
	require.Equal(t, "42", profile["id"])

	again, err := h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{RequestURI: "http://localhost", PostBody: body})
	require.NoError(t, err)
	require.False(t, again.IsNewUser)
	require.Equal(t, first.LocalID, again.LocalID)

	info, err := h.svc.GetAccountInfo(ctx, again.IDToken)
	require.NoError(t, err)
	require.Len(t, info.ProviderUserInfo, 1)
	require.Equal(t, "42", info.ProviderUserInfo[0].RawID)

	methods, err := h.svc.FetchSignInMethodsForIdentifier(ctx, &authsdk.CreateAuthURIRequest{
		Identifier: "octo@example.com", ContinueURI: "http://localhost",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"github.com"}, methods.SignInMethods)

	_, err = h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{PostBody: body})
	require.ErrorIs(t, err, authsdk.ErrArgument)

	_, err = h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{RequestURI: "http://localhost", PostBody: "providerId=github.com"})
	require.ErrorIs(t, err, authsdk.ErrInvalidCredential)
}

func TestVerifyAssertionLinking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	anon, err := h.svc.SignInAnonymously(ctx)
	require.NoError(t, err)

	google := url.Values{"providerId": {"google.com"}, "sub": {"g-1"}, "name": {"Ann"}}.Encode()
	linked, err := h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{
		RequestURI: "http://localhost", PostBody: google, IDToken: anon.IDToken,
	})
	require.NoError(t, err)
	require.Equal(t, anon.LocalID, linked.LocalID)
	require.False(t, linked.IsNewUser)

	// Linking the same identity again is a no-op.
	_, err = h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{
		RequestURI: "http://localhost", PostBody: google, IDToken: linked.IDToken,
	})
	require.NoError(t, err)

	other, err := h.svc.SignInAnonymously(ctx)
	require.NoError(t, err)
	_, err = h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{
		RequestURI: "http://localhost", PostBody: google, IDToken: other.IDToken,
	})
	require.ErrorIs(t, err, authsdk.ErrCredentialAlreadyInUse)

	// Signing in with the linked identity lands on the first account.
	signedIn, err := h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{RequestURI: "http://localhost", PostBody: google})
	require.NoError(t, err)
	require.Equal(t, anon.LocalID, signedIn.LocalID)
}

func TestVerifyAssertionAdoptsAccountWithSameEmail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	pw, err := h.svc.CreateAccount(ctx, &authsdk.SignUpRequest{Email: "ann@example.com", Password: "hunter22"})
	require.NoError(t, err)

	body := url.Values{"providerId": {"google.com"}, "sub": {"g-7"}, "email": {"ann@example.com"}}.Encode()
	resp, err := h.svc.VerifyAssertion(ctx, &authsdk.VerifyAssertionRequest{RequestURI: "http://localhost", PostBody: body})
	require.NoError(t, err)
	require.Equal(t, pw.LocalID, resp.LocalID)
	require.False(t, resp.IsNewUser)

	methods, err := h.svc.FetchSignInMethodsForIdentifier(ctx, &authsdk.CreateAuthURIRequest{
		Identifier: "ann@example.com", ContinueURI: "http://localhost",
	})
	require.NoError(t, err)
	require.True(t, methods.Registered)
	require.Equal(t, []string{"password", "google.com"}, methods.SignInMethods)
}
