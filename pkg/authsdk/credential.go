package authsdk

import (
	"encoding/json"
	"net/url"
	"strings"
)

// OperationType is what a successful credential exchange did to the session.
type OperationType string

const (
	OperationSignIn         OperationType = "signIn"
	OperationLink           OperationType = "link"
	OperationReauthenticate OperationType = "reauthenticate"
)

// Provider ids of the built-in sign-in methods.
const (
	ProviderIDPassword  = "password"
	ProviderIDEmailLink = "emailLink"
	ProviderIDPhone     = "phone"
)

// defaultRequestURI is sent as the request URI of assertions built from
// tokens the application already holds.
const defaultRequestURI = "http://localhost"

// AuthCredential is a proof of identity that can be exchanged for a session.
// Use the constructors; the zero value is not a valid credential.
type AuthCredential struct {
	ProviderID   string
	SignInMethod string

	email    string
	password string
	oobCode  string

	idToken     string
	accessToken string
	pendingTok  string

	sessionInfo string
	code        string
}

// EmailCredential is an email and password pair.
func EmailCredential(email, password string) *AuthCredential {
	return &AuthCredential{
		ProviderID:   ProviderIDPassword,
		SignInMethod: ProviderIDPassword,
		email:        email,
		password:     password,
	}
}

// EmailLinkCredential wraps the action code of an email sign-in link.
func EmailLinkCredential(email, link string) (*AuthCredential, error) {
	code := actionCodeFromLink(link)
	if code == "" {
		return nil, ErrArgument.WithMessage("link is not a sign-in link")
	}
	return &AuthCredential{
		ProviderID:   ProviderIDPassword,
		SignInMethod: ProviderIDEmailLink,
		email:        email,
		oobCode:      code,
	}, nil
}

// OAuthCredential wraps tokens obtained from a federated provider outside the
// SDK.
func OAuthCredential(providerID, idToken, accessToken string) *AuthCredential {
	return &AuthCredential{
		ProviderID:   providerID,
		SignInMethod: providerID,
		idToken:      idToken,
		accessToken:  accessToken,
	}
}

// PhoneCredential pairs a verification id from SignInWithPhoneNumber with the
// code the user received.
func PhoneCredential(verificationID, code string) *AuthCredential {
	return &AuthCredential{
		ProviderID:   ProviderIDPhone,
		SignInMethod: ProviderIDPhone,
		sessionInfo:  verificationID,
		code:         code,
	}
}

func (c *AuthCredential) assertionRequest() *VerifyAssertionRequest {
	body := url.Values{}
	if c.idToken != "" {
		body.Set("id_token", c.idToken)
	}
	if c.accessToken != "" {
		body.Set("access_token", c.accessToken)
	}
	body.Set("providerId", c.ProviderID)
	return &VerifyAssertionRequest{
		RequestURI:   defaultRequestURI,
		PostBody:     body.Encode(),
		PendingToken: c.pendingTok,
	}
}

// AdditionalUserInfo is provider data returned alongside a sign-in.
type AdditionalUserInfo struct {
	ProviderID string
	IsNewUser  bool
	Profile    map[string]any
	Username   string
}

// UserCredential is the result of a sign-in, link or reauthentication. After
// a redirect with no pending flow every field is zero.
type UserCredential struct {
	User               *User
	Credential         *AuthCredential
	AdditionalUserInfo *AdditionalUserInfo
	OperationType      OperationType
}

func additionalUserInfo(resp *IDTokenResponse) *AdditionalUserInfo {
	info := &AdditionalUserInfo{ProviderID: resp.ProviderID, IsNewUser: resp.IsNewUser}
	if resp.RawUserInfo == "" {
		return info
	}
	var profile map[string]any
	if err := json.Unmarshal([]byte(resp.RawUserInfo), &profile); err == nil {
		info.Profile = profile
		if login, ok := profile["login"].(string); ok {
			info.Username = login
		}
	}
	return info
}

// credentialFromResponse rebuilds the provider credential carried by an IdP
// sign-in response, or nil.
func credentialFromResponse(resp *IDTokenResponse) *AuthCredential {
	if resp.OAuthIDToken == "" && resp.OAuthAccessToken == "" && resp.PendingToken == "" {
		return nil
	}
	c := OAuthCredential(resp.ProviderID, resp.OAuthIDToken, resp.OAuthAccessToken)
	c.pendingTok = resp.PendingToken
	return c
}

// Email action link modes.
const (
	ActionModeSignIn        = "signIn"
	ActionModeResetPassword = "resetPassword"
	ActionModeVerifyEmail   = "verifyEmail"
)

// parseActionLink extracts the mode and oobCode of an email action link.
// Links nested in a "link" or "deep_link_id" parameter are unwrapped.
func parseActionLink(link string) (mode, code string) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", ""
	}
	q := u.Query()
	if code := q.Get("oobCode"); code != "" {
		return q.Get("mode"), code
	}
	for _, nested := range []string{"link", "deep_link_id"} {
		if inner := q.Get(nested); inner != "" {
			return parseActionLink(inner)
		}
	}
	return "", ""
}

// actionCodeFromLink returns the oobCode of an email sign-in link, or "".
func actionCodeFromLink(link string) string {
	mode, code := parseActionLink(link)
	if mode != ActionModeSignIn {
		return ""
	}
	return code
}
