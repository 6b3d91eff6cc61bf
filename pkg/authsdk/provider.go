package authsdk

import (
	"encoding/json"
	"net/url"
	"strings"
)

// handlerPath is the provider handler page served on the auth domain.
const handlerPath = "/__/auth/handler"

// sdkVersion is reported to the handler page.
const sdkVersion = "authstate-go/1"

// Provider describes a federated identity provider for popup and redirect
// sign-in. Building OAuth parameter sets is up to the caller.
type Provider struct {
	ProviderID       string
	Scopes           []string
	CustomParameters map[string]string
}

// AuthURL builds the handler URL that starts a flow of type t with the given
// event id. redirectURL is only used by redirect flows.
//
// Example:
//
//	u := authsdk.Provider{ProviderID: "google.com"}.AuthURL(
//		"auth.example.com", apiKey, "[DEFAULT]", authsdk.EventSignInViaPopup, eventID, "")
func (p Provider) AuthURL(authDomain, apiKey, appName string, t EventType, eventID, redirectURL string) string {
	params := url.Values{}
	params.Set("apiKey", apiKey)
	params.Set("appName", appName)
	params.Set("authType", string(t))
	params.Set("providerId", p.ProviderID)
	params.Set("v", sdkVersion)

	if eventID != "" {
		params.Set("eventId", eventID)
	}
	if redirectURL != "" && t.Mode() == ModeRedirect {
		params.Set("redirectUrl", redirectURL)
	}
	if len(p.Scopes) > 0 {
		params.Set("scopes", strings.Join(p.Scopes, ","))
	}
	if len(p.CustomParameters) > 0 {
		// Marshalling a map[string]string cannot fail.
		b, _ := json.Marshal(p.CustomParameters)
		params.Set("customParameters", string(b))
	}

	base := authDomain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return strings.TrimSuffix(base, "/") + handlerPath + "?" + params.Encode()
}

// Window is a popup the application opened for a flow.
type Window interface {
	// Close closes the popup. It may be called on an already closed window.
	Close()
	// Closed reports whether the user closed the popup.
	Closed() bool
}

// PopupOpener opens a popup showing url. Returning an error fails the flow
// with that error, typically ErrPopupBlocked.
type PopupOpener func(url string) (Window, error)

// Redirector navigates away to url to start a redirect flow.
type Redirector func(url string) error
