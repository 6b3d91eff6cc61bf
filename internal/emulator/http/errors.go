package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/httpx"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
)

// statusFor maps an auth error to the HTTP status of its envelope.
func statusFor(ae *authsdk.AuthError) int {
	switch ae.Code {
	case authsdk.CodeTooManyRequests:
		return http.StatusTooManyRequests
	case authsdk.CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeAuthError answers err with the error envelope. The message is the wire
// code followed by " : " and the error's own message.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *authsdk.AuthError
	if !errors.As(err, &ae) {
		if !errors.Is(err, context.Canceled) {
			slogx.FromContext(r.Context()).Error("unexpected handler error", "error", err)
		}
		ae = authsdk.ErrInternal
	}

	msg := authsdk.ServerMessage(ae)
	if ae.Message != "" {
		msg += " : " + ae.Message
	}
	httpx.WriteError(w, statusFor(ae), msg)
}

// requireAPIKey rejects calls whose key query parameter is not apiKey.
func requireAPIKey(apiKey string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("key") != apiKey {
				writeAuthError(w, r, authsdk.ErrInvalidAPIKey)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
