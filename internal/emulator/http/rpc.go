package http

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/httpx"
)

// rpc adapts a service method taking and returning JSON bodies.
func rpc[Req, Resp any](call func(context.Context, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := new(Req)
		if !decode(w, r, req) {
			return
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
	}
}

// decode reads the JSON body into v, answering malformed bodies itself.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpx.DecodeJSON(w, r, v); err != nil {
		writeAuthError(w, r, authsdk.ErrArgument.WithMessage("malformed JSON body"))
		return false
	}
	return true
}
