package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/httpx"
)

type AccountsHandler struct {
	Service *service.Service
}

// HandleLookup answers accounts:lookup with the account owning the ID token.
func (h *AccountsHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	var req authsdk.IDTokenRequest
	if !decode(w, r, &req) {
		return
	}

	info, err := h.Service.GetAccountInfo(r.Context(), req.IDToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.GetAccountInfoResponse{Users: []authsdk.AccountInfo{*info}})
}

func (h *AccountsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req authsdk.IDTokenRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Service.DeleteAccount(r.Context(), req.IDToken); err != nil {
		writeAuthError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, struct{}{})
}

// updateRequest is the body of accounts:update, which either applies an
// out-of-band code or changes the profile.
type updateRequest struct {
	authsdk.UpdateProfileRequest
	OOBCode string `json:"oobCode,omitempty"`
}

func (h *AccountsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}

	if req.OOBCode != "" {
		if err := h.Service.ApplyActionCode(r.Context(), req.OOBCode); err != nil {
			writeAuthError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}

	resp, err := h.Service.UpdateProfile(r.Context(), &req.UpdateProfileRequest)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleToken exchanges a refresh token. The grant is accepted as JSON or
// as a form body.
func (h *AccountsHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshTokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeAuthError(w, r, authsdk.ErrArgument.WithMessage("malformed form body"))
			return
		}
		req.GrantType = r.PostForm.Get("grant_type")
		req.RefreshToken = r.PostForm.Get("refresh_token")
	} else if !decode(w, r, &req) {
		return
	}

	if req.GrantType != "refresh_token" {
		writeAuthError(w, r, authsdk.ErrArgument.WithMessage("unsupported grant_type "+req.GrantType))
		return
	}

	resp, err := h.Service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
