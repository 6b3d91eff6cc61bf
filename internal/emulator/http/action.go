package http

import (
	"net/http"

	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/httpx"
)

// ActionHandler is the landing page of out-of-band links. Verification links
// are applied on the spot; sign-in and reset links only describe their code
// since the app completes them.
type ActionHandler struct {
	Service *service.Service
}

type ActionResponse struct {
	Mode        string `json:"mode"`
	OOBCode     string `json:"oobCode"`
	Email       string `json:"email,omitempty"`
	RequestType string `json:"requestType,omitempty"`
	Applied     bool   `json:"applied"`
}

func (h *ActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := ActionResponse{Mode: q.Get("mode"), OOBCode: q.Get("oobCode")}

	info, err := h.Service.CheckActionCode(r.Context(), resp.OOBCode)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	resp.Email = info.Email
	resp.RequestType = info.RequestType

	if resp.Mode == authsdk.ActionModeVerifyEmail {
		if err := h.Service.ApplyActionCode(r.Context(), resp.OOBCode); err != nil {
			writeAuthError(w, r, err)
			return
		}
		resp.Applied = true
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
