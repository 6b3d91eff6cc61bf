package http

import (
	"net/http"

	"github.com/aussiebroadwan/authstate/internal/emulator/service"
	"github.com/aussiebroadwan/authstate/pkg/authsdk"
	"github.com/aussiebroadwan/authstate/pkg/httpx"
)

// AdminHandler serves the operator routes under /emulator/v1. They stand in
// for the mailbox, the phone and the console of a real deployment.
type AdminHandler struct {
	Service *service.Service
}

type OOBCodeEntry struct {
	Email       string `json:"email"`
	RequestType string `json:"requestType"`
	OOBCode     string `json:"oobCode"`
	OOBLink     string `json:"oobLink"`
}

type OOBCodesResponse struct {
	OOBCodes []OOBCodeEntry `json:"oobCodes"`
}

// HandleOOBCodes lists issued action codes, optionally for one ?email=.
func (h *AdminHandler) HandleOOBCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Service.OOBCodes(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	out := OOBCodesResponse{OOBCodes: make([]OOBCodeEntry, 0, len(codes))}
	for _, c := range codes {
		out.OOBCodes = append(out.OOBCodes, OOBCodeEntry{
			Email:       c.Email,
			RequestType: c.RequestType,
			OOBCode:     c.Code,
			OOBLink:     c.Link,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type VerificationCodeEntry struct {
	PhoneNumber string `json:"phoneNumber"`
	SessionInfo string `json:"sessionInfo"`
	Code        string `json:"code"`
}

type VerificationCodesResponse struct {
	VerificationCodes []VerificationCodeEntry `json:"verificationCodes"`
}

// HandleVerificationCodes lists pending SMS codes.
func (h *AdminHandler) HandleVerificationCodes(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Service.VerificationCodes(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	out := VerificationCodesResponse{VerificationCodes: make([]VerificationCodeEntry, 0, len(sessions))}
	for _, s := range sessions {
		out.VerificationCodes = append(out.VerificationCodes, VerificationCodeEntry{
			PhoneNumber: s.PhoneNumber,
			SessionInfo: s.SessionInfo,
			Code:        s.Code,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type StatsResponse struct {
	Accounts int `json:"accounts"`
}

func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.CountAccounts(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, StatsResponse{Accounts: n})
}

type DisableRequest struct {
	LocalID  string `json:"localId"`
	Disabled bool   `json:"disabled"`
}

func (h *AdminHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	var req DisableRequest
	if !decode(w, r, &req) {
		return
	}
	if req.LocalID == "" {
		writeAuthError(w, r, authsdk.ErrArgument.WithMessage("MISSING_LOCAL_ID"))
		return
	}

	if err := h.Service.SetDisabled(r.Context(), req.LocalID, req.Disabled); err != nil {
		writeAuthError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, struct{}{})
}

type EnrollTOTPRequest struct {
	LocalID     string `json:"localId"`
	DisplayName string `json:"displayName,omitempty"`
}

// HandleEnrollTOTP attaches a TOTP factor and returns its secret once.
func (h *AdminHandler) HandleEnrollTOTP(w http.ResponseWriter, r *http.Request) {
	var req EnrollTOTPRequest
	if !decode(w, r, &req) {
		return
	}
	if req.LocalID == "" {
		writeAuthError(w, r, authsdk.ErrArgument.WithMessage("MISSING_LOCAL_ID"))
		return
	}

	enrolled, err := h.Service.EnrollTOTP(r.Context(), req.LocalID, req.DisplayName)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, enrolled)
}
