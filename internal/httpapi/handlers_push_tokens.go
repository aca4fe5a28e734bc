package httpapi

import (
	"net/http"
	"strings"

	"TutorNotifyServer/internal/device"
	"TutorNotifyServer/internal/domain"
)

type pushTokenResponse struct {
	ID         string `json:"id"`
	Token      string `json:"token"`
	Platform   string `json:"platform"`
	CreatedAt  string `json:"created_at"`
	LastActive string `json:"last_active"`
}

func toPushTokenResponse(t domain.PushToken) pushTokenResponse {
	return pushTokenResponse{
		ID:         t.ID,
		Token:      t.Token,
		Platform:   string(t.Platform),
		CreatedAt:  formatMillis(t.CreatedAt),
		LastActive: formatMillis(t.LastActive),
	}
}

// handlePushTokensRegister takes a device report and binds the resulting token
// to the caller's session.
func (a *api) handlePushTokensRegister(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())
	sessID, _ := CurrentSessionID(r.Context())

	var req device.Report
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		WriteDomainError(w, err)
		return
	}

	writeResult(w, a.authSvc.RegisterSessionDevice(r.Context(), sessID, u.ID, req))
}

type pushTokenActivityRequest struct {
	Token string `json:"token"`
}

func (a *api) handlePushTokensActivity(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())
	sessID, _ := CurrentSessionID(r.Context())

	var req pushTokenActivityRequest
	if _, err := decodeJSONAllowEmpty(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	held, err := a.authSvc.CurrentDevice(r.Context(), sessID, req.Token)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeResult(w, a.tokensSvc.UpdateTokenActivity(r.Context(), u.ID, held))
}

func (a *api) handlePushTokensList(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	tokens, err := a.tokensSvc.GetUserTokens(r.Context(), u.ID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	out := make([]pushTokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toPushTokenResponse(t))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

func (a *api) handlePushTokensDeleteCurrent(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())
	sessID, _ := CurrentSessionID(r.Context())

	held, err := a.authSvc.CurrentDevice(r.Context(), sessID, strings.TrimSpace(r.URL.Query().Get("token")))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeResult(w, a.tokensSvc.DeactivateCurrentDeviceToken(r.Context(), u.ID, held))
}

func (a *api) handleUserPushTokensDelete(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())
	target := strings.TrimSpace(r.PathValue("id"))
	if target == "me" {
		target = u.ID
	}
	if target != u.ID && u.Role != domain.RoleAdmin {
		WriteDomainError(w, domain.ErrForbidden)
		return
	}

	res := a.tokensSvc.DeactivateAllUserTokens(r.Context(), target)
	if res.Failed() {
		WriteDomainError(w, res.Err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cleanupRequest struct {
	DaysOld *int `json:"days_old"`
}

type cleanupResponse struct {
	Deleted int64 `json:"deleted"`
	DaysOld int   `json:"days_old"`
}

func (a *api) handleAdminPushTokensCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if _, err := decodeJSONAllowEmpty(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	days := a.tokenMaxAgeDays
	if req.DaysOld != nil {
		if *req.DaysOld < 0 {
			WriteDomainError(w, domain.NewValidationError(map[string]string{"days_old": "must not be negative"}))
			return
		}
		days = *req.DaysOld
	}

	n, res := a.tokensSvc.CleanupOldTokens(r.Context(), days)
	if res.Failed() {
		WriteDomainError(w, res.Err)
		return
	}
	WriteJSON(w, http.StatusOK, cleanupResponse{Deleted: n, DaysOld: days})
}
