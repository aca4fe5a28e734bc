package httpapi

import (
	"net/http"
	"strings"
	"time"

	"TutorNotifyServer/internal/auth"
	"TutorNotifyServer/internal/device"
	"TutorNotifyServer/internal/domain"
)

type loginRequest struct {
	Login    string         `json:"login"`
	Password string         `json:"password"`
	Device   *device.Report `json:"device,omitempty"`
}

type loginResponse struct {
	User         userResponse   `json:"user"`
	SessionToken string         `json:"session_token"`
	Push         resultResponse `json:"push"`
}

func (a *api) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	req.Login = strings.TrimSpace(req.Login)
	if req.Login == "" || req.Password == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"login": "required", "password": "required"}))
		return
	}
	var dev device.Device
	if req.Device != nil {
		if err := req.Device.Validate(); err != nil {
			WriteDomainError(w, err)
			return
		}
		dev = *req.Device
	}

	now := time.Now()
	ip := clientIP(r)
	loginKey := "login:" + strings.ToLower(req.Login)
	if !a.loginLimiter.Allow("ip:"+ip, now) || !a.loginLimiter.Allow(loginKey, now) {
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		return
	}

	res, err := a.authSvc.Login(r.Context(), req.Login, req.Password, ip, r.UserAgent(), dev)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	a.loginLimiter.Reset(loginKey)

	token := a.sessions.Encode(res.SessionID)
	auth.SetSessionCookie(w, token, a.sessionTTL, a.cookieSecure)

	WriteJSON(w, http.StatusOK, loginResponse{
		User:         toUserResponse(res.User),
		SessionToken: token,
		Push:         resultResponse{Status: string(res.Push.Kind)},
	})
}

type logoutRequest struct {
	PushToken string `json:"push_token"`
}

// handleAuthLogout accepts an optional push_token for clients whose token was
// minted after login and never bound to the session.
func (a *api) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	sessID, ok := CurrentSessionID(r.Context())
	if !ok || sessID == "" {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	var req logoutRequest
	if _, err := decodeJSONAllowEmpty(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	if err := a.authSvc.Logout(r.Context(), sessID, req.PushToken); err != nil {
		a.logger.Error("logout failed", "err", err)
	}
	auth.ClearSessionCookie(w, a.cookieSecure)
	w.WriteHeader(http.StatusNoContent)
}
