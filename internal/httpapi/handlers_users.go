package httpapi

import (
	"net/http"
	"strings"
	"time"

	"TutorNotifyServer/internal/domain"
)

type userResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email,omitempty"`
	Username    string  `json:"username"`
	Role        string  `json:"role"`
	CreatedAt   string  `json:"created_at"`
	LastLoginAt *string `json:"last_login_at,omitempty"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		Role:        string(u.Role),
		CreatedAt:   formatMillis(u.CreatedAt),
		LastLoginAt: formatMillisPtr(u.LastLoginAt),
	}
}

func (a *api) handleUsersMe(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, toUserResponse(u))
}

type createUserRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (a *api) handleAdminUsersCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if !validUsername(req.Username) {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"username": "must be 3-24 chars [A-Za-z0-9_.]"}))
		return
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = domain.RoleStudent
	}

	u, err := a.authSvc.CreateUser(r.Context(), req.Email, req.Username, req.Password, role)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	a.logger.Info("admin: user created", "user_id", u.ID, "role", string(u.Role))
	WriteJSON(w, http.StatusCreated, toUserResponse(u))
}

func validUsername(s string) bool {
	if len(s) < 3 || len(s) > 24 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func formatMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func formatMillisPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	out := formatMillis(*t)
	return &out
}
