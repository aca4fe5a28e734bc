package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"TutorNotifyServer/internal/domain"
	"TutorNotifyServer/internal/service"
)

type notificationRequest struct {
	Recipients domain.Target `json:"recipients"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Type       string        `json:"type"`
	Link       string        `json:"link"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	SendAt     *time.Time    `json:"send_at,omitempty"`
}

func (q notificationRequest) toDomain() domain.NotificationRequest {
	return domain.NotificationRequest{
		Recipients: q.Recipients,
		Title:      q.Title,
		Body:       q.Body,
		Type:       domain.NotificationType(q.Type),
		Link:       q.Link,
		ExpiresAt:  q.ExpiresAt,
	}
}

type batchResponse struct {
	Policy          string   `json:"policy"`
	Success         bool     `json:"success"`
	Sent            int      `json:"sent"`
	NotificationIDs []string `json:"notification_ids"`
}

func writeBatch(w http.ResponseWriter, res service.BatchResult) {
	if !res.Success {
		WriteDomainError(w, res.Err)
		return
	}
	ids := res.NotificationIDs
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusOK, batchResponse{
		Policy:          string(res.Policy),
		Success:         true,
		Sent:            res.Sent,
		NotificationIDs: ids,
	})
}

func (a *api) handleNotificationsSend(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if req.SendAt != nil {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"send_at": "use /v1/notifications/queue for scheduled sends"}))
		return
	}
	writeBatch(w, a.dispatchSvc.Immediate(r.Context(), req.toDomain()))
}

func (a *api) handleNotificationsQueue(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	var sendAt time.Time
	if req.SendAt != nil {
		sendAt = *req.SendAt
	}

	ids, err := a.dispatchSvc.Queue(r.Context(), req.toDomain(), sendAt)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"notification_ids": ids})
}

func (a *api) handleNotificationsDispatchPending(w http.ResponseWriter, r *http.Request) {
	writeBatch(w, a.dispatchSvc.DispatchPending(r.Context()))
}

func (a *api) handleNotificationsRoutine(w http.ResponseWriter, r *http.Request) {
	writeBatch(w, a.dispatchSvc.Routine(r.Context()))
}

type notificationResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title,omitempty"`
	Body      string  `json:"body"`
	Type      string  `json:"type"`
	Link      string  `json:"link,omitempty"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	SentAt    *string `json:"sent_at,omitempty"`
}

func (a *api) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			WriteDomainError(w, domain.NewValidationError(map[string]string{"limit": "must be 1-100"}))
			return
		}
		limit = n
	}

	list, err := a.dispatchSvc.ListNotifications(r.Context(), u.ID, limit)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	out := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, notificationResponse{
			ID:        n.ID,
			Title:     n.Title,
			Body:      n.Body,
			Type:      string(n.Type),
			Link:      n.Link,
			Status:    string(n.Status),
			CreatedAt: formatMillis(n.CreatedAt),
			SentAt:    formatMillisPtr(n.SentAt),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"notifications": out})
}
