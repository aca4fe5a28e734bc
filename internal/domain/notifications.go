package domain

import (
	"strings"
	"time"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return p, true
	default:
		return "", false
	}
}

// PushToken is one device registration. (UserID, Token) is unique.
type PushToken struct {
	ID         string    `json:"-"`
	UserID     string    `json:"-"`
	Token      string    `json:"token"`
	Platform   Platform  `json:"platform"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

func ParseNotificationType(s string) (NotificationType, bool) {
	t := NotificationType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "":
		return NotificationInfo, true
	case NotificationInfo, NotificationWarning, NotificationSuccess, NotificationError:
		return t, true
	default:
		return "", false
	}
}

// Target describes who a notification is for. The resolved recipient set is
// the union of UserIDs and every user holding Role.
type Target struct {
	UserIDs []string `json:"user_ids,omitempty"`
	Role    Role     `json:"role,omitempty"`
}

func (t Target) Empty() bool {
	return len(t.UserIDs) == 0 && t.Role == ""
}

type NotificationRequest struct {
	Recipients Target
	Title      string
	Body       string
	Type       NotificationType
	Link       string
	ExpiresAt  *time.Time
}

// Validate checks the request shape; it does not resolve recipients.
func (r NotificationRequest) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(r.Body) == "" {
		fields["body"] = "required"
	}
	if r.Recipients.Empty() {
		fields["recipients"] = "required"
	}
	if r.Recipients.Role != "" {
		if _, ok := ParseRole(string(r.Recipients.Role)); !ok {
			fields["recipients.role"] = "must be student, teacher or admin"
		}
	}
	if _, ok := ParseNotificationType(string(r.Type)); !ok {
		fields["type"] = "must be info, warning, success or error"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

func (r NotificationRequest) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

type NotificationStatus string

const (
	NotificationPending     NotificationStatus = "pending"
	NotificationDispatching NotificationStatus = "dispatching"
	NotificationSent        NotificationStatus = "sent"
	NotificationNoDevices   NotificationStatus = "no_devices"
	NotificationFailed      NotificationStatus = "failed"
	NotificationExpired     NotificationStatus = "expired"
)

// Notification is the stored per-recipient record of a dispatched request.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Type      NotificationType
	Link      string
	Status    NotificationStatus
	SendAt    time.Time
	ExpiresAt *time.Time
	CreatedAt time.Time
	SentAt    *time.Time
	// ClaimedAt is when a dispatcher took the record. Set only while the
	// record is dispatching.
	ClaimedAt *time.Time
}

func (n Notification) ExpiredAt(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}
