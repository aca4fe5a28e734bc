package domain

import (
	"strings"
	"time"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

type User struct {
	ID          string
	Email       string
	Username    string
	Role        Role
	Status      UserStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// CanDispatch reports whether the user may send notifications to others.
func (u User) CanDispatch() bool {
	return u.Role == RoleTeacher || u.Role == RoleAdmin
}

type UserWithPassword struct {
	User
	PasswordHash string
}

// Session is an authenticated login. PushToken is the device token acquired
// when the session was opened; it is what logout deactivates.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	PushToken    string
	PushPlatform Platform
}
