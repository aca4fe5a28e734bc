package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"TutorNotifyServer/internal/auth"
	"TutorNotifyServer/internal/device"
	"TutorNotifyServer/internal/domain"
)

const minPasswordLen = 8

type UsersStore interface {
	CreateUser(ctx context.Context, email, username, passwordHash string, role domain.Role) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByLogin(ctx context.Context, login string) (domain.UserWithPassword, error)
	GetUserByEmail(ctx context.Context, email string) (domain.UserWithPassword, error)
	SetLastLogin(ctx context.Context, userID string, when time.Time) error
}

type SessionsStore interface {
	CreateSession(ctx context.Context, userID string, expiresAt time.Time, ip, userAgent string) (string, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	BindPushToken(ctx context.Context, sessionID, token string, platform domain.Platform) error
	RevokeSession(ctx context.Context, sessionID string, when time.Time) error
}

type AuthService struct {
	Users      UsersStore
	Sessions   SessionsStore
	Tokens     *TokenService
	SessionTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// LoginResult carries the new session and what happened to the device's push
// token. Push is never a reason for the login itself to fail.
type LoginResult struct {
	User      domain.User
	SessionID string
	Push      domain.Result
}

func (s *AuthService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *AuthService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *AuthService) Login(ctx context.Context, login, password, ip, userAgent string, dev device.Device) (LoginResult, error) {
	login = strings.TrimSpace(login)

	u, err := s.Users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return LoginResult{}, domain.ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if u.Status == domain.UserStatusDisabled {
		return LoginResult{}, domain.ErrUserDisabled
	}

	ok, err := auth.VerifyPassword(u.PasswordHash, password)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	now := s.now()
	sessID, err := s.Sessions.CreateSession(ctx, u.ID, now.Add(s.SessionTTL), ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}
	_ = s.Users.SetLastLogin(ctx, u.ID, now)

	push := s.RegisterSessionDevice(ctx, sessID, u.ID, dev)
	return LoginResult{User: u.User, SessionID: sessID, Push: push}, nil
}

// RegisterSessionDevice registers the device's push token for userID and
// remembers it on the session so that logout can remove exactly that token.
func (s *AuthService) RegisterSessionDevice(ctx context.Context, sessionID, userID string, dev device.Device) domain.Result {
	if s.Tokens == nil {
		return domain.Skipped(domain.ResultSkippedNoDevice)
	}
	held, res := s.Tokens.RegisterPushToken(ctx, userID, dev)
	if !res.OK() {
		return res
	}
	if err := s.Sessions.BindPushToken(ctx, sessionID, held.Token, held.Platform); err != nil {
		s.logger().Warn("auth: bind push token to session failed", "err", err, "user_id", userID)
	}
	return res
}

// CurrentDevice returns the push token bound to the session, or fallback when
// none is bound.
func (s *AuthService) CurrentDevice(ctx context.Context, sessionID, fallback string) (DeviceSession, error) {
	sess, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return DeviceSession{}, domain.ErrUnauthorized
		}
		return DeviceSession{}, err
	}
	return deviceForSession(sess, fallback), nil
}

// Logout removes the current device's push token, then revokes the session.
// A missing or already revoked session is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID, fallbackToken string) error {
	sess, err := s.Sessions.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		if s.Tokens != nil {
			res := s.Tokens.DeactivateCurrentDeviceToken(ctx, sess.UserID, deviceForSession(sess, fallbackToken))
			if res.Skipped() {
				s.logger().Debug("auth: logout left push tokens untouched", "reason", string(res.Kind), "user_id", sess.UserID)
			}
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return err
	}
	return s.Sessions.RevokeSession(ctx, sessionID, s.now())
}

func (s *AuthService) GetUserForSession(ctx context.Context, sessionID string) (domain.User, error) {
	sess, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}

	u, err := s.Users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}
	if u.Status == domain.UserStatusDisabled {
		return domain.User{}, domain.ErrForbidden
	}

	return u, nil
}

// CreateUser creates an account with the given role. Only admins reach this
// through the API.
func (s *AuthService) CreateUser(ctx context.Context, email, username, password string, role domain.Role) (domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)

	fields := map[string]string{}
	if username == "" {
		fields["username"] = "required"
	}
	if email != "" && !strings.Contains(email, "@") {
		fields["email"] = "invalid"
	}
	if len(password) < minPasswordLen {
		fields["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLen)
	}
	parsed, ok := domain.ParseRole(string(role))
	if !ok {
		fields["role"] = "must be student, teacher or admin"
	}
	if len(fields) > 0 {
		return domain.User{}, domain.NewValidationError(fields)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	return s.Users.CreateUser(ctx, email, username, hash, parsed)
}

// EnsureAdmin creates the bootstrap admin account unless a user with that
// email already exists. An empty password disables bootstrapping.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, username, password string) error {
	if password == "" {
		return nil
	}
	if len(password) < 12 {
		return errors.New("APP_ADMIN_BOOTSTRAP_PASSWORD: must be at least 12 characters")
	}
	if email == "" || username == "" {
		return errors.New("admin bootstrap: email and username are required")
	}

	_, err := s.Users.GetUserByEmail(ctx, email)
	if err == nil {
		s.logger().Info("admin bootstrap: user already exists", "email", email)
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("admin bootstrap: lookup user: %w", err)
	}

	if _, err := s.CreateUser(ctx, email, username, password, domain.RoleAdmin); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) || errors.Is(err, domain.ErrUsernameTaken) {
			s.logger().Info("admin bootstrap: user already exists", "email", email)
			return nil
		}
		return fmt.Errorf("admin bootstrap: create user: %w", err)
	}
	s.logger().Info("admin bootstrap: created admin user", "email", email)
	return nil
}

func deviceForSession(sess domain.Session, fallback string) DeviceSession {
	if strings.TrimSpace(sess.PushToken) != "" {
		return DeviceSession{Token: sess.PushToken, Platform: sess.PushPlatform}
	}
	return DeviceSession{Token: strings.TrimSpace(fallback)}
}
