package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"TutorNotifyServer/internal/device"
	"TutorNotifyServer/internal/domain"
)

const DefaultTokenMaxAgeDays = 30

type PushTokensStore interface {
	UpsertToken(ctx context.Context, userID, token string, platform domain.Platform, when time.Time) (domain.PushToken, error)
	TouchToken(ctx context.Context, userID, token string, when time.Time) (bool, error)
	DeleteToken(ctx context.Context, userID, token string) (int64, error)
	DeleteUserTokens(ctx context.Context, userID string) (int64, error)
	DeleteTokensInactiveSince(ctx context.Context, cutoff time.Time) (int64, error)
	ListTokens(ctx context.Context, userID string) ([]domain.PushToken, error)
	ListTokensForUsers(ctx context.Context, userIDs []string) ([]domain.PushToken, error)
}

// DeviceSession is the push token a caller holds for the current device. It is
// returned by RegisterPushToken and passed back into the calls that act on
// "this device".
type DeviceSession struct {
	Token    string
	Platform domain.Platform
}

func (d DeviceSession) HasToken() bool { return strings.TrimSpace(d.Token) != "" }

// TokenService is the push token registry and lifecycle manager. Store
// failures are logged and reported as failed Results; they never surface as
// errors so that login and logout can always complete.
type TokenService struct {
	Tokens    PushTokensStore
	ProjectID string
	Logger    *slog.Logger
	Now       func() time.Time
}

func (s *TokenService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *TokenService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *TokenService) RegisterPushToken(ctx context.Context, userID string, dev device.Device) (DeviceSession, domain.Result) {
	acquired, res := device.Acquire(ctx, dev, s.ProjectID)
	if !res.OK() {
		if res.Failed() {
			s.logger().Warn("push tokens: acquire failed", "err", res.Err, "user_id", userID)
		} else {
			s.logger().Debug("push tokens: registration skipped", "reason", string(res.Kind), "user_id", userID)
		}
		return DeviceSession{}, res
	}
	if s.Tokens == nil {
		return DeviceSession{}, domain.Failed(domain.ErrUnavailable)
	}

	if _, err := s.Tokens.UpsertToken(ctx, userID, acquired.Token, acquired.Platform, s.now()); err != nil {
		s.logger().Error("push tokens: register failed", "err", err, "user_id", userID)
		return DeviceSession{}, domain.Failed(err)
	}
	s.logger().Info("push tokens: registered", "user_id", userID, "platform", string(acquired.Platform))
	return DeviceSession{Token: acquired.Token, Platform: acquired.Platform}, domain.OK()
}

func (s *TokenService) UpdateTokenActivity(ctx context.Context, userID string, sess DeviceSession) domain.Result {
	if !sess.HasToken() {
		return domain.Skipped(domain.ResultSkippedNoToken)
	}
	if s.Tokens == nil {
		return domain.Failed(domain.ErrUnavailable)
	}
	found, err := s.Tokens.TouchToken(ctx, userID, sess.Token, s.now())
	if err != nil {
		s.logger().Error("push tokens: update activity failed", "err", err, "user_id", userID)
		return domain.Failed(err)
	}
	if !found {
		return domain.Skipped(domain.ResultSkippedNoToken)
	}
	return domain.OK()
}

func (s *TokenService) GetUserTokens(ctx context.Context, userID string) ([]domain.PushToken, error) {
	if s.Tokens == nil {
		return nil, domain.ErrUnavailable
	}
	return s.Tokens.ListTokens(ctx, userID)
}

// DeactivateCurrentDeviceToken removes only the row for the token held in sess.
// Without a held token it does nothing; the row, if any, ages out through
// CleanupOldTokens.
func (s *TokenService) DeactivateCurrentDeviceToken(ctx context.Context, userID string, sess DeviceSession) domain.Result {
	if !sess.HasToken() {
		return domain.Skipped(domain.ResultSkippedNoToken)
	}
	if s.Tokens == nil {
		return domain.Failed(domain.ErrUnavailable)
	}
	n, err := s.Tokens.DeleteToken(ctx, userID, strings.TrimSpace(sess.Token))
	if err != nil {
		s.logger().Error("push tokens: deactivate current device failed", "err", err, "user_id", userID)
		return domain.Failed(err)
	}
	s.logger().Info("push tokens: deactivated current device", "user_id", userID, "deleted", n)
	return domain.OK()
}

func (s *TokenService) DeactivateAllUserTokens(ctx context.Context, userID string) domain.Result {
	if s.Tokens == nil {
		return domain.Failed(domain.ErrUnavailable)
	}
	n, err := s.Tokens.DeleteUserTokens(ctx, userID)
	if err != nil {
		s.logger().Error("push tokens: deactivate all failed", "err", err, "user_id", userID)
		return domain.Failed(err)
	}
	s.logger().Info("push tokens: deactivated all devices", "user_id", userID, "deleted", n)
	return domain.OK()
}

// CleanupOldTokens deletes every token, for any user, whose last activity is
// older than daysOld days. daysOld <= 0 uses the current instant as cutoff.
func (s *TokenService) CleanupOldTokens(ctx context.Context, daysOld int) (int64, domain.Result) {
	if s.Tokens == nil {
		return 0, domain.Failed(domain.ErrUnavailable)
	}
	cutoff := s.now()
	if daysOld > 0 {
		cutoff = cutoff.AddDate(0, 0, -daysOld)
	}
	n, err := s.Tokens.DeleteTokensInactiveSince(ctx, cutoff)
	if err != nil {
		s.logger().Error("push tokens: cleanup failed", "err", err, "days_old", daysOld)
		return 0, domain.Failed(err)
	}
	s.logger().Info("push tokens: cleanup", "deleted", n, "cutoff", cutoff)
	return n, domain.OK()
}
