package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"TutorNotifyServer/internal/domain"
	"TutorNotifyServer/internal/notifications"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDispatchConcurrency = 8
	defaultDispatchBatchSize   = 200
	defaultClaimLease          = 10 * time.Minute
)

type NotificationsStore interface {
	CreateNotifications(ctx context.Context, userIDs []string, n domain.Notification) ([]domain.Notification, error)
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Notification, error)
	SetStatus(ctx context.Context, id string, status domain.NotificationStatus, sentAt *time.Time) error
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}

type RecipientsStore interface {
	ListActiveUserIDs(ctx context.Context, ids []string, role domain.Role) ([]string, error)
}

type PushSender interface {
	Send(ctx context.Context, token string, msg notifications.Message) error
}

type Policy string

const (
	PolicyImmediate       Policy = "immediate"
	PolicyPendingDispatch Policy = "pending_dispatch"
	PolicyRoutine         Policy = "routine"
)

// DispatchReport counts successful device sends and lists the records created
// or processed by one batch.
type DispatchReport struct {
	Sent            int
	NotificationIDs []string
}

// BatchResult is the shared reporting shape of every batch policy. Success is
// false only when the batch as a whole failed.
type BatchResult struct {
	Policy          Policy
	Success         bool
	Sent            int
	NotificationIDs []string
	Err             error
}

type DispatchService struct {
	Notifications NotificationsStore
	Tokens        PushTokensStore
	Recipients    RecipientsStore
	Sender        PushSender
	Logger        *slog.Logger
	Now           func() time.Time

	// Concurrency bounds the number of recipients delivered in parallel.
	Concurrency int
	// BatchSize is how many queued records one claim takes.
	BatchSize int
	// ClaimLease is how long a record may stay dispatching before a later
	// sweep takes it over. It must outlast one delivery.
	ClaimLease time.Duration
}

func (s *DispatchService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *DispatchService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *DispatchService) ready() error {
	if s.Notifications == nil || s.Tokens == nil || s.Recipients == nil || s.Sender == nil {
		return domain.ErrUnavailable
	}
	return nil
}

// Send resolves the recipients of req, records one notification per
// recipient and pushes it to each of their devices now.
func (s *DispatchService) Send(ctx context.Context, req domain.NotificationRequest) (DispatchReport, error) {
	if err := s.ready(); err != nil {
		return DispatchReport{}, err
	}
	req, err := normalizeRequest(req)
	if err != nil {
		return DispatchReport{}, err
	}
	now := s.now()
	if req.ExpiredAt(now) {
		return DispatchReport{}, domain.ErrExpired
	}

	recipients, err := s.resolve(ctx, req.Recipients)
	if err != nil {
		return DispatchReport{}, err
	}
	if len(recipients) == 0 {
		return DispatchReport{}, nil
	}

	records, err := s.Notifications.CreateNotifications(ctx, recipients, recordTemplate(req, domain.NotificationDispatching, now, now))
	if err != nil {
		return DispatchReport{}, fmt.Errorf("create notification records: %w", err)
	}

	sent, err := s.deliver(ctx, records)
	if err != nil {
		return DispatchReport{}, err
	}
	return DispatchReport{Sent: sent, NotificationIDs: recordIDs(records)}, nil
}

// Queue records req for every recipient as pending until sendAt. The records
// are delivered by DispatchPending or the routine sweep.
func (s *DispatchService) Queue(ctx context.Context, req domain.NotificationRequest, sendAt time.Time) ([]string, error) {
	if s.Notifications == nil || s.Recipients == nil {
		return nil, domain.ErrUnavailable
	}
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if sendAt.IsZero() {
		sendAt = now
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(sendAt) {
		return nil, domain.NewValidationError(map[string]string{"expires_at": "must be after send_at"})
	}

	recipients, err := s.resolve(ctx, req.Recipients)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, nil
	}
	records, err := s.Notifications.CreateNotifications(ctx, recipients, recordTemplate(req, domain.NotificationPending, sendAt.UTC(), now))
	if err != nil {
		return nil, fmt.Errorf("queue notification records: %w", err)
	}
	s.logger().Info("notifications: queued", "count", len(records), "send_at", sendAt)
	return recordIDs(records), nil
}

func (s *DispatchService) Immediate(ctx context.Context, req domain.NotificationRequest) BatchResult {
	report, err := s.Send(ctx, req)
	return s.finish(PolicyImmediate, report, err)
}

func (s *DispatchService) DispatchPending(ctx context.Context) BatchResult {
	report, err := s.flushDue(ctx)
	return s.finish(PolicyPendingDispatch, report, err)
}

// Routine is the scheduled sweep. It delivers the same due records as
// DispatchPending and differs only in who triggers it.
func (s *DispatchService) Routine(ctx context.Context) BatchResult {
	report, err := s.flushDue(ctx)
	return s.finish(PolicyRoutine, report, err)
}

func (s *DispatchService) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if s.Notifications == nil {
		return nil, domain.ErrUnavailable
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.Notifications.ListForUser(ctx, userID, limit)
}

func (s *DispatchService) finish(policy Policy, report DispatchReport, err error) BatchResult {
	res := BatchResult{
		Policy:          policy,
		Success:         err == nil,
		Sent:            report.Sent,
		NotificationIDs: report.NotificationIDs,
		Err:             err,
	}
	if err != nil {
		s.logger().Error("notifications: batch failed", "policy", string(policy), "err", err)
	} else {
		s.logger().Info("notifications: batch done", "policy", string(policy), "sent", report.Sent, "records", len(report.NotificationIDs))
	}
	return res
}

func (s *DispatchService) flushDue(ctx context.Context) (DispatchReport, error) {
	if err := s.ready(); err != nil {
		return DispatchReport{}, err
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = defaultDispatchBatchSize
	}

	lease := s.ClaimLease
	if lease <= 0 {
		lease = defaultClaimLease
	}

	var report DispatchReport
	for {
		now := s.now()
		records, err := s.Notifications.ClaimDue(ctx, now, now.Add(-lease), batch)
		if err != nil {
			return report, fmt.Errorf("claim due notifications: %w", err)
		}
		if len(records) == 0 {
			return report, nil
		}
		sent, err := s.deliver(ctx, records)
		report.Sent += sent
		report.NotificationIDs = append(report.NotificationIDs, recordIDs(records)...)
		if err != nil {
			return report, err
		}
		if len(records) < batch {
			return report, nil
		}
	}
}

func (s *DispatchService) resolve(ctx context.Context, target domain.Target) ([]string, error) {
	ids := lo.Uniq(lo.Compact(lo.Map(target.UserIDs, func(id string, _ int) string { return strings.TrimSpace(id) })))
	out, err := s.Recipients.ListActiveUserIDs(ctx, ids, target.Role)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	return lo.Uniq(out), nil
}

// deliver pushes every record to its recipient's devices and stores the
// outcome per record. Per-recipient failures are logged; only a failure to
// load device tokens fails the batch.
func (s *DispatchService) deliver(ctx context.Context, records []domain.Notification) (int, error) {
	userIDs := lo.Uniq(lo.Map(records, func(n domain.Notification, _ int) string { return n.UserID }))
	tokens, err := s.Tokens.ListTokensForUsers(ctx, userIDs)
	if err != nil {
		status := domain.NotificationFailed
		if ctx.Err() != nil {
			status = domain.NotificationPending
		}
		for _, rec := range records {
			s.setStatus(ctx, rec.ID, status, nil)
		}
		return 0, fmt.Errorf("load device tokens: %w", err)
	}
	byUser := lo.GroupBy(tokens, func(t domain.PushToken) string { return t.UserID })

	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultDispatchConcurrency
	}
	var (
		g    errgroup.Group
		sent atomic.Int64
	)
	g.SetLimit(limit)
	for _, rec := range records {
		g.Go(func() error {
			sent.Add(int64(s.deliverOne(ctx, rec, byUser[rec.UserID])))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return int(sent.Load()), fmt.Errorf("deliver notifications: %w", err)
	}
	return int(sent.Load()), nil
}

// deliverOne pushes rec to tokens and stores its outcome. A record that the
// caller's cancellation kept from reaching any device goes back to pending.
func (s *DispatchService) deliverOne(ctx context.Context, rec domain.Notification, tokens []domain.PushToken) int {
	if ctx.Err() != nil {
		s.setStatus(ctx, rec.ID, domain.NotificationPending, nil)
		return 0
	}
	now := s.now()
	if rec.ExpiredAt(now) {
		s.setStatus(ctx, rec.ID, domain.NotificationExpired, nil)
		return 0
	}
	if len(tokens) == 0 {
		s.setStatus(ctx, rec.ID, domain.NotificationNoDevices, nil)
		return 0
	}

	sent := 0
	for _, tok := range tokens {
		err := s.Sender.Send(ctx, tok.Token, buildMessage(rec, tok.Platform))
		if err == nil {
			sent++
			continue
		}
		if errors.Is(err, notifications.ErrInvalidToken) {
			if _, delErr := s.Tokens.DeleteToken(ctx, rec.UserID, tok.Token); delErr != nil {
				s.logger().Error("notifications: delete invalid token failed", "err", delErr, "user_id", rec.UserID)
			}
			continue
		}
		s.logger().Warn("notifications: send failed", "err", err, "user_id", rec.UserID, "notification_id", rec.ID)
	}

	if sent == 0 {
		status := domain.NotificationFailed
		if ctx.Err() != nil {
			status = domain.NotificationPending
		}
		s.setStatus(ctx, rec.ID, status, nil)
		return 0
	}
	s.setStatus(ctx, rec.ID, domain.NotificationSent, &now)
	return sent
}

// setStatus records an outcome even after ctx is cancelled, so a record never
// stays dispatching because its caller went away.
func (s *DispatchService) setStatus(ctx context.Context, id string, status domain.NotificationStatus, sentAt *time.Time) {
	if err := s.Notifications.SetStatus(context.WithoutCancel(ctx), id, status, sentAt); err != nil {
		s.logger().Error("notifications: set status failed", "err", err, "notification_id", id, "status", string(status))
	}
}

// buildMessage renders a record as a push. Android apps render data-only
// messages themselves; iOS and web need the alert block.
func buildMessage(rec domain.Notification, platform domain.Platform) notifications.Message {
	data := map[string]string{
		"notification_id": rec.ID,
		"type":            string(rec.Type),
		"title":           rec.Title,
		"body":            rec.Body,
	}
	if rec.Link != "" {
		data["link"] = rec.Link
	}
	msg := notifications.Message{Data: data}
	if platform != domain.PlatformAndroid {
		msg.Notification = &notifications.Notification{Title: rec.Title, Body: rec.Body}
	}
	return msg
}

func normalizeRequest(req domain.NotificationRequest) (domain.NotificationRequest, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	req.Link = strings.TrimSpace(req.Link)
	if err := req.Validate(); err != nil {
		return req, err
	}
	req.Type, _ = domain.ParseNotificationType(string(req.Type))
	if req.Recipients.Role != "" {
		req.Recipients.Role, _ = domain.ParseRole(string(req.Recipients.Role))
	}
	return req, nil
}

func recordTemplate(req domain.NotificationRequest, status domain.NotificationStatus, sendAt, now time.Time) domain.Notification {
	var claimedAt *time.Time
	if status == domain.NotificationDispatching {
		claimedAt = &now
	}
	return domain.Notification{
		Title:     req.Title,
		Body:      req.Body,
		Type:      req.Type,
		Link:      req.Link,
		Status:    status,
		SendAt:    sendAt,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now,
		ClaimedAt: claimedAt,
	}
}

func recordIDs(records []domain.Notification) []string {
	return lo.Map(records, func(n domain.Notification, _ int) string { return n.ID })
}
