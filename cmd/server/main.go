package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"TutorNotifyServer/internal/auth"
	"TutorNotifyServer/internal/config"
	"TutorNotifyServer/internal/httpapi"
	"TutorNotifyServer/internal/notifications"
	"TutorNotifyServer/internal/schedule"
	"TutorNotifyServer/internal/service"
	"TutorNotifyServer/internal/store/memory"
	"TutorNotifyServer/internal/store/postgres"
	"TutorNotifyServer/internal/store/redislock"
)

type stores struct {
	users         interface {
		service.UsersStore
		service.RecipientsStore
	}
	sessions      service.SessionsStore
	tokens        service.PushTokensStore
	notifications service.NotificationsStore
	ping          func(context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st stores
	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if cfg.DBMigrate {
			if err := postgres.Migrate(ctx, pgPool); err != nil {
				logger.Error("db migrate failed", "err", err)
				os.Exit(1)
			}
			logger.Info("db schema applied")
		}

		st = stores{
			users:         postgres.NewUsersStore(pgPool),
			sessions:      postgres.NewSessionsStore(pgPool),
			tokens:        postgres.NewPushTokensStore(pgPool),
			notifications: postgres.NewNotificationsStore(pgPool),
			ping:          pgPool.Ping,
		}
	} else {
		logger.Warn("APP_DB_DSN not set, using in-memory stores")
		st = stores{
			users:         memory.NewUsersStore(),
			sessions:      memory.NewSessionsStore(),
			tokens:        memory.NewPushTokensStore(),
			notifications: memory.NewNotificationsStore(),
		}
	}

	var sender service.PushSender
	if cfg.PushEnabled() {
		fcm, err := notifications.NewFCMSender(ctx, cfg.FCMProjectID, cfg.FCMCredentials)
		if err != nil {
			logger.Error("fcm init failed", "err", err)
			os.Exit(1)
		}
		sender = fcm
		logger.Info("push delivery enabled", "project_id", fcm.ProjectID())
	} else {
		logger.Info("push delivery disabled: set APP_FCM_PROJECT_ID and APP_FCM_CREDENTIALS")
	}

	// Without Redis every replica sweeps on its own; the sweeps are idempotent.
	var lock schedule.Locker
	if cfg.RedisAddr != "" {
		locker, err := redislock.Open(ctx, redislock.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Error("redis open failed", "err", err)
			os.Exit(1)
		}
		defer locker.Close()
		lock = locker
	}

	tokenSvc := &service.TokenService{
		Tokens:    st.tokens,
		ProjectID: cfg.FCMProjectID,
		Logger:    logger,
	}
	authSvc := &service.AuthService{
		Users:      st.users,
		Sessions:   st.sessions,
		Tokens:     tokenSvc,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}
	dispatchSvc := &service.DispatchService{
		Notifications: st.notifications,
		Tokens:        st.tokens,
		Recipients:    st.users,
		Sender:        sender,
		Logger:        logger,
		Concurrency:   cfg.DispatchConcurrency,
	}

	if err := authSvc.EnsureAdmin(ctx, cfg.AdminBootstrapEmail, cfg.AdminBootstrapUsername, cfg.AdminBootstrapPassword); err != nil {
		logger.Error("bootstrap admin failed", "err", err)
		os.Exit(1)
	}

	sweeper, err := service.NewTokenSweeperJob(tokenSvc, cfg.TokenCleanupInterval, cfg.TokenMaxAgeDays, lock, logger).Start(ctx)
	if err != nil {
		logger.Error("token sweeper start failed", "err", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	if sender != nil {
		routine, err := service.NewRoutineDispatchJob(dispatchSvc, cfg.RoutineInterval, lock, logger).Start(ctx)
		if err != nil {
			logger.Error("routine dispatch start failed", "err", err)
			os.Exit(1)
		}
		defer routine.Stop()
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterOpts{
			Logger:          logger,
			IsProd:          cfg.IsProd(),
			DBPing:          st.ping,
			Auth:            authSvc,
			Tokens:          tokenSvc,
			Dispatch:        dispatchSvc,
			SessionCodec:    auth.NewSessionCodec([]byte(cfg.CookieSecret)),
			CookieSecure:    cfg.CookieSecure(),
			SessionTTL:      cfg.SessionTTL,
			TokenMaxAgeDays: cfg.TokenMaxAgeDays,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
