package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"TutorNotifyServer/internal/auth"
	"TutorNotifyServer/internal/domain"
	"TutorNotifyServer/internal/service"
)

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	DBPing func(context.Context) error

	Auth         *service.AuthService
	Tokens       *service.TokenService
	Dispatch     *service.DispatchService
	SessionCodec auth.SessionCodec
	CookieSecure bool
	SessionTTL   time.Duration

	// TokenMaxAgeDays is the cleanup age used when a request does not name one.
	TokenMaxAgeDays int
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TokenMaxAgeDays <= 0 {
		opts.TokenMaxAgeDays = service.DefaultTokenMaxAgeDays
	}

	api := &api{
		logger:          logger,
		isProd:          opts.IsProd,
		dbPing:          opts.DBPing,
		authSvc:         opts.Auth,
		tokensSvc:       opts.Tokens,
		dispatchSvc:     opts.Dispatch,
		sessions:        opts.SessionCodec,
		cookieSecure:    opts.CookieSecure,
		sessionTTL:      opts.SessionTTL,
		tokenMaxAgeDays: opts.TokenMaxAgeDays,
		loginLimiter:    newLoginLimiter(),
	}

	publicMux := http.NewServeMux()
	apiMux := http.NewServeMux()

	publicMux.HandleFunc("GET /healthz", api.handleHealthz)

	if api.authSvc == nil || api.tokensSvc == nil {
		for _, p := range []string{
			"POST /v1/auth/login",
			"POST /v1/auth/logout",
			"GET /v1/users/me",
			"POST /v1/push-tokens",
			"GET /v1/push-tokens",
		} {
			apiMux.HandleFunc(p, handleNotImplemented)
		}
	} else {
		apiMux.HandleFunc("POST /v1/auth/login", api.handleAuthLogin)
		apiMux.HandleFunc("POST /v1/auth/logout", api.requireAuth(api.handleAuthLogout))
		apiMux.HandleFunc("GET /v1/users/me", api.requireAuth(api.handleUsersMe))

		apiMux.HandleFunc("POST /v1/push-tokens", api.requireAuth(api.handlePushTokensRegister))
		apiMux.HandleFunc("POST /v1/push-tokens/activity", api.requireAuth(api.handlePushTokensActivity))
		apiMux.HandleFunc("GET /v1/push-tokens", api.requireAuth(api.handlePushTokensList))
		apiMux.HandleFunc("DELETE /v1/push-tokens/current", api.requireAuth(api.handlePushTokensDeleteCurrent))
		apiMux.HandleFunc("DELETE /v1/users/{id}/push-tokens", api.requireAuth(api.handleUserPushTokensDelete))

		apiMux.HandleFunc("POST /v1/admin/users", api.requireRole(api.handleAdminUsersCreate, domain.RoleAdmin))
		apiMux.HandleFunc("POST /v1/admin/push-tokens/cleanup", api.requireRole(api.handleAdminPushTokensCleanup, domain.RoleAdmin))

		if api.dispatchSvc != nil {
			apiMux.HandleFunc("GET /v1/notifications", api.requireAuth(api.handleNotificationsList))
			apiMux.HandleFunc("POST /v1/notifications/send", api.requireRole(api.handleNotificationsSend, domain.RoleTeacher, domain.RoleAdmin))
			apiMux.HandleFunc("POST /v1/notifications/queue", api.requireRole(api.handleNotificationsQueue, domain.RoleTeacher, domain.RoleAdmin))
			apiMux.HandleFunc("POST /v1/notifications/dispatch-pending", api.requireRole(api.handleNotificationsDispatchPending, domain.RoleAdmin))
			apiMux.HandleFunc("POST /v1/notifications/routine", api.requireRole(api.handleNotificationsRoutine, domain.RoleAdmin))
		}
	}

	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := apiMux.Handler(r)
		if pattern == "" {
			handleV1NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/v1" {
			apiHandler.ServeHTTP(w, r)
			return
		}
		publicMux.ServeHTTP(w, r)
	})

	var h http.Handler = root
	h = RequestLogger(logger)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotImplemented, "not_implemented", "not implemented")
}

func handleV1NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

type api struct {
	logger *slog.Logger
	isProd bool

	dbPing func(context.Context) error

	authSvc         *service.AuthService
	tokensSvc       *service.TokenService
	dispatchSvc     *service.DispatchService
	sessions        auth.SessionCodec
	cookieSecure    bool
	sessionTTL      time.Duration
	tokenMaxAgeDays int

	loginLimiter *loginLimiter
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
