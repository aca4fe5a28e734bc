package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"TutorNotifyServer/internal/auth"
	"TutorNotifyServer/internal/domain"
	"TutorNotifyServer/internal/notifications"
	"TutorNotifyServer/internal/service"
	"TutorNotifyServer/internal/store/memory"
)

type recordingSender struct {
	mu     sync.Mutex
	tokens []string
}

func (s *recordingSender) Send(_ context.Context, token string, _ notifications.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type testEnv struct {
	handler http.Handler
	authSvc *service.AuthService
	tokens  *memory.PushTokensStore
	sender  *recordingSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := memory.NewUsersStore()
	tokens := memory.NewPushTokensStore()
	tokenSvc := &service.TokenService{Tokens: tokens, Logger: logger}
	authSvc := &service.AuthService{
		Users:      users,
		Sessions:   memory.NewSessionsStore(),
		Tokens:     tokenSvc,
		SessionTTL: time.Hour,
		Logger:     logger,
	}
	sender := &recordingSender{}
	dispatchSvc := &service.DispatchService{
		Notifications: memory.NewNotificationsStore(),
		Tokens:        tokens,
		Recipients:    users,
		Sender:        sender,
		Logger:        logger,
	}

	return &testEnv{
		handler: NewRouter(RouterOpts{
			Logger:       logger,
			Auth:         authSvc,
			Tokens:       tokenSvc,
			Dispatch:     dispatchSvc,
			SessionCodec: auth.NewSessionCodec([]byte(strings.Repeat("s", 32))),
			SessionTTL:   time.Hour,
		}),
		authSvc: authSvc,
		tokens:  tokens,
		sender:  sender,
	}
}

func (e *testEnv) createUser(t *testing.T, username string, role domain.Role) domain.User {
	t.Helper()
	u, err := e.authSvc.CreateUser(context.Background(), username+"@example.com", username, "password-123", role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) do(t *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T, username, dev string) loginResponse {
	t.Helper()
	body := `{"login":"` + username + `","password":"password-123"`
	if dev != "" {
		body += `,"device":` + dev
	}
	body += `}`
	rr := e.do(t, http.MethodPost, "/v1/auth/login", "", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rr.Code, rr.Body.String())
	}
	var resp loginResponse
	decodeResponse(t, rr, &resp)
	return resp
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	decodeResponse(t, rr, &env)
	return env.Error.Code
}

const iosDevice = `{"physical_device":true,"permission":"granted","token":"%s","platform":"ios"}`

func deviceJSON(token string) string {
	return strings.Replace(iosDevice, "%s", token, 1)
}

func TestLoginWithDeviceAndLogout(t *testing.T) {
	e := newTestEnv(t)
	u := e.createUser(t, "sara", domain.RoleStudent)

	phone := e.login(t, "sara", deviceJSON("phone-token"))
	if phone.Push.Status != string(domain.ResultOK) || phone.SessionToken == "" || phone.User.Role != "student" {
		t.Fatalf("unexpected login response: %+v", phone)
	}
	tablet := e.login(t, "sara", deviceJSON("tablet-token"))

	rr := e.do(t, http.MethodGet, "/v1/push-tokens", phone.SessionToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list tokens: %d", rr.Code)
	}
	var list struct {
		Tokens []pushTokenResponse `json:"tokens"`
	}
	decodeResponse(t, rr, &list)
	if len(list.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %+v", list.Tokens)
	}

	rr = e.do(t, http.MethodPost, "/v1/auth/logout", phone.SessionToken, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout: %d %s", rr.Code, rr.Body.String())
	}
	left, _ := e.tokens.ListTokens(context.Background(), u.ID)
	if len(left) != 1 || left[0].Token != "tablet-token" {
		t.Fatalf("logout must only remove this device's token, got %+v", left)
	}

	if rr := e.do(t, http.MethodGet, "/v1/users/me", phone.SessionToken, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session should be unauthorized, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/users/me", tablet.SessionToken, ""); rr.Code != http.StatusOK {
		t.Fatalf("other session should remain valid, got %d", rr.Code)
	}
}

func TestLoginWithoutPermissionStillSucceeds(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "omar", domain.RoleStudent)

	resp := e.login(t, "omar", `{"physical_device":true,"permission":"denied"}`)
	if resp.Push.Status != string(domain.ResultSkippedPermissionDenied) {
		t.Fatalf("expected skipped_permission_denied, got %s", resp.Push.Status)
	}
	if e.tokens.Len() != 0 {
		t.Fatalf("denied permission must not store a token")
	}
}

func TestLoginRejectsBadCredentialsAndJSON(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "lee", domain.RoleTeacher)

	rr := e.do(t, http.MethodPost, "/v1/auth/login", "", `{"login":"lee","password":"wrong-password"}`)
	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d", rr.Code)
	}
	rr = e.do(t, http.MethodPost, "/v1/auth/login", "", `{"login":"lee","password":"x","extra":1}`)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "bad_json" {
		t.Fatalf("expected bad_json for unknown field, got %d", rr.Code)
	}
	rr = e.do(t, http.MethodPost, "/v1/auth/login", "", `{"login":"lee","password":"password-123","device":{"physical_device":true,"permission":"granted","token":"t","platform":"symbian"}}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected validation error for bad platform, got %d", rr.Code)
	}
	var env errorEnvelope
	decodeResponse(t, rr, &env)
	if env.Error.Fields["platform"] == "" {
		t.Fatalf("expected platform field in error, got %+v", env.Error)
	}
}

func TestPushTokenEndpoints(t *testing.T) {
	e := newTestEnv(t)
	u := e.createUser(t, "sara", domain.RoleStudent)
	sess := e.login(t, "sara", "")

	rr := e.do(t, http.MethodPost, "/v1/push-tokens", sess.SessionToken, `{"physical_device":false}`)
	var res resultResponse
	decodeResponse(t, rr, &res)
	if rr.Code != http.StatusOK || res.Status != string(domain.ResultSkippedNoDevice) {
		t.Fatalf("simulator register: %d %+v", rr.Code, res)
	}

	rr = e.do(t, http.MethodPost, "/v1/push-tokens", sess.SessionToken, deviceJSON("late-token"))
	decodeResponse(t, rr, &res)
	if rr.Code != http.StatusOK || res.Status != string(domain.ResultOK) {
		t.Fatalf("register: %d %+v", rr.Code, res)
	}

	rr = e.do(t, http.MethodPost, "/v1/push-tokens/activity", sess.SessionToken, "")
	decodeResponse(t, rr, &res)
	if rr.Code != http.StatusOK || res.Status != string(domain.ResultOK) {
		t.Fatalf("activity for bound token: %d %+v", rr.Code, res)
	}

	rr = e.do(t, http.MethodDelete, "/v1/push-tokens/current", sess.SessionToken, "")
	decodeResponse(t, rr, &res)
	if rr.Code != http.StatusOK || res.Status != string(domain.ResultOK) {
		t.Fatalf("delete current: %d %+v", rr.Code, res)
	}
	if left, _ := e.tokens.ListTokens(context.Background(), u.ID); len(left) != 0 {
		t.Fatalf("expected token removed, got %+v", left)
	}
}

func TestDeleteCurrentWithoutTokenIsSkipped(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "sara", domain.RoleStudent)
	sess := e.login(t, "sara", "")

	rr := e.do(t, http.MethodDelete, "/v1/push-tokens/current", sess.SessionToken, "")
	var res resultResponse
	decodeResponse(t, rr, &res)
	if rr.Code != http.StatusOK || res.Status != string(domain.ResultSkippedNoToken) {
		t.Fatalf("expected skipped_no_token, got %d %+v", rr.Code, res)
	}
}

func TestDeleteAllUserTokensAuthorization(t *testing.T) {
	e := newTestEnv(t)
	sara := e.createUser(t, "sara", domain.RoleStudent)
	e.createUser(t, "omar", domain.RoleStudent)
	e.createUser(t, "root", domain.RoleAdmin)

	e.login(t, "sara", deviceJSON("sara-phone"))
	omar := e.login(t, "omar", deviceJSON("omar-phone"))
	admin := e.login(t, "root", "")

	if rr := e.do(t, http.MethodDelete, "/v1/users/"+sara.ID+"/push-tokens", omar.SessionToken, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("student deleting another user's tokens: expected 403, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodDelete, "/v1/users/me/push-tokens", omar.SessionToken, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("self delete: expected 204, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodDelete, "/v1/users/"+sara.ID+"/push-tokens", admin.SessionToken, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("admin delete: expected 204, got %d", rr.Code)
	}
	if e.tokens.Len() != 0 {
		t.Fatalf("expected all tokens removed, got %d", e.tokens.Len())
	}
}

func TestAdminCleanup(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "sara", domain.RoleStudent)
	e.createUser(t, "root", domain.RoleAdmin)
	student := e.login(t, "sara", deviceJSON("sara-phone"))
	admin := e.login(t, "root", "")

	if rr := e.do(t, http.MethodPost, "/v1/admin/push-tokens/cleanup", student.SessionToken, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("student cleanup: expected 403, got %d", rr.Code)
	}

	rr := e.do(t, http.MethodPost, "/v1/admin/push-tokens/cleanup", admin.SessionToken, "")
	var out cleanupResponse
	decodeResponse(t, rr, &out)
	if rr.Code != http.StatusOK || out.Deleted != 0 || out.DaysOld != service.DefaultTokenMaxAgeDays {
		t.Fatalf("default cleanup: %d %+v", rr.Code, out)
	}

	time.Sleep(5 * time.Millisecond)
	rr = e.do(t, http.MethodPost, "/v1/admin/push-tokens/cleanup", admin.SessionToken, `{"days_old":0}`)
	decodeResponse(t, rr, &out)
	if rr.Code != http.StatusOK || out.Deleted != 1 {
		t.Fatalf("cleanup(0): %d %+v", rr.Code, out)
	}

	if rr := e.do(t, http.MethodPost, "/v1/admin/push-tokens/cleanup", admin.SessionToken, `{"days_old":-1}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative days: expected 400, got %d", rr.Code)
	}
}

func TestAdminCreateUser(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "root", domain.RoleAdmin)
	admin := e.login(t, "root", "")

	rr := e.do(t, http.MethodPost, "/v1/admin/users", admin.SessionToken, `{"email":"t@example.com","username":"ms_lee","password":"password-123","role":"teacher"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var u userResponse
	decodeResponse(t, rr, &u)
	if u.Role != "teacher" || u.Username != "ms_lee" {
		t.Fatalf("unexpected user: %+v", u)
	}

	rr = e.do(t, http.MethodPost, "/v1/admin/users", admin.SessionToken, `{"username":"ms_lee","password":"password-123"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rr.Code)
	}
	rr = e.do(t, http.MethodPost, "/v1/admin/users", admin.SessionToken, `{"username":"x","password":"password-123"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("short username: expected 400, got %d", rr.Code)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "sara", domain.RoleStudent)
	e.createUser(t, "omar", domain.RoleStudent)
	e.createUser(t, "lee", domain.RoleTeacher)
	e.createUser(t, "root", domain.RoleAdmin)

	sara := e.login(t, "sara", deviceJSON("sara-phone"))
	e.login(t, "omar", deviceJSON("omar-phone"))
	teacher := e.login(t, "lee", "")
	admin := e.login(t, "root", "")

	body := `{"recipients":{"role":"student"},"title":"Exam","body":"Chemistry exam moved to Friday"}`
	if rr := e.do(t, http.MethodPost, "/v1/notifications/send", sara.SessionToken, body); rr.Code != http.StatusForbidden {
		t.Fatalf("student send: expected 403, got %d", rr.Code)
	}

	rr := e.do(t, http.MethodPost, "/v1/notifications/send", teacher.SessionToken, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("teacher send: %d %s", rr.Code, rr.Body.String())
	}
	var batch batchResponse
	decodeResponse(t, rr, &batch)
	if !batch.Success || batch.Sent != 2 || len(batch.NotificationIDs) != 2 || batch.Policy != "immediate" {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	rr = e.do(t, http.MethodPost, "/v1/notifications/queue", teacher.SessionToken, `{"recipients":{"role":"student"},"body":"Reminder"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("queue: %d %s", rr.Code, rr.Body.String())
	}

	if rr := e.do(t, http.MethodPost, "/v1/notifications/dispatch-pending", teacher.SessionToken, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("teacher dispatch-pending: expected 403, got %d", rr.Code)
	}
	rr = e.do(t, http.MethodPost, "/v1/notifications/dispatch-pending", admin.SessionToken, "")
	decodeResponse(t, rr, &batch)
	if rr.Code != http.StatusOK || batch.Sent != 2 || batch.Policy != "pending_dispatch" {
		t.Fatalf("dispatch-pending: %d %+v", rr.Code, batch)
	}
	rr = e.do(t, http.MethodPost, "/v1/notifications/routine", admin.SessionToken, "")
	decodeResponse(t, rr, &batch)
	if rr.Code != http.StatusOK || batch.Sent != 0 || len(batch.NotificationIDs) != 0 {
		t.Fatalf("routine after flush: %d %+v", rr.Code, batch)
	}
	if e.sender.count() != 4 {
		t.Fatalf("expected 4 pushes total, got %d", e.sender.count())
	}

	rr = e.do(t, http.MethodGet, "/v1/notifications", sara.SessionToken, "")
	var list struct {
		Notifications []notificationResponse `json:"notifications"`
	}
	decodeResponse(t, rr, &list)
	if rr.Code != http.StatusOK || len(list.Notifications) != 2 {
		t.Fatalf("list: %d %+v", rr.Code, list)
	}
}

func TestNotificationSendValidation(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "lee", domain.RoleTeacher)
	teacher := e.login(t, "lee", "")

	rr := e.do(t, http.MethodPost, "/v1/notifications/send", teacher.SessionToken, `{"recipients":{},"body":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var env errorEnvelope
	decodeResponse(t, rr, &env)
	if env.Error.Fields["body"] == "" || env.Error.Fields["recipients"] == "" {
		t.Fatalf("expected body and recipients fields, got %+v", env.Error.Fields)
	}

	rr = e.do(t, http.MethodPost, "/v1/notifications/send", teacher.SessionToken, `{"recipients":{"role":"student"},"body":"late","expires_at":"2001-01-01T00:00:00Z"}`)
	if rr.Code != http.StatusGone {
		t.Fatalf("expected 410 for expired notification, got %d", rr.Code)
	}
}

func TestUnauthenticatedAndUnknownRoutes(t *testing.T) {
	e := newTestEnv(t)

	if rr := e.do(t, http.MethodGet, "/v1/push-tokens", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/push-tokens", "forged.value", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/nope", "", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr := e.do(t, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRouterWithoutServicesReportsNotImplemented(t *testing.T) {
	h := NewRouter(RouterOpts{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}
