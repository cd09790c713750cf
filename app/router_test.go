package app

import (
	"bitwise74/captcha-gateway/db"
	"bitwise74/captcha-gateway/internal"
	"bitwise74/captcha-gateway/internal/model"
	"bitwise74/captcha-gateway/internal/solver"
	"bitwise74/captcha-gateway/pkg/middleware"
	"bitwise74/captcha-gateway/validators"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "router-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSolver struct {
	srv          *httptest.Server
	balanceReply string
	taskReply    string
	taskStatus   int
	calls        atomic.Int32
	lastKey      atomic.Value
	lastTask     atomic.Value
}

func newFakeSolver(t *testing.T) *fakeSolver {
	t.Helper()

	f := &fakeSolver{
		balanceReply: `{"status":"ok","balance":3.5,"plan":"basic"}`,
		taskReply:    `{"code":200,"msg":"ok","answers":[true,false]}`,
		taskStatus:   http.StatusOK,
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)

		switch r.URL.Path {
		case "/balance":
			f.lastKey.Store(r.URL.Query().Get("apiKey"))
			w.Write([]byte(f.balanceReply))
		case "/createTask":
			body, _ := io.ReadAll(r.Body)
			f.lastKey.Store(gjson.GetBytes(body, "apiKey").String())
			f.lastTask.Store(gjson.GetBytes(body, "task").Raw)
			w.WriteHeader(f.taskStatus)
			w.Write([]byte(f.taskReply))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)

	return f
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	solver *fakeSolver
	deps   *internal.Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:app_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(conn))

	fs := newFakeSolver(t)
	d := internal.NewDeps(conn, model.Settings{AppVersion: "1.1", UpstreamKey: "global-key"}, solver.NewClient(fs.srv.URL, time.Second), nil)
	d.Admin = internal.AdminSeed{Name: "Admin", Email: "admin@example.com"}

	return &testEnv{
		router: Routes(d, Options{Origins: []string{"*"}, JWTSecret: testSecret}),
		db:     conn,
		solver: fs,
		deps:   d,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) admin(t *testing.T) []string {
	t.Helper()

	token, err := middleware.NewAdminToken(testSecret, time.Hour)
	require.NoError(t, err)
	return []string{"Authorization", "Bearer " + token}
}

// seedVisitor creates an active user v1 holding key K
func (e *testEnv) seedVisitor(t *testing.T) {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/api_key", `{"key":"K","visitorId":"v1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) seedKeys(t *testing.T, keys ...string) {
	t.Helper()

	for _, k := range keys {
		require.NoError(t, e.db.Create(&model.APIKey{Key: k, Name: "name-" + k}).Error)
	}
}

func (e *testEnv) setSettings(t *testing.T, column string, value any) {
	t.Helper()

	_, _, err := e.deps.Settings.EnsureDefaults(t.Context())
	require.NoError(t, err)
	require.NoError(t, e.db.Model(&model.Settings{}).Where("id = ?", model.SettingsID).Update(column, value).Error)
}

func TestHeartbeat(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodHead, "/api/heartbeat", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestBindFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K", "L")

	w := e.do(t, http.MethodPost, "/api/api_key", `{"key":"K","visitorId":"v1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "valid", gjson.Get(w.Body.String(), "status").String())
	assert.Equal(t, "K", gjson.Get(w.Body.String(), "apiKey").String())
	assert.Equal(t, "name-K", gjson.Get(w.Body.String(), "name").String())
	assert.Equal(t, "v1", gjson.Get(w.Body.String(), "visitorId").String())
	assert.True(t, gjson.Get(w.Body.String(), "lastUsedAt").Exists())

	// Same pair again
	w = e.do(t, http.MethodPost, "/api/api_key", `{"key":"K","visitorId":"v1"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/api/api_key", `{"key":"L","visitorId":"v1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", gjson.Get(w.Body.String(), "status").String())

	w = e.do(t, http.MethodPost, "/api/api_key", `{"key":"K","visitorId":"v2"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unavailable", gjson.Get(w.Body.String(), "status").String())

	w = e.do(t, http.MethodPost, "/api/api_key", `{"key":"nope","visitorId":"v3"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invalid", gjson.Get(w.Body.String(), "status").String())
}

func TestBindValidation(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/api_key", `{"visitorId":"v1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", gjson.Get(w.Body.String(), "status").String())

	w = e.do(t, http.MethodPost, "/api/api_key", `{"key":"K"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "required", gjson.Get(w.Body.String(), "fields.VisitorID").String())

	w = e.do(t, http.MethodPost, "/api/api_key", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/api_key", `{"key":"`+strings.Repeat("a", 20<<10)+`","visitorId":"v1"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestAccessAllowed(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K")
	e.seedVisitor(t)

	w := e.do(t, http.MethodGet, "/api/access?visitorId=v1&app=1.1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"balance":3.5,"plan":"basic","status":"active"}`, w.Body.String())
	assert.Equal(t, "global-key", e.solver.lastKey.Load())
}

func TestAccessBalanceRejected(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K")
	e.seedVisitor(t)
	e.solver.balanceReply = `{"status":"error","error":"Invalid API key"}`

	w := e.do(t, http.MethodGet, "/api/access?visitorId=v1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid API key", gjson.Get(w.Body.String(), "error").String())
}

func TestAccessDenials(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/access", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/access?visitorId=ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "user_not_found", gjson.Get(w.Body.String(), "status").String())

	w = e.do(t, http.MethodGet, "/api/access?visitorId=ghost&app=1.0", "")
	assert.Equal(t, http.StatusUpgradeRequired, w.Code)
	assert.Equal(t, "update_required", gjson.Get(w.Body.String(), "status").String())
	assert.Equal(t, "1.0", gjson.Get(w.Body.String(), "currentVersion").String())
	assert.Equal(t, "1.1", gjson.Get(w.Body.String(), "requiredVersion").String())

	e.setSettings(t, "maintenance_mode", true)

	w = e.do(t, http.MethodGet, "/api/access?visitorId=ghost&app=1.0", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "maintenance_mode", gjson.Get(w.Body.String(), "status").String())
	assert.Zero(t, e.solver.calls.Load())
}

func TestAccessExpiredKey(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K")
	e.seedVisitor(t)

	past := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, e.db.Model(&model.APIKey{}).Where("key = ?", "K").Update("expires_at", past).Error)

	w := e.do(t, http.MethodGet, "/api/access?visitorId=v1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "expire", gjson.Get(w.Body.String(), "status").String())
}

func TestCreateTaskCompleted(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K")
	e.seedVisitor(t)

	w := e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"v1","task":{"type":"hcaptcha"},"source":"ext","appID":"app-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, e.solver.taskReply, w.Body.String())
	assert.Equal(t, "global-key", e.solver.lastKey.Load())

	var task model.Task
	require.NoError(t, e.db.First(&task).Error)
	assert.Equal(t, model.TaskCompleted, task.Status)
	assert.Equal(t, "app-1", task.AppID)
	assert.JSONEq(t, e.solver.taskReply, string(task.Result))
}

func TestCreateTaskOpaquePayload(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K")
	e.seedVisitor(t)

	for _, task := range []string{`"base64challenge=="`, `[{"img":"x"}]`, `42`} {
		w := e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"v1","task":`+task+`}`)
		require.Equal(t, http.StatusOK, w.Code, task)
		assert.JSONEq(t, task, e.solver.lastTask.Load().(string))
	}

	var n int64
	e.db.Model(&model.Task{}).Where("status = ?", model.TaskCompleted).Count(&n)
	assert.EqualValues(t, 3, n)
}

func TestCreateTaskFailed(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K")
	e.seedVisitor(t)
	e.solver.taskReply = `{"code":400,"msg":"bad"}`

	w := e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"v1","task":{}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad", gjson.Get(w.Body.String(), "error").String())
	assert.EqualValues(t, 400, gjson.Get(w.Body.String(), "code").Int())
	assert.Equal(t, "bad", gjson.Get(w.Body.String(), "response.msg").String())

	var task model.Task
	require.NoError(t, e.db.First(&task).Error)
	assert.Equal(t, model.TaskFailed, task.Status)
}

func TestCreateTaskUpstreamDown(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K")
	e.seedVisitor(t)
	e.solver.taskStatus = http.StatusBadGateway

	w := e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"v1","task":{}}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to connect to external service", gjson.Get(w.Body.String(), "error").String())
}

func TestCreateTaskDeniedAndInvalid(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"ghost","task":{}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "user_not_found", gjson.Get(w.Body.String(), "status").String())

	w = e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"v1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, validators.ErrTaskEmpty.Error(), gjson.Get(w.Body.String(), "error").String())

	w = e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"v1","task":null}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/createTask", `{"task":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, e.solver.calls.Load())
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/api/api_key", "/api/createTask/tasks", "/api/init/setup", "/metrics"} {
		w := e.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	admin := e.admin(t)

	w := e.do(t, http.MethodGet, "/api/api_key", "", admin...)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/api/init/setup", "", admin...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "created").Bool())
	assert.Equal(t, "admin@example.com", gjson.Get(w.Body.String(), "admin.email").String())
	assert.False(t, gjson.Get(w.Body.String(), "data.upstreamKey").Exists())
	assert.NotContains(t, w.Body.String(), "global-key")

	w = e.do(t, http.MethodGet, "/api/init/setup", "", admin...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "created").Bool())

	var admins int64
	e.db.Model(&model.User{}).Where("role = ?", "admin").Count(&admins)
	assert.EqualValues(t, 1, admins)

	w = e.do(t, http.MethodGet, "/metrics", "", admin...)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestTaskList(t *testing.T) {
	e := newTestEnv(t)
	e.seedKeys(t, "K")
	e.seedVisitor(t)
	admin := e.admin(t)

	e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"v1","task":{"n":1}}`)
	e.solver.taskReply = `{"code":500,"msg":"nope"}`
	e.do(t, http.MethodPost, "/api/createTask", `{"apiKey":"v1","task":{"n":2}}`)

	w := e.do(t, http.MethodGet, "/api/createTask/tasks", "", admin...)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tasks []model.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 2)
	assert.Equal(t, model.TaskFailed, body.Tasks[0].Status, "newest first")

	w = e.do(t, http.MethodGet, "/api/createTask/tasks?status=completed", "", admin...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, gjson.Get(w.Body.String(), "tasks.#").Int())

	w = e.do(t, http.MethodGet, "/api/createTask/tasks?status=weird", "", admin...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/createTask/tasks?limit=-1", "", admin...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCorsConfig(t *testing.T) {
	cfg := corsConfig([]string{"*"})
	assert.True(t, cfg.AllowAllOrigins)
	assert.False(t, cfg.AllowCredentials)

	cfg = corsConfig([]string{" https://a.example ", ""})
	assert.Equal(t, []string{"https://a.example"}, cfg.AllowOrigins)
	assert.True(t, cfg.AllowCredentials)
}

func TestMakeLogger(t *testing.T) {
	assert.NoError(t, makeLogger("debug"))
	assert.Error(t, makeLogger("chatty"))
}
