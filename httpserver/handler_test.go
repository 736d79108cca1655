package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dacut/hpc-lab-maker/bootstrap"
	"github.com/dacut/hpc-lab-maker/cryptoutils"
	"github.com/dacut/hpc-lab-maker/identity"
	"github.com/dacut/hpc-lab-maker/instances"
	"github.com/dacut/hpc-lab-maker/interfaces"
	"github.com/dacut/hpc-lab-maker/session"
	"github.com/dacut/hpc-lab-maker/storage"
)

const testPassword = "Sup3r-Secret"

type MockInstances struct {
	mock.Mock
}

func (m *MockInstances) Do(ctx context.Context, user *interfaces.User, action string) error {
	return m.Called(ctx, user, action).Error(0)
}

func (m *MockInstances) Status(ctx context.Context, user *interfaces.User) (*interfaces.InstanceStatus, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.InstanceStatus), args.Error(1)
}

func (m *MockInstances) Screenshot(ctx context.Context, user *interfaces.User) ([]byte, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type testEnv struct {
	store       *storage.MemoryStore
	instances   *MockInstances
	provisioner *bootstrap.Provisioner
	server      *Server
	handler     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store := storage.NewMemoryStore(logger)
	require.NoError(t, store.PutEvent(ctx, &interfaces.Event{EventID: "ws1", NextUID: 5}))

	ident, err := identity.NewService(store, cryptoutils.NewRSAKeyGenerator(), identity.Config{PasswordRounds: 1000, KeyBits: 1024}, nil, logger)
	require.NoError(t, err)

	lifecycle := new(MockInstances)
	sessions := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour, false, logger)
	provisioner := bootstrap.NewProvisioner(store, 1000, nil, logger)

	srv, err := New(&HTTPServerConfig{Log: logger, DrainDuration: time.Millisecond},
		nil,
		NewHandler(ident, lifecycle, sessions, logger),
		NewAdminHandler(store, provisioner, logger),
	)
	require.NoError(t, err)

	return &testEnv{store: store, instances: lifecycle, provisioner: provisioner, server: srv, handler: srv.Handler()}
}

func (e *testEnv) do(method, path string, body interface{}, cookie *http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func registerBody(email string) identity.RegisterRequest {
	return identity.RegisterRequest{
		Email:          email,
		Password:       testPassword,
		PasswordVerify: testPassword,
		FullName:       "Ada Lovelace",
		EventID:        "ws1",
	}
}

// register creates a user and returns the session cookie and CSRF token.
func (e *testEnv) register(t *testing.T, email string) (*http.Cookie, string) {
	rec := e.do(http.MethodPost, "/api/register", registerBody(email), nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		User      map[string]interface{} `json:"user"`
		CSRFToken string                 `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	return cookie, resp.CSRFToken
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/register", registerBody("a@example.com"), nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		User      map[string]interface{} `json:"user"`
		CSRFToken string                 `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(5), resp.User["user_id"])
	assert.NotContains(t, resp.User, "password_hash")
	assert.NotEmpty(t, resp.CSRFToken)
	assert.NotContains(t, rec.Body.String(), "PRIVATE KEY")

	// Duplicate
	rec = env.do(http.MethodPost, "/api/register", registerBody("a@example.com"), nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), identity.ErrAlreadyExists.Error())
}

func TestRegister_Rejections(t *testing.T) {
	env := newTestEnv(t)

	weak := registerBody("a@example.com")
	weak.Password, weak.PasswordVerify = "short", "short"
	rec := env.do(http.MethodPost, "/api/register", weak, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Problems, "Password is too short.")

	unknown := registerBody("a@example.com")
	unknown.EventID = "nope"
	rec = env.do(http.MethodPost, "/api/register", unknown, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown event code")

	reserved := registerBody("a@example.com")
	reserved.EventID = interfaces.ReservedEventID
	rec = env.do(http.MethodPost, "/api/register", reserved, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@example.com")

	rec := env.do(http.MethodPost, "/api/login", loginRequest{Email: "a@example.com", Password: testPassword, EventID: "ws1"}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Result().Cookies())

	for _, req := range []loginRequest{
		{Email: "a@example.com", Password: "Wrong-Passw0rd", EventID: "ws1"},
		{Email: "b@example.com", Password: testPassword, EventID: "ws1"},
		{Email: "a@example.com", Password: testPassword, EventID: "nope"},
		{Email: "a@example.com", Password: testPassword, EventID: interfaces.ReservedEventID},
	} {
		rec := env.do(http.MethodPost, "/api/login", req, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%+v", req)
		assert.Contains(t, rec.Body.String(), identity.ErrNoMatch.Error())
	}

	rec = env.do(http.MethodPost, "/api/login", loginRequest{Email: "a@example.com"}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/dashboard", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie, _ := env.register(t, "a@example.com")
	env.instances.On("Status", mock.Anything, mock.MatchedBy(func(u *interfaces.User) bool {
		return u.Email == "a@example.com" && u.PasswordHash == ""
	})).Return(nil, nil).Once()

	rec = env.do(http.MethodGet, "/api/dashboard", nil, cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp["instance"])
	assert.NotContains(t, rec.Body.String(), "PRIVATE KEY")

	env.instances.On("Status", mock.Anything, mock.Anything).Return(nil, errors.New("RequestLimitExceeded")).Once()
	rec = env.do(http.MethodGet, "/api/dashboard", nil, cookie, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "RequestLimitExceeded")
}

func TestInstanceAction(t *testing.T) {
	env := newTestEnv(t)
	cookie, csrf := env.register(t, "a@example.com")
	withCSRF := map[string]string{session.CSRFHeader: csrf}

	rec := env.do(http.MethodPost, "/api/ec2", actionRequest{Action: "Launch"}, cookie, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.instances.On("Do", mock.Anything, mock.Anything, "Launch").Return(nil).Once()
	rec = env.do(http.MethodPost, "/api/ec2", actionRequest{Action: "Launch"}, cookie, withCSRF)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	env.instances.On("Do", mock.Anything, mock.Anything, "Launch").Return(instances.ErrInstanceAssigned).Once()
	rec = env.do(http.MethodPost, "/api/ec2", actionRequest{Action: "Launch"}, cookie, withCSRF)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.instances.On("Do", mock.Anything, mock.Anything, "Stop").Return(instances.ErrNoInstance).Once()
	rec = env.do(http.MethodPost, "/api/ec2", actionRequest{Action: "Stop"}, cookie, withCSRF)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.instances.On("Do", mock.Anything, mock.Anything, "Explode").Return(instances.ErrUnknownAction).Once()
	rec = env.do(http.MethodPost, "/api/ec2", actionRequest{Action: "Explode"}, cookie, withCSRF)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.instances.On("Do", mock.Anything, mock.Anything, "Reboot").Return(errors.New("IncorrectInstanceState: not running")).Once()
	rec = env.do(http.MethodPost, "/api/ec2", actionRequest{Action: "Reboot"}, cookie, withCSRF)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "IncorrectInstanceState: not running")

	env.instances.AssertExpectations(t)
}

func TestScreenshot(t *testing.T) {
	env := newTestEnv(t)
	cookie, _ := env.register(t, "a@example.com")

	env.instances.On("Screenshot", mock.Anything, mock.Anything).Return([]byte{0xff, 0xd8}, nil)

	rec := env.do(http.MethodGet, "/api/ec2/screenshot", nil, cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "max-age=30", rec.Header().Get("Cache-Control"))
	assert.Equal(t, []byte{0xff, 0xd8}, rec.Body.Bytes())
}

func TestSSHKey(t *testing.T) {
	env := newTestEnv(t)
	cookie, _ := env.register(t, "a@example.com")

	rec := env.do(http.MethodGet, "/api/ssh-key", nil, cookie, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private", rec.Header().Get("Cache-Control"))
	assert.Equal(t, `attachment; filename="ws1-private.pem"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "PRIVATE KEY")
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/logout", nil, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/livez", nil, nil, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", nil, nil, nil).Code)

	rec := env.do(http.MethodGet, "/drain", nil, nil, nil)
	assert.Contains(t, rec.Body.String(), `"draining"`)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/readyz", nil, nil, nil).Code)

	rec = env.do(http.MethodGet, "/drain", nil, nil, nil)
	assert.Contains(t, rec.Body.String(), "already draining")

	env.do(http.MethodGet, "/undrain", nil, nil, nil)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", nil, nil, nil).Code)
}
