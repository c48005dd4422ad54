package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUsername    = "owner"
	testPassword    = "Str0ng-Passw0rd!"
	testRecoveryKey = "correct horse battery staple"
	testRemoteAddr  = "192.0.2.10:41000"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type testServer struct {
	srv     *server
	handler http.Handler
	clock   *testClock
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Server: config.ServerConfig{
			Listen:      "127.0.0.1:0",
			Environment: "development",
		},
		Auth: config.AuthConfig{
			TokenSecret:   "test-signing-secret",
			SessionTTL:    "4h",
			CSRFTTL:       "1h",
			CookieName:    config.DefaultCookieName,
			RecoveryDelay: "10ms",
			LoginLimit:    config.WindowLimit{Limit: 5, Window: "15m"},
			RecoveryLimit: config.WindowLimit{Limit: 3, Window: "30m"},
			Bootstrap: config.BootstrapConfig{
				Username:    testUsername,
				Password:    testPassword,
				RecoveryKey: testRecoveryKey,
			},
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
		},
		Storage: config.StorageConfig{
			MaxUploadSize: "64KB",
			Local: &config.LocalStorageConfig{
				Enabled: true,
				Dir:     t.TempDir(),
			},
		},
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	srv := newServer(log, cfg)
	srv.now = clock.Now

	require.NoError(t, srv.setup(context.Background()))

	t.Cleanup(func() { _ = srv.Stop() })

	return &testServer{srv: srv, handler: srv.buildRouter(), clock: clock}
}

// session is a logged-in client.
type session struct {
	cookie *http.Cookie
	csrf   string
}

type requestOption func(*http.Request)

func withSession(sess *session) requestOption {
	return func(r *http.Request) {
		if sess.cookie != nil {
			r.AddCookie(sess.cookie)
		}
	}
}

func withCSRF(token string) requestOption {
	return func(r *http.Request) { r.Header.Set(csrfHeader, token) }
}

func withRemote(addr string) requestOption {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func (ts *testServer) do(
	t *testing.T, method, path string, body any, opts ...requestOption,
) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = testRemoteAddr

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	return rec
}

// mutate sends an authorized state-changing request.
func (ts *testServer) mutate(
	t *testing.T, sess *session, method, path string, body any,
) *httptest.ResponseRecorder {
	t.Helper()

	return ts.do(t, method, path, body, withSession(sess), withCSRF(sess.csrf))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == config.DefaultCookieName {
			return c
		}
	}

	return nil
}

func (ts *testServer) login(t *testing.T) *session {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": testUsername,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)

	return &session{cookie: cookie, csrf: body["csrfToken"].(string)}
}

func TestLogin_IssuesCookieAndCSRFToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": testUsername,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure, "secure cookies are production only")
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int((4 * time.Hour).Seconds()), cookie.MaxAge)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["csrfToken"])

	user := body["user"].(map[string]any)
	assert.Equal(t, testUsername, user["username"])
	assert.Equal(t, true, user["isAdmin"])
}

func TestLogin_Production_SecureCookie(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Environment = config.EnvironmentProduction
	})

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": testUsername,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.Secure)
}

func TestLogin_Failures(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
		code int
	}{
		{
			name: "wrong password",
			body: map[string]any{"username": testUsername, "password": "nope"},
			code: http.StatusUnauthorized,
		},
		{
			name: "unknown user",
			body: map[string]any{"username": "ghost", "password": testPassword},
			code: http.StatusUnauthorized,
		},
		{
			name: "missing password",
			body: map[string]any{"username": testUsername},
			code: http.StatusBadRequest,
		},
		{
			name: "reset without new password",
			body: map[string]any{"username": testUsername, "password": testPassword, "isReset": true},
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", tt.body)
			assert.Equal(t, tt.code, rec.Code)

			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Nil(t, sessionCookie(rec))
		})
	}

	// Unknown user and wrong password are indistinguishable.
	other := withRemote("198.51.100.1:5000")
	a := decodeBody(t, ts.do(t, http.MethodPost, "/api/v1/auth/login",
		map[string]any{"username": testUsername, "password": "nope"}, other))
	b := decodeBody(t, ts.do(t, http.MethodPost, "/api/v1/auth/login",
		map[string]any{"username": "ghost", "password": "nope"}, other))
	assert.Equal(t, a["message"], b["message"])
}

func TestLogin_MissingSecretIsServerError(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.TokenSecret = ""
	})

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": testUsername,
		"password": testPassword,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, sessionCookie(rec))
}

func TestMutationGuard_RequiresCSRFToken(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.login(t)

	class := map[string]any{"title": "Yoga", "active": true}

	t.Run("no session", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/admin/classes", class, withCSRF(sess.csrf))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing csrf token", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/admin/classes", class, withSession(sess))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Invalid or missing CSRF token", decodeBody(t, rec)["message"])
	})

	t.Run("wrong csrf token", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/admin/classes", class,
			withSession(sess), withCSRF("not-the-token"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("oversized body without session", func(t *testing.T) {
		big := map[string]any{"title": strings.Repeat("x", maxJSONBody)}

		rec := ts.do(t, http.MethodPost, "/api/v1/admin/trainers", big)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = ts.do(t, http.MethodPost, "/api/v1/admin/trainers", big, withSession(sess))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("tampered session token", func(t *testing.T) {
		tampered := &session{
			cookie: &http.Cookie{Name: sess.cookie.Name, Value: sess.cookie.Value + "x"},
			csrf:   sess.csrf,
		}

		rec := ts.mutate(t, tampered, http.MethodPost, "/api/v1/admin/classes", class)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("header token", func(t *testing.T) {
		rec := ts.mutate(t, sess, http.MethodPost, "/api/v1/admin/classes", class)
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("body token", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/admin/classes", map[string]any{
			"title":     "Boxing",
			"csrfToken": sess.csrf,
		}, withSession(sess))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		data := decodeBody(t, rec)["data"].(map[string]any)
		assert.Equal(t, "Boxing", data["title"])
	})

	t.Run("reads are not guarded", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/classes", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody(t, rec)["data"], 2)
	})
}

func TestAuthCheckAndLogout(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/auth/check", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess := ts.login(t)

	rec = ts.do(t, http.MethodGet, "/api/v1/auth/check", nil, withSession(sess))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, sess.csrf, body["csrfToken"], "live token is returned, not rotated")
	assert.Equal(t, testUsername, body["user"].(map[string]any)["username"])

	// Logout is itself a guarded mutation.
	rec = ts.do(t, http.MethodPost, "/api/v1/auth/logout", nil, withSession(sess))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.mutate(t, sess, http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	// The CSRF token died with the session.
	rec = ts.mutate(t, sess, http.MethodPost, "/api/v1/admin/classes",
		map[string]any{"title": "Yoga"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogin_Lockout(t *testing.T) {
	ts := newTestServer(t)

	for i := range 5 {
		rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
			"username": testUsername,
			"password": "wrong-password",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	good := map[string]any{"username": testUsername, "password": testPassword}

	// Correct credentials do not help, and a spoofed forwarding header is
	// ignored without trust_proxy.
	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", good,
		withHeader("X-Forwarded-For", "203.0.113.7"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Nil(t, sessionCookie(rec))

	ts.clock.Advance(15*time.Minute + time.Second)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", good)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLogin_TrustedProxyKeysByForwardedFor(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.TrustProxy = true
	})

	bad := map[string]any{"username": testUsername, "password": "wrong-password"}

	for range 5 {
		rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", bad,
			withHeader("X-Forwarded-For", "203.0.113.7, 10.0.0.1"))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", bad,
		withHeader("X-Forwarded-For", "203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", bad,
		withHeader("X-Forwarded-For", "198.51.100.20"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_SuccessResetsAttempts(t *testing.T) {
	ts := newTestServer(t)

	bad := map[string]any{"username": testUsername, "password": "wrong-password"}

	for range 4 {
		require.Equal(t, http.StatusUnauthorized,
			ts.do(t, http.MethodPost, "/api/v1/auth/login", bad).Code)
	}

	ts.login(t)

	for range 5 {
		assert.Equal(t, http.StatusUnauthorized,
			ts.do(t, http.MethodPost, "/api/v1/auth/login", bad).Code)
	}
}

func TestLogin_PasswordRotation(t *testing.T) {
	ts := newTestServer(t)

	const newPassword = "An0ther-Str0ng-One"

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username":    testUsername,
		"password":    testPassword,
		"isReset":     true,
		"newPassword": "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "at least 12 characters")

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username":    testUsername,
		"password":    testPassword,
		"isReset":     true,
		"newPassword": "Aa1!" + strings.Repeat("x", 80),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "at most 72 bytes")

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username":    testUsername,
		"password":    testPassword,
		"isReset":     true,
		"newPassword": newPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": testUsername,
		"password": testPassword,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": testUsername,
		"password": newPassword,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecover(t *testing.T) {
	ts := newTestServer(t)

	const newPassword = "Rec0vered-Passw0rd"

	wrongKey := ts.do(t, http.MethodPost, "/api/v1/auth/recover", map[string]any{
		"username":    testUsername,
		"recoveryKey": "wrong key",
		"newPassword": newPassword,
	})
	require.Equal(t, http.StatusUnauthorized, wrongKey.Code)

	unknownUser := ts.do(t, http.MethodPost, "/api/v1/auth/recover", map[string]any{
		"username":    "ghost",
		"recoveryKey": testRecoveryKey,
		"newPassword": newPassword,
	})
	require.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.Equal(t, decodeBody(t, wrongKey)["message"], decodeBody(t, unknownUser)["message"])

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/recover", map[string]any{
		"username":    testUsername,
		"recoveryKey": testRecoveryKey,
		"newPassword": newPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Fourth attempt in the window.
	rec = ts.do(t, http.MethodPost, "/api/v1/auth/recover", map[string]any{
		"username":    testUsername,
		"recoveryKey": testRecoveryKey,
		"newPassword": newPassword,
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"username": testUsername,
		"password": newPassword,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecover_WeakPassword(t *testing.T) {
	tests := []struct {
		name        string
		newPassword string
		message     string
	}{
		{name: "missing classes", newPassword: "alllowercaseletters", message: "must contain"},
		{name: "longer than bcrypt accepts", newPassword: "Aa1!" + strings.Repeat("x", 80), message: "at most 72 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(t, http.MethodPost, "/api/v1/auth/recover", map[string]any{
				"username":    testUsername,
				"recoveryKey": testRecoveryKey,
				"newPassword": tt.newPassword,
			})
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, decodeBody(t, rec)["message"], tt.message)

			// The stored password is unchanged.
			rec = ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
				"username": testUsername,
				"password": testPassword,
			})
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.login(t)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	multipartBody := func(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
		t.Helper()

		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)

		fw, err := mw.CreateFormFile(uploadField, name)
		require.NoError(t, err)

		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		return buf, mw.FormDataContentType()
	}

	send := func(t *testing.T, content []byte, withCookie bool) *httptest.ResponseRecorder {
		t.Helper()

		buf, contentType := multipartBody(t, "photo.png", content)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/uploads", buf)
		req.RemoteAddr = testRemoteAddr
		req.Header.Set("Content-Type", contentType)

		if withCookie {
			req.AddCookie(sess.cookie)
		}

		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)

		return rec
	}

	t.Run("requires session", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, send(t, png, false).Code)
	})

	t.Run("rejects non-images", func(t *testing.T) {
		rec := send(t, []byte("just some text"), true)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("rejects oversized files", func(t *testing.T) {
		rec := send(t, append(png, bytes.Repeat([]byte{1}, 70<<10)...), true)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("stores and serves an image", func(t *testing.T) {
		rec := send(t, png, true)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		url, _ := decodeBody(t, rec)["url"].(string)
		assert.True(t, strings.HasPrefix(url, "/uploads/images/2026/03/"), url)
		assert.True(t, strings.HasSuffix(url, ".png"), url)

		get := ts.do(t, http.MethodGet, url, nil)
		require.Equal(t, http.StatusOK, get.Code)
		assert.Equal(t, png, get.Body.Bytes())

		listing := ts.do(t, http.MethodGet, "/uploads/images/", nil)
		assert.Equal(t, http.StatusNotFound, listing.Code)
	})
}

func TestUpload_Disabled(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Storage.Local = nil
	})
	sess := ts.login(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/uploads", nil, withSession(sess))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}
