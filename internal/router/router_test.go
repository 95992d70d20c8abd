package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-music-auth/internal/credential"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/session"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-music-auth/internal/user/repo"
)

type stubValidator struct {
	sub string
	err error
}

func (s stubValidator) Authenticate(context.Context, string) (string, error) { return s.sub, s.err }

func echoSubject(w http.ResponseWriter, r *http.Request) {
	sub, _ := session.SubjectFromContext(r.Context())
	_, _ = w.Write([]byte(sub))
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		v       stubValidator
		status  int
		outcome string
	}{
		{"valid", "Bearer tok", stubValidator{sub: "42"}, http.StatusOK, metrics.OutcomeSuccess},
		{"lowercase scheme", "bearer tok", stubValidator{sub: "42"}, http.StatusOK, metrics.OutcomeSuccess},
		{"missing header", "", stubValidator{sub: "42"}, http.StatusUnauthorized, metrics.OutcomeInvalid},
		{"wrong scheme", "Basic dXNlcg==", stubValidator{sub: "42"}, http.StatusUnauthorized, metrics.OutcomeInvalid},
		{"empty token", "Bearer ", stubValidator{sub: "42"}, http.StatusUnauthorized, metrics.OutcomeInvalid},
		{"bad signature", "Bearer tok", stubValidator{err: session.ErrInvalidSignature}, http.StatusUnauthorized, metrics.OutcomeInvalid},
		{"expired", "Bearer tok", stubValidator{err: session.ErrExpired}, http.StatusUnauthorized, metrics.OutcomeExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			h := Authenticate(tt.v, m, zap.NewNop().Sugar())(http.HandlerFunc(echoSubject))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "42", rec.Body.String())
			} else {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenValidationTotal.WithLabelValues(tt.outcome)))
		})
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	h := RequestLogger(zap.NewNop().Sugar())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 27)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestRequestLogger_LogsStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := RequestLogger(zap.New(core).Sugar())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/register", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "/api/register", fields["path"])
	assert.EqualValues(t, http.StatusCreated, fields["status"])
	assert.EqualValues(t, 5, fields["bytes"])
}

func TestSecureHeaders(t *testing.T) {
	h := SecureHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "https://api.example/", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "max-age=31536000", rec.Header().Get("Strict-Transport-Security"))
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	t.Run("preflight", func(t *testing.T) {
		h := CORSMiddleware([]string{"https://app.example"})(next)
		req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		h := CORSMiddleware([]string{"https://app.example"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard", func(t *testing.T) {
		h := CORSMiddleware(nil)(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://any.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	bc, err := credential.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := session.NewIssuer(session.Config{SigningKey: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	m := metrics.New()
	svc := user.NewUserService(userrepo.NewMemoryRepo(), credential.NewManager(bc), tokens, user.Config{}).
		WithHashObserver(m.ObserveHash)
	logger := zap.NewNop().Sugar()

	srv := httptest.NewServer(RegisterRoutes(Deps{
		Logger:  logger,
		Users:   user.NewHandler(svc, logger, m),
		Tokens:  svc,
		Metrics: m,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, method, url, token, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestRegisterRoutes_EndToEnd(t *testing.T) {
	srv := newTestServer(t)

	code, body := send(t, http.MethodGet, srv.URL+"/", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Welcome")

	code, body = send(t, http.MethodGet, srv.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = send(t, http.MethodPost, srv.URL+"/api/register", "", `{"email":"a@b.com","password":"Passw0rd"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body = send(t, http.MethodPost, srv.URL+"/api/login", "", `{"email":"a@b.com","password":"Passw0rd"}`)
	require.Equal(t, http.StatusOK, code)
	token := body[strings.Index(body, `"token":"`)+len(`"token":"`):]
	token = token[:strings.Index(token, `"`)]

	code, _ = send(t, http.MethodGet, srv.URL+"/api/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = send(t, http.MethodGet, srv.URL+"/api/me", token, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"email":"a@b.com"`)

	code, _ = send(t, http.MethodGet, srv.URL+"/api/users", "x"+token, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = send(t, http.MethodGet, srv.URL+"/metrics", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "music_auth_register_total")
	assert.Contains(t, body, "music_auth_hash_duration_seconds")
}
