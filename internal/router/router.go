package router

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-music-auth/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/session"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/user"
	"github.com/ovaphlow/pitchfork/service-music-auth/pkg/utilities"
)

// RequestIDHeader carries the per-request id in both directions.
const RequestIDHeader = "X-Request-Id"

// TokenValidator resolves a bearer token to its subject.
type TokenValidator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// RequestLogger tags each request with an id (reusing the caller's
// X-Request-Id when sent) and logs method, path, status, size and latency at
// debug level once the handler returns.
func RequestLogger(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = utilities.NewKSUID()
			}
			w.Header().Set(RequestIDHeader, id)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			began := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				logger.Debugw("http request",
					"request_id", id,
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"latency", time.Since(began).String(),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
}

// SecureHeaders stamps the API's fixed response headers; HSTS is added only
// on TLS connections.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware answers preflight requests and allows the configured origins.
// An empty list or "*" allows any origin.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate requires "Authorization: Bearer <token>". Every failure is a 401.
func Authenticate(v TokenValidator, m *metrics.Metrics, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				m.TokenValidation(metrics.OutcomeInvalid)
				unauthorized(w)
				return
			}
			sub, err := v.Authenticate(r.Context(), token)
			if err != nil {
				outcome := metrics.OutcomeInvalid
				if errors.Is(err, session.ErrExpired) {
					outcome = metrics.OutcomeExpired
				}
				m.TokenValidation(outcome)
				logger.Debugw("bearer token rejected", "err", err)
				unauthorized(w)
				return
			}
			m.TokenValidation(metrics.OutcomeSuccess)
			next.ServeHTTP(w, r.WithContext(session.ContextWithSubject(r.Context(), sub)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"message":"unauthorized"}` + "\n"))
}

// Deps are the collaborators the routes are mounted on.
type Deps struct {
	Logger      *zap.SugaredLogger
	Users       *user.Handler
	Tokens      TokenValidator
	Metrics     *metrics.Metrics
	CORSOrigins []string
}

// RegisterRoutes mounts all HTTP handlers on a chi router.
func RegisterRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(d.Logger), middleware.Recoverer, SecureHeaders, CORSMiddleware(d.CORSOrigins))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Welcome to the music app API"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", d.Users.Register)
		r.Post("/login", d.Users.Login)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(d.Tokens, d.Metrics, d.Logger))
			r.Get("/me", d.Users.Me)
			r.Get("/users", d.Users.List)
			r.Get("/user/{id}", d.Users.Get)
			r.Put("/user/{id}", d.Users.Update)
			r.Delete("/user/{id}", d.Users.Delete)
		})
	})
	return r
}
