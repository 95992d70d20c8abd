package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "8080")
	t.Setenv("STORE_DRIVER", " Memory ")
	t.Setenv("DB_AUTO_MIGRATE", "1")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg := serverConfigFromEnv()
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, driverMemory, cfg.StoreDriver)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestServerConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DB_AUTO_MIGRATE", "")
	t.Setenv("CORS_ORIGINS", "")

	cfg := serverConfigFromEnv()
	assert.Equal(t, "0.0.0.0:5000", cfg.Addr)
	assert.Equal(t, driverPostgres, cfg.StoreDriver)
	assert.False(t, cfg.AutoMigrate)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestBuildApp_Memory(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TOKEN_TTL", "")
	t.Setenv("PASSWORD_ALGO", "bcrypt")
	t.Setenv("BCRYPT_COST", "4")

	h, cleanup, err := buildApp(context.Background(), serverConfig{StoreDriver: driverMemory}, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(`{"email":"a@b.com","password":"Passw0rd"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBuildApp_Errors(t *testing.T) {
	t.Run("missing signing key", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, _, err := buildApp(context.Background(), serverConfig{StoreDriver: driverMemory}, zap.NewNop().Sugar())
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
		t.Setenv("TOKEN_TTL", "")
		t.Setenv("PASSWORD_ALGO", "bcrypt")
		t.Setenv("BCRYPT_COST", "4")
		_, _, err := buildApp(context.Background(), serverConfig{StoreDriver: "sqlite"}, zap.NewNop().Sugar())
		assert.ErrorContains(t, err, "unknown STORE_DRIVER")
	})
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
}
