package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-music-auth/internal/credential"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/router"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/session"
	"github.com/ovaphlow/pitchfork/service-music-auth/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-music-auth/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-music-auth/pkg/database"
	"github.com/ovaphlow/pitchfork/service-music-auth/pkg/utilities"
)

// Store drivers accepted in STORE_DRIVER.
const (
	driverPostgres = "postgres"
	driverMongo    = "mongo"
	driverMemory   = "memory"
)

type serverConfig struct {
	Addr        string
	StoreDriver string
	AutoMigrate bool
	CORSOrigins []string
}

// serverConfigFromEnv reads HTTP_ADDR (or PORT), STORE_DRIVER, DB_AUTO_MIGRATE
// and CORS_ORIGINS.
func serverConfigFromEnv() serverConfig {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "5000"
		}
		addr = net.JoinHostPort("0.0.0.0", port)
	}
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver == "" {
		driver = driverPostgres
	}
	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return serverConfig{
		Addr:        addr,
		StoreDriver: driver,
		AutoMigrate: os.Getenv("DB_AUTO_MIGRATE") == "1",
		CORSOrigins: origins,
	}
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting music auth api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := serverConfigFromEnv()
	handler, cleanup, err := buildApp(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("http server listening", "addr", cfg.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	sugar.Info("shutting down")

	// give a short grace period for in-flight requests
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
	return nil
}

// buildApp wires configuration, store, credential manager, session issuer and
// routes. cleanup releases the store connection.
func buildApp(ctx context.Context, cfg serverConfig, sugar *zap.SugaredLogger) (http.Handler, func(), error) {
	sessCfg, err := session.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	tokens, err := session.NewIssuer(sessCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("session issuer: %w", err)
	}
	creds, err := credential.NewManagerFromConfig(credential.ConfigFromEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("credential manager: %w", err)
	}

	store, cleanup, err := openStore(ctx, cfg, sugar)
	if err != nil {
		return nil, nil, err
	}

	m := metrics.New()
	svc := user.NewUserService(store, creds, tokens, user.ConfigFromEnv()).
		WithHashObserver(m.ObserveHash)

	handler := router.RegisterRoutes(router.Deps{
		Logger:      sugar,
		Users:       user.NewHandler(svc, sugar, m),
		Tokens:      svc,
		Metrics:     m,
		CORSOrigins: cfg.CORSOrigins,
	})
	sugar.Infow("service configured",
		"password_algo", creds.Algorithm(),
		"token_issuer", sessCfg.Issuer,
		"token_ttl", tokens.TTL().String(),
	)
	return handler, cleanup, nil
}

func openStore(ctx context.Context, cfg serverConfig, sugar *zap.SugaredLogger) (user.Store, func(), error) {
	switch cfg.StoreDriver {
	case driverPostgres:
		db, err := database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := database.Migrate(ctx, db.DB); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			sugar.Info("database migrations applied")
		}
		return userrepo.NewUserRepo(db), func() { _ = db.Close() }, nil

	case driverMongo:
		mcfg := database.MongoConfigFromEnv()
		client, err := database.ConnectMongo(ctx, mcfg)
		if err != nil {
			return nil, nil, err
		}
		r := userrepo.NewMongoRepo(client.Database(mcfg.Database))
		if err := r.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return r, func() { _ = client.Disconnect(context.Background()) }, nil

	case driverMemory:
		sugar.Warn("using in-memory store; data is lost on restart")
		return userrepo.NewMemoryRepo(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
