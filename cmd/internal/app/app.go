// Package app wires the latch server runtime: config, logging, storage, the
// auth services, the session sweeper, and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"latch/cmd/identity"
	"latch/cmd/internal/auth"
	authapi "latch/cmd/internal/auth/api"
	"latch/cmd/internal/auth/session"
	"latch/cmd/internal/credential"
	"latch/cmd/internal/migrations"
	"latch/cmd/internal/store/memstore"
	"latch/cmd/internal/telemetry"
	"latch/cmd/security/password"
	"latch/cmd/security/token"
)

// App is the latch server runtime.
type App struct {
	cfg Config
	log Logger

	// pool is nil in in-memory mode.
	pool *pgxpool.Pool

	metrics  *telemetry.Metrics
	sessions *session.Resolver
	authAPI  *authapi.Handler
	handler  http.Handler
}

type stores struct {
	accounts    identity.AccountStore
	credentials credential.Store
	sessions    session.Store
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	hasher, err := token.HasherFromEnv(cfg.RequireTokenHMAC, 32)
	if err != nil {
		return nil, err
	}

	st, pool, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := assemble(cfg, log, pool, st, pwCfg, sessCfg, hasher)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	return a, nil
}

func assemble(cfg Config, log Logger, pool *pgxpool.Pool, st stores, pwCfg password.Config, sessCfg session.Config, hasher token.Hasher) (*App, error) {
	metrics := telemetry.New()

	creds, err := credential.NewService(st.credentials, pwCfg,
		credential.WithLogger(log),
		credential.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	resolver, err := session.NewResolver(sessCfg, st.sessions, hasher,
		session.WithLogger(log),
		session.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	authenticator, err := auth.New(st.accounts, creds, resolver, log)
	if err != nil {
		return nil, err
	}

	authHandler, err := authapi.NewHandler(log, authenticator, authapi.LoadConfigFromEnv())
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		pool:     pool,
		metrics:  metrics,
		sessions: resolver,
		authAPI:  authHandler,
	}
	a.handler = a.routes()
	return a, nil
}

// newStores decides between Postgres-backed persistence and the in-memory dev store.
// The returned pool is owned by the caller.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store", "note", "accounts and sessions are lost on restart")
		mem := memstore.New()
		return stores{accounts: mem, credentials: mem, sessions: mem}, nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, nil, err
	}

	st, err := postgresStores(ctx, cfg, log, pool)
	if err != nil {
		pool.Close()
		return stores{}, nil, err
	}
	return st, pool, nil
}

func postgresStores(ctx context.Context, cfg Config, log Logger, pool *pgxpool.Pool) (stores, error) {
	if cfg.DBMigrate {
		if err := migrations.Up(ctx, pool, cfg.DBSchema); err != nil {
			return stores{}, err
		}
		log.Info("db.migrated", "schema", cfg.DBSchema)
	}

	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	creds, err := credential.NewPostgresStore(pool, cfg.DBSchema)
	if err != nil {
		return stores{}, err
	}
	sess, err := session.NewPostgresStore(pool, cfg.DBSchema)
	if err != nil {
		return stores{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return stores{accounts: accounts, credentials: creds, sessions: sess}, nil
}

// Run starts the HTTP server and the session sweeper and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.sessions.RunSweeper(sweepCtx, a.sessions.Config().SweepInterval)
	}()

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"db_enabled", a.pool != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	stopSweep()
	<-sweepDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	a.Close()
	a.log.Info("server.stopped")
	return runErr
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
