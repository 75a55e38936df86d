// CLMC Procurement: projects, personnel assignments and procurement records.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clmc/procurement/internal/account"
	procapi "github.com/clmc/procurement/internal/api"
	"github.com/clmc/procurement/internal/api/handler"
	"github.com/clmc/procurement/internal/assignment"
	"github.com/clmc/procurement/internal/auth"
	"github.com/clmc/procurement/internal/config"
	"github.com/clmc/procurement/internal/db"
	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/expense"
	"github.com/clmc/procurement/internal/health"
	"github.com/clmc/procurement/internal/history"
	"github.com/clmc/procurement/internal/notify"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/project"
	"github.com/clmc/procurement/internal/roles"
	"github.com/clmc/procurement/internal/seed"
	"github.com/clmc/procurement/internal/session"
	"github.com/clmc/procurement/internal/store"
	"github.com/clmc/procurement/internal/version"
	"github.com/clmc/procurement/internal/views"
	"github.com/clmc/procurement/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "clmc-procurement",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		LogFile:        cfg.Log.File,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting procurement", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	// --- Database and change feed --------------------------------------------
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	bus := events.NewBus(log)
	if pool != nil {
		relay := events.NewPGRelay(pool, bus, log)
		bus.SetRelay(relay)
		go relay.Listen(ctx)
	}
	st := store.New(gormDB, bus)

	if err := seed.Run(ctx, st, seed.AdminOptions{
		Email:    cfg.App.SeedAdminEmail,
		Password: cfg.App.SeedAdminPassword,
	}, log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	// --- Worker queue --------------------------------------------------------
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	reg := worker.NewRegistry()
	assignment.Register(reg, assignment.New(st, bus, log))
	history.Register(reg, st)
	notify.Register(reg, notify.FromConfig(cfg.Mail, log))

	wq, err := worker.New(pool, cfg.DB.Driver, reg, worker.Options{
		Concurrency: cfg.Worker.Concurrency,
		MaxAttempts: cfg.Worker.MaxAttempts,
	}, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- Services ------------------------------------------------------------
	sync := assignment.NewDispatcher(wq, log)
	refresh := auth.NewRefreshStore(gormDB, cfg.JWT.RefreshTTL)
	projects := project.New(st, history.New(st, wq, log), sync, expense.New(st), log)
	accounts := account.New(account.Config{
		Store:   st,
		Sync:    sync,
		Queue:   wq,
		Tokens:  refresh,
		BaseURL: cfg.App.BaseURL,
		Log:     log,
	})

	sessions := session.NewRegistry(st, st, bus, views.Factory(views.Deps{
		Store: st, Projects: projects, Bus: bus, Log: log,
	}), log)
	defer sessions.Close()
	accounts.SetSessions(sessions)
	go expireSessions(ctx, sessions, cfg.Session, log)

	// --- HTTP routes ---------------------------------------------------------
	healthHandler := health.New(db.NewPinger(gormDB), sessions)
	if pool != nil {
		healthHandler.AddCheck("event_relay", pool)
	}

	mux := http.NewServeMux()
	procapi.RegisterRoutes(mux, procapi.Handlers{
		Health:   healthHandler,
		Auth:     handler.NewAuthHandler(accounts, st, refresh, sessions, cfg.JWT.Secret, cfg.JWT.AccessTTL, log),
		Session:  handler.NewSessionHandler(sessions),
		Projects: handler.NewProjectHandler(projects),
		Users:    handler.NewUserHandler(accounts),
		Roles:    handler.NewRoleHandler(roles.NewService(st)),
		Records:  handler.NewRecordHandler(st),
	}, st, cfg.JWT.Secret)

	// SPA shell: serve embedded frontend from ui/dist
	registerSPA(mux, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      observability.HTTP(mux, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}

// expireSessions drops idle sessions every sweep interval until ctx is done.
func expireSessions(ctx context.Context, sessions *session.Registry, cfg config.SessionConfig, log *slog.Logger) {
	t := time.NewTicker(cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := sessions.Expire(cfg.IdleTTL); n > 0 {
				log.Info("expired idle sessions", "count", n)
			}
		}
	}
}
