// Package app wires the evacom runtime: config, logging, tracing, the
// verification service, the Telegram bot, the optional service console and
// the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"evacom/cmd/internal/audit"
	"evacom/cmd/internal/console"
	"evacom/cmd/internal/telegram"
	"evacom/cmd/internal/verify"
	"evacom/cmd/security/challenge"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-running component and their shared resources.
type App struct {
	cfg Config
	log Logger

	dbPool   *pgxpool.Pool
	registry *prometheus.Registry

	auditStore audit.Store
	recorder   *audit.Recorder

	reaper  *verify.Reaper
	bot     *telegram.Bot
	console *console.Gateway

	shutdownTracing func(context.Context) error
}

// New constructs a fully wired App. It dials Telegram, so a bad token fails here.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	verifyCfg, err := verify.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, verifyCfg.SecretKey, log); err != nil {
		return nil, err
	}
	tgCfg, err := telegram.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	consoleCfg, err := console.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:             cfg,
		log:             log,
		registry:        newRegistry(),
		shutdownTracing: func(context.Context) error { return nil },
	}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	if a.shutdownTracing, err = SetupTracing(ctx, cfg.OTelEndpoint, "evacom"); err != nil {
		return nil, err
	}
	if err := a.openAudit(ctx); err != nil {
		return nil, err
	}

	var auditor audit.Auditor = audit.Nop{}
	if a.auditStore != nil {
		a.recorder = audit.NewRecorder(a.auditStore, log, cfg.AuditBuffer)
		auditor = a.recorder
	}

	client, err := telegram.Dial(tgCfg)
	if err != nil {
		return nil, err
	}
	log.Info("telegram.connected", "bot", client.Username())
	caps := telegram.NewCapabilities(client, tgCfg)

	store := verify.NewMemoryStore(verifyCfg, nil)
	verifyMetrics := verify.NewMetrics(a.registry, store)
	svc, err := verify.NewService(verifyCfg, verify.Deps{
		Store:        store,
		Capabilities: caps,
		Log:          log,
		Metrics:      verifyMetrics,
		Audit:        auditor,
	})
	if err != nil {
		return nil, err
	}

	a.reaper = verify.NewReaper(store, verifyCfg.ReaperInterval, log, verifyMetrics)
	a.bot = telegram.NewBot(client, svc, caps, tgCfg, log, telegram.NewMetrics(a.registry))

	if consoleCfg.Enabled {
		secret, err := challenge.SecretKey(verifyCfg.SecretKey, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", verify.ErrConfig, err)
		}
		a.console = console.NewGateway(secret, consoleCfg, log, console.NewMetrics(a.registry))
	}

	ok = true
	return a, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// openAudit picks the audit backend: Postgres when a database URL is set,
// then SQLite when a path is set, otherwise none.
func (a *App) openAudit(ctx context.Context) error {
	switch {
	case a.cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return err
		}
		a.dbPool = pool

		st, err := audit.NewPostgresStore(pool, audit.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
		a.auditStore = st
		a.log.Info("audit.enabled", "backend", "postgres", "schema", a.cfg.DBSchema)

	case a.cfg.AuditSQLitePath != "":
		st, err := audit.OpenSQLite(ctx, a.cfg.AuditSQLitePath)
		if err != nil {
			return err
		}
		a.auditStore = st
		a.log.Info("audit.enabled", "backend", "sqlite", "path", a.cfg.AuditSQLitePath)

	default:
		a.log.Info("audit.disabled")
	}
	return nil
}

// Run serves HTTP and runs the bot, reaper and audit writer until ctx is done
// or any of them fails. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           newHandler(a.log, a.cfg, a.dbPool, a.registry, a.console),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	attrs := []any{"addr", a.cfg.HTTPAddr, "url", base, "db_enabled", a.dbPool != nil}
	if a.console != nil {
		attrs = append(attrs, "console_ws", wsBaseURL(base)+"/console/ws")
	}
	a.log.Info("server.start", attrs...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error { return a.reaper.Run(gctx) })
	g.Go(func() error { return a.bot.Run(gctx) })
	if a.recorder != nil {
		g.Go(func() error { return a.recorder.Run(gctx) })
	}

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.close(closeCtx)

	a.log.Info("server.stopped")
	return err
}

func (a *App) close(ctx context.Context) {
	if a.auditStore != nil {
		if err := a.auditStore.Close(); err != nil {
			a.log.Error("audit.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.log.Error("otel.shutdown.fail", "err", err)
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
