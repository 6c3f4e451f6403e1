// Command ratchetd serves the stage-gating API: policy evaluation,
// builder runs, and the append-only decision ledger.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crewline/ratchet/pkg/api"
	"github.com/crewline/ratchet/pkg/builder"
	"github.com/crewline/ratchet/pkg/config"
	"github.com/crewline/ratchet/pkg/contracts"
	"github.com/crewline/ratchet/pkg/gate"
	"github.com/crewline/ratchet/pkg/ledger"
	"github.com/crewline/ratchet/pkg/observability"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands; the default is serve.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}
	switch args[1] {
	case "serve":
		return runServe(stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "ratchetd 0.1.0")
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q (want serve, verify, or version)\n", args[1])
		return 2
	}
}

func runServe(stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "ratchetd",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       cfg.Environment != "production",
	})
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	repo, cleanup, err := openLedger(ctx, cfg)
	if err != nil {
		logger.Error("ledger init failed", "error", err, "backend", cfg.LedgerBackend)
		return 1
	}
	defer cleanup()

	catalog := contracts.DefaultCatalog()
	if cfg.CatalogPath != "" {
		f, err := os.Open(cfg.CatalogPath)
		if err != nil {
			logger.Error("catalog open failed", "error", err)
			return 1
		}
		catalog, err = contracts.LoadCatalog(f)
		_ = f.Close()
		if err != nil {
			logger.Error("catalog load failed", "error", err)
			return 1
		}
	}

	var guards *gate.GuardSet
	if cfg.ProfilePath != "" {
		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			logger.Error("profile load failed", "error", err)
			return 1
		}
		guards, err = gate.CompileGuards(profile.Guards)
		if err != nil {
			logger.Error("guard compile failed", "error", err)
			return 1
		}
		logger.Info("profile loaded", "name", profile.Name, "guards", len(profile.Guards))
	}

	metrics, err := gate.NewMetrics(obs.Meter())
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		return 1
	}

	registry, err := openRegistry(cfg)
	if err != nil {
		logger.Error("run registry init failed", "error", err)
		return 1
	}

	snapshots := gate.LedgerSnapshots{Repo: repo}
	srv := &api.Server{
		Gate: &gate.Executor{
			Snapshots:   snapshots,
			Ledger:      repo,
			Catalog:     catalog,
			Guards:      guards,
			Metrics:     metrics,
			Logger:      logger,
			Environment: cfg.Environment,
			Source:      "ratchetd",
		},
		Builder: &builder.Service{
			Ledger:   repo,
			Registry: registry,
			Schemas:  builder.NewSchemaRegistry(),
			Fetch:    snapshots.Fetch,
			Logger:   logger,
			Source:   "ratchetd",
		},
		Ledger:  repo,
		Logger:  logger,
		Limiter: api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "env", cfg.Environment,
			"ledger", cfg.LedgerBackend)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
			return 1
		}
		return 0
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server", "error", err)
			return 1
		}
		return 0
	}
}

func openLedger(ctx context.Context, cfg *config.Config) (ledger.Repository, func(), error) {
	switch cfg.LedgerBackend {
	case "memory":
		return ledger.NewMemoryRepository(), func() {}, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		// modernc sqlite serializes writes itself but not across conns.
		db.SetMaxOpenConns(1)
		repo := ledger.NewSQLRepository(db)
		if err := repo.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, func() { _ = db.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		repo := ledger.NewSQLRepository(db)
		if err := repo.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func openRegistry(cfg *config.Config) (builder.RunRegistry, error) {
	if cfg.RedisURL == "" {
		return builder.NewMemoryRunRegistry(), nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return builder.NewRedisRunRegistry(opt.Addr, opt.Password, opt.DB, 24*time.Hour), nil
}

// runVerify checks the hash chain of one robot's ledger against a SQLite
// file or a Postgres deployment.
func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	backend := fs.String("backend", "sqlite", "ledger backend: sqlite or postgres")
	path := fs.String("db", "ratchet.db", "SQLite database path")
	url := fs.String("url", "", "Postgres connection URL")
	tenant := fs.String("tenant", "", "tenant id")
	robot := fs.String("robot", "", "robot id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *tenant == "" || *robot == "" {
		_, _ = fmt.Fprintln(stderr, "verify requires -tenant and -robot")
		return 2
	}

	var db *sql.DB
	var err error
	switch *backend {
	case "sqlite":
		db, err = sql.Open("sqlite", *path)
	case "postgres":
		if *url == "" {
			_, _ = fmt.Fprintln(stderr, "verify -backend postgres requires -url")
			return 2
		}
		db, err = sql.Open("postgres", *url)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown backend %q (want sqlite or postgres)\n", *backend)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer db.Close()

	ctx := context.Background()
	repo := ledger.NewSQLRepository(db)
	entries, err := repo.ListByRobot(ctx, *tenant, *robot)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	if err := ledger.VerifyChain(entries); err != nil {
		_, _ = fmt.Fprintf(stderr, "chain broken: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "ok: %d entries, chain intact\n", len(entries))
	return 0
}
