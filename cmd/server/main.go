/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the household ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional), config file and LEDGER_ environment variables
  2. Apply command-line overrides and validate
  3. Initialize logger, SQLite store (migrations run on open) and locker
  4. Create the plan engine and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file path (default: ./config.toml when present)
  -port    HTTP server port, overrides http.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Close locker and database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Share locks between processes
  LEDGER_LOCK_BACKEND=redis LEDGER_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/household-ledger/advance"
	"github.com/warp/household-ledger/api"
	"github.com/warp/household-ledger/config"
	"github.com/warp/household-ledger/logging"
	"github.com/warp/household-ledger/store/redislock"
	"github.com/warp/household-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "Config file path")
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.HTTP.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logConfig(cfg.Log))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	engine := advance.NewEngine(store,
		advance.WithLogger(logger.Named("engine")),
		advance.WithLocker(locker),
		advance.WithLockTimeout(cfg.Lock.Timeout),
		advance.WithMaxInstallments(cfg.Plan.MaxInstallments),
	)

	handler := api.NewHandler(engine)
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger.Named("http"),
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		StaticDir:      cfg.HTTP.StaticDir,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
			zap.String("lock_backend", cfg.Lock.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// newLocker returns the configured advance.Locker and its cleanup func.
func newLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (advance.Locker, func(), error) {
	if cfg.Lock.Backend != "redis" {
		return advance.NewKeyedMutex(), func() {}, nil
	}

	locker, err := redislock.New(ctx, redislock.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.TTL,
	}, logger.Named("lock"))
	if err != nil {
		return nil, nil, err
	}
	return locker, func() {
		if err := locker.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}, nil
}

// logConfig fills unset fields from logging.DefaultConfig.
func logConfig(c config.LogConfig) logging.Config {
	lc := logging.DefaultConfig()
	if c.Level != "" {
		lc.Level = c.Level
	}
	if c.Format != "" {
		lc.Format = c.Format
	}
	if c.Output != "" {
		lc.Output = c.Output
	}
	return lc
}
