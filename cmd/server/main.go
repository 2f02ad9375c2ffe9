/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the HR ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Build the zap logger
  3. Open and migrate the SQL store
  4. Load the catalog and seed leave types
  5. Wire services, scheduler and router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the accrual scheduler (waits for an in-flight pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Development, sqlite file
  DB_DRIVER=sqlite3 SQLITE_PATH=./hr-ledger.db ./server

  # Production
  ENV=production DB_DRIVER=postgres DB_DSN=postgres://... ./server

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/hr-ledger/api"
	"github.com/warp/hr-ledger/balance"
	"github.com/warp/hr-ledger/config"
	"github.com/warp/hr-ledger/directory"
	"github.com/warp/hr-ledger/factory"
	"github.com/warp/hr-ledger/generic"
	"github.com/warp/hr-ledger/leave"
	"github.com/warp/hr-ledger/logging"
	"github.com/warp/hr-ledger/metrics"
	"github.com/warp/hr-ledger/monetization"
	"github.com/warp/hr-ledger/passslip"
	"github.com/warp/hr-ledger/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := factory.NewCatalogFactory().LoadFile(cfg.CatalogFile)
	if err != nil {
		return err
	}

	var (
		gate     = catalog.Policy
		clock    = generic.SystemClock{Location: cfg.Location()}
		validate = generic.NewValidator()
		m        = metrics.New()
	)

	dir := directory.NewService(store, gate, clock, logger.Named("directory"))
	written, err := catalog.Apply(ctx, dir, nil)
	if err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	logger.Info("catalog loaded",
		zap.Int("leave_types", len(catalog.LeaveTypes)),
		zap.Int("written", written),
	)

	engine := balance.NewEngine(store, gate, clock, logger.Named("balance"), m)
	scheduler := balance.NewScheduler(engine, logger.Named("scheduler"))
	scheduler.Enabled = cfg.Accrual.Enabled
	scheduler.CheckInterval = cfg.Accrual.CheckInterval

	handler := api.NewHandler(api.Deps{
		Leave:        leave.NewService(engine, gate, catalog.Holidays, validate, logger.Named("leave"), m),
		PassSlips:    passslip.NewService(store, gate, clock, validate, logger.Named("passslip"), m),
		Balances:     engine,
		Scheduler:    scheduler,
		Monetization: monetization.NewCalculator(store, gate, clock, logger.Named("monetization"), m),
		Directory:    dir,
		Gate:         gate,
		Reader:       store,
		Health:       store,
		Logger:       logger.Named("http"),
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        m,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("db_driver", cfg.Database.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
