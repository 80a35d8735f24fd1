package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	httpadapter "contrisk/internal/adapters/http"
	pg "contrisk/internal/adapters/postgres"
	"contrisk/internal/config"
	"contrisk/internal/logging"
	"contrisk/internal/ports"
	"contrisk/internal/risk"
	"contrisk/internal/services/analysis"
	"contrisk/internal/workers/riskrunner"
)

func main() {
	cfg, cfgErr := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	if cfgErr != nil {
		logger.Warn("config", zap.Error(cfgErr))
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required for Postgres adapters")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	db.JobLease = cfg.RiskJobLease

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("risk catalog", zap.String("path", cfg.CatalogPath), zap.Error(err))
	}
	engine, err := risk.New(catalog, risk.WithLogger(logger.Named("risk")))
	if err != nil {
		logger.Fatal("risk engine", zap.Error(err))
	}

	// Wire repositories to services (ports)
	var _ ports.ContractDataProvider = db
	var _ ports.RiskResultSink = db
	var _ ports.RiskResultReader = db
	var _ ports.Notifier = db
	var _ ports.RefreshJobRepository = db

	svc := analysis.New(engine, db, db, db, db, db, analysis.WithLogger(logger.Named("analysis")))
	processor := riskrunner.RefreshProcessor{Analyzer: svc}
	srv := httpadapter.New(svc, db, processor, logger.Named("http"))
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		riskrunner.Run(ctx, db, processor, cfg.RiskWorkers, cfg.RiskPollInterval, logger.Named("riskrunner"))
	}()
	if cfg.RiskWorkers > 0 {
		logger.Info("risk workers started", zap.Int("workers", cfg.RiskWorkers))
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.Strings("clause_types", clauseNames(engine)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	<-workersDone
}

// loadCatalog returns nil when path is empty so the engine falls back to the embedded catalog.
func loadCatalog(path string) (*risk.Configuration, error) {
	if path == "" {
		return nil, nil
	}
	return risk.LoadConfigurationFile(path)
}

func clauseNames(e *risk.Engine) []string {
	types := e.ClauseTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
