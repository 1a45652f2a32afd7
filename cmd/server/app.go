package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"tudobem/internal/config"
	"tudobem/internal/llm"
	"tudobem/internal/metrics"
	"tudobem/internal/notify"
	"tudobem/internal/repository"
	"tudobem/internal/service"
	"tudobem/internal/triage"
)

// app is the wired service graph shared by every subcommand
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sqlx.DB
	provider  llm.Provider
	metrics   *metrics.Metrics
	analyzer  *triage.Analyzer
	reports   *service.Reports
	triage    *service.TriageService
	committer *service.Committer
}

func newLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// openDB connects and migrates. SQLite files get their directory created.
func openDB(cfg *config.Config, logger *zap.Logger) (*sqlx.DB, error) {
	if cfg.Database.Type == repository.TypeSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.URL), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := repository.NewDB(cfg.Database.Type, cfg.Database.URL, logger)
	if err != nil {
		return nil, err
	}
	if err := repository.MigrateDB(db, cfg.Database.Type, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	var provider llm.Provider
	provider, err = llm.NewProvider(cfg.LLM, logger)
	if err != nil {
		// Triage still answers with fallback verdicts until credentials are fixed
		logger.Warn("LLM provider unavailable, serving fallback verdicts only",
			zap.String("provider", string(cfg.LLM.Type)),
			zap.Error(err))
		provider = llm.NewUnavailable(err)
	}
	provider = metrics.InstrumentProvider(provider, m)

	notifier, err := notify.NewNotifier(cfg.Telegram, logger)
	if err != nil {
		logger.Warn("Failed to initialize Telegram notifier, continuing without it", zap.Error(err))
		notifier = notify.Nop{}
	}

	exercises := repository.NewExerciseRepository(db, cfg.Database.RawExecTimeout, logger)
	reports := repository.NewReportRepository(db, cfg.Database.RawExecTimeout, logger)
	analyzer := triage.NewAnalyzer(provider, cfg.TriageConfig(), logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		provider:  provider,
		metrics:   m,
		analyzer:  analyzer,
		reports:   service.NewReports(reports, exercises, notifier, logger),
		triage:    service.NewTriageService(analyzer, reports, exercises, m, logger),
		committer: service.NewCommitter(reports, exercises, notifier, m, service.CommitterConfig{SettleDelay: cfg.Commit.SettleDelay}, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("Failed to close LLM provider", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}

// bootstrap loads config and a logger for a subcommand
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log.Production)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}
