package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/sessionindex/internal/config"
	"github.com/dshills/sessionindex/internal/indexer"
	"github.com/dshills/sessionindex/internal/logging"
	"github.com/dshills/sessionindex/internal/metrics"
	"github.com/dshills/sessionindex/internal/searcher"
	"github.com/dshills/sessionindex/internal/sources"
	"github.com/dshills/sessionindex/internal/storage"
)

// app holds the wired components shared by the subcommands
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	metrics  *metrics.Metrics
	roots    sources.Roots
	store    *storage.SQLiteStorage
	searcher *searcher.Searcher
	indexer  *indexer.Indexer
}

// loadConfig reads the config file and applies the persistent flag overrides
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

// newLogger writes to stderr. Stdout belongs to the MCP transport and command output.
func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Out: os.Stderr})
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	srcs, err := cfg.EnabledSources()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	roots := sources.Roots{Claude: cfg.Sources.ClaudeRoot, Codex: cfg.Sources.CodexRoot}.WithDefaults()
	m := metrics.New()
	srch := searcher.NewSearcher(store)

	idx := indexer.New(store, sources.DefaultRegistry(roots), indexer.Config{
		Sources:             srcs,
		BatchSize:           cfg.Indexer.BatchSize,
		Concurrency:         cfg.Indexer.Concurrency,
		ToolIOEnabled:       cfg.ToolIO.Enabled,
		ToolIORecency:       cfg.ToolIORecency(),
		ToolIOMaxBytes:      cfg.ToolIO.MaxBytes,
		SearchFormatVersion: cfg.Format.SearchVersion,
		ToolIOFormatVersion: cfg.Format.ToolIOVersion,
		Location:            time.Local,
	},
		indexer.WithLogger(logging.Component(log, "indexer")),
		indexer.WithMetrics(m),
		indexer.WithRunHook(func(*indexer.Statistics) { srch.InvalidateCache() }),
	)
	idx.Start()

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		roots:    roots,
		store:    store,
		searcher: srch,
		indexer:  idx,
	}, nil
}

// Close waits for the running job, if any, then closes the database
func (a *app) Close() {
	a.indexer.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close database")
	}
}
