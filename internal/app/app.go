// Package app wires configuration into the normalizer, override store and
// reconciler used by the CLI and the HTTP API.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nged-substations/internal/config"
	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/db"
	"github.com/nged-substations/internal/errors"
	"github.com/nged-substations/internal/normalize"
	"github.com/nged-substations/internal/override"
	"github.com/nged-substations/internal/reconcile"
	"github.com/nged-substations/internal/source"
)

// App holds the long-lived components
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Normalizer *normalize.Normalizer
	Store      override.Store
	Reconciler *reconcile.Reconciler
}

// New builds every component from configuration
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	normalizer, err := NewNormalizer(cfg.Normalize)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Normalizer: normalizer,
		Store:      store,
		Reconciler: reconcile.New(normalizer, store, reconcile.WithLogger(logger)),
	}, nil
}

// NewNormalizer uses the configured rules file, or the default rules
func NewNormalizer(cfg config.NormalizeConfig) (*normalize.Normalizer, error) {
	rules := normalize.DefaultRules()
	if cfg.RulesFile != "" {
		var err error
		if rules, err = normalize.LoadRules(cfg.RulesFile); err != nil {
			return nil, err
		}
	}
	n, err := normalize.New(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile normalization rules: %w", err)
	}
	return n, nil
}

// OpenStore opens the configured override store backend
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (override.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return override.NewMemoryStore()
	case config.BackendFile:
		store, err := override.OpenFile(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("path", store.Path()).Int("entries", len(store.All())).Msg("override file opened")
		return store, nil
	case config.BackendPostgres:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store := override.NewPostgresStore(conn.DB)
		if err := store.Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		logger.Debug().Msg("postgres override store ready")
		return store, nil
	}
	return nil, errors.NewValidationError("store.backend", cfg.Store.Backend, "unknown override store backend")
}

// LoadTable reads one configured source
func LoadTable(cfg config.SourceConfig, logger *zerolog.Logger) (dataset.Table, source.Report, error) {
	if cfg.Path == "" {
		return dataset.Table{}, source.Report{}, errors.NewValidationError("path", "", fmt.Sprintf("no path configured for source %s", cfg.ID))
	}

	switch cfg.Format {
	case config.FormatCKAN:
		return source.LoadCKANResourcesFile(cfg.Path, source.CKANOptions{
			Source:  cfg.ID,
			MinSize: cfg.MinSize,
			MaxAge:  cfg.MaxAge,
		})
	default:
		return source.LoadCSVFile(cfg.Path, source.Options{
			Source:       cfg.ID,
			Columns:      cfg.Columns,
			TypeContains: cfg.TypeContains,
			Logger:       logger,
		})
	}
}

// LoadInput reads both configured tables
func (a *App) LoadInput() (reconcile.Input, error) {
	live, liveReport, err := LoadTable(a.Config.Sources.Live, &a.Logger)
	if err != nil {
		return reconcile.Input{}, fmt.Errorf("failed to load live source: %w", err)
	}
	reference, refReport, err := LoadTable(a.Config.Sources.Reference, &a.Logger)
	if err != nil {
		return reconcile.Input{}, fmt.Errorf("failed to load reference source: %w", err)
	}

	a.Logger.Info().
		Str("live", string(live.Source)).
		Int("live_rows", liveReport.Loaded).
		Int("live_skipped", len(liveReport.Skipped)).
		Str("reference", string(reference.Source)).
		Int("reference_rows", refReport.Loaded).
		Int("reference_skipped", len(refReport.Skipped)).
		Msg("sources loaded")

	return reconcile.Input{Live: live, Reference: reference}, nil
}

// Close releases the store
func (a *App) Close() error {
	return a.Store.Close()
}
