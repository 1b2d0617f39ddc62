// Package cli implements the validation-engine commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Jita81/SelfImprovingRAG/internal/cache"
	"github.com/Jita81/SelfImprovingRAG/internal/config"
	"github.com/Jita81/SelfImprovingRAG/internal/embedding"
	"github.com/Jita81/SelfImprovingRAG/internal/engine"
	"github.com/Jita81/SelfImprovingRAG/internal/executor"
	"github.com/Jita81/SelfImprovingRAG/internal/history"
	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/monitor"
	"github.com/Jita81/SelfImprovingRAG/internal/patterns"
	"github.com/Jita81/SelfImprovingRAG/internal/recovery"
	"github.com/Jita81/SelfImprovingRAG/internal/storage"
)

// App holds the wired components and the resources that need closing.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pipeline *engine.Pipeline

	backend storage.Backend
	cache   cache.Provider
}

// NewApp wires every component described by cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	backend, err := storage.Open(storage.Config{
		Driver:   cfg.Storage.Driver,
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.InMemory,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	app.backend = backend

	rules, err := history.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load rule pack: %w", err)
	}

	store, err := history.NewStore(ctx, history.Options{
		MaxAge:     cfg.History.MaxAge,
		MaxEntries: cfg.History.MaxEntries,
		Backend:    backend,
		Rules:      rules,
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load history: %w", err)
	}

	app.cache = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		provider, err := cache.NewRistrettoProvider(cfg.Cache.MaxCostBytes)
		if err != nil {
			logger.Warn("embedding cache unavailable", slog.Any("error", err))
		} else {
			app.cache = provider
		}
	}

	encoder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		BatchSize: cfg.Embedding.BatchSize,
		Dimension: cfg.Embedding.Dimension,
		CacheTTL:  cfg.Cache.EmbeddingTTL,
	}, app.cache, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("build embedding encoder: %w", err)
	}

	detector := patterns.NewDetector(patterns.Config{
		Epsilon:                cfg.Patterns.Epsilon,
		MinSamples:             cfg.Patterns.MinSamples,
		MinSequenceLength:      cfg.Patterns.MinSequenceLength,
		MinSequenceOccurrences: cfg.Patterns.MinSequenceOccurrences,
		EmbeddingTimeout:       cfg.Patterns.EmbeddingTimeout,
	}, encoder, patternLogSink(logger), logger)

	var dispatcher recovery.Dispatcher
	if cfg.Recovery.Executor.BaseURL != "" {
		dispatcher = executor.NewHTTPDispatcher(cfg.Recovery.Executor.BaseURL, cfg.Recovery.Executor.Path, cfg.Recovery.Executor.Timeout)
	}
	selector := recovery.NewSelector(recovery.Options{
		Config: &recovery.Config{
			CriticalThreshold:   cfg.Recovery.CriticalThreshold,
			PatternSignificance: cfg.Recovery.PatternSignificance,
			MaxConcurrent:       cfg.Recovery.MaxConcurrent,
		},
		Patterns:   detector,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	selector.RegisterHandler(models.StrategyManualIntervention, operatorNotice(logger))

	thresholds := make(monitor.Thresholds, len(cfg.Monitor.Thresholds))
	for kind, v := range cfg.Monitor.Thresholds {
		thresholds[models.MetricKind(kind)] = v
	}
	aggregator := monitor.NewAggregator(monitor.Options{Thresholds: thresholds, Logger: logger})

	resources := make(recovery.Context, len(cfg.Recovery.Resources))
	for _, name := range cfg.Recovery.Resources {
		resources[name] = true
	}

	pipeline, err := engine.NewPipeline(engine.Options{
		Store:            store,
		Detector:         detector,
		Selector:         selector,
		Aggregator:       aggregator,
		Logger:           logger,
		RecentWindow:     cfg.History.RecentWindow,
		MinSignificance:  cfg.Patterns.MinSignificance,
		TrendWindow:      cfg.Monitor.TrendWindow,
		TrendThreshold:   cfg.Monitor.TrendThreshold,
		MonitorWindow:    cfg.Monitor.Window,
		AutoExecute:      cfg.Recovery.AutoExecute,
		Resources:        resources,
		TimeSeriesPeriod: cfg.History.TimeSeriesPeriod,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Pipeline = pipeline
	return app, nil
}

func patternLogSink(logger *slog.Logger) patterns.Sink {
	return patterns.SinkFunc(func(_ context.Context, found []models.Pattern) error {
		for _, p := range found {
			logger.Debug("pattern detected",
				slog.String("kind", string(p.Kind)),
				slog.String("description", p.Description),
				slog.Float64("significance", p.Significance),
				slog.Int("occurrences", p.Occurrences),
			)
		}
		return nil
	})
}

// operatorNotice flags manual interventions in the log so an operator can
// pick them up; the action itself always succeeds.
func operatorNotice(logger *slog.Logger) recovery.Handler {
	return recovery.HandlerFunc(func(_ context.Context, action models.RecoveryAction, _ recovery.Context) (bool, error) {
		logger.Warn("manual intervention requested",
			slog.String("description", action.Description),
			slog.Int("priority", action.Priority),
			slog.Any("metadata", action.Metadata),
		)
		return true, nil
	})
}

// Close releases the storage backend and cache.
func (a *App) Close() error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	return errors.Join(errs...)
}
