package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// Config captures every setting required to boot the validation telemetry engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	History   HistoryConfig   `yaml:"history"`
	Storage   StorageConfig   `yaml:"storage"`
	Patterns  PatternsConfig  `yaml:"patterns"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Rules     RulesConfig     `yaml:"rules"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

// HistoryConfig bounds the active validation history.
type HistoryConfig struct {
	MaxAge     time.Duration `yaml:"maxAge" validate:"gte=0"`
	MaxEntries int           `yaml:"maxEntries" validate:"gte=0"`
	// RecentWindow is how many of the newest records feed pattern detection.
	RecentWindow int `yaml:"recentWindow" validate:"gte=0"`
	// RotateInterval is how often serve applies retention; zero disables it.
	RotateInterval time.Duration `yaml:"rotateInterval" validate:"gte=0"`
	// TimeSeriesPeriod is the default report bucket length.
	TimeSeriesPeriod time.Duration `yaml:"timeSeriesPeriod" validate:"gte=0"`
}

// StorageConfig selects the persistence backend for history.
type StorageConfig struct {
	Driver   string `yaml:"driver" validate:"omitempty,oneof=none file json sqlite badger"`
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

// PatternsConfig tunes the pattern detector.
type PatternsConfig struct {
	Epsilon                float64       `yaml:"epsilon" validate:"gte=0"`
	MinSamples             int           `yaml:"minSamples" validate:"gte=0"`
	MinSequenceLength      int           `yaml:"minSequenceLength" validate:"gte=0"`
	MinSequenceOccurrences int           `yaml:"minSequenceOccurrences" validate:"gte=0"`
	EmbeddingTimeout       time.Duration `yaml:"embeddingTimeout" validate:"gte=0"`
	MinSignificance        float64       `yaml:"minSignificance" validate:"gte=0,lte=1"`
}

// EmbeddingConfig selects the embedding provider used for semantic clustering.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" validate:"omitempty,oneof=none hashing openai"`
	APIKey    string `yaml:"apiKey" validate:"required_if=Provider openai"`
	BaseURL   string `yaml:"baseURL" validate:"omitempty,url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batchSize" validate:"gte=0"`
	Dimension int    `yaml:"dimension" validate:"gte=0"`
}

// CacheConfig controls the in-process embedding cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxCostBytes int64         `yaml:"maxCostBytes" validate:"gte=0"`
	EmbeddingTTL time.Duration `yaml:"embeddingTTL" validate:"gte=0"`
}

// RecoveryConfig controls recovery selection and execution.
type RecoveryConfig struct {
	CriticalThreshold   float64 `yaml:"criticalThreshold" validate:"gte=0,lte=1"`
	PatternSignificance float64 `yaml:"patternSignificance" validate:"gte=0,lte=1"`
	MaxConcurrent       int     `yaml:"maxConcurrent" validate:"gte=0"`
	AutoExecute         bool    `yaml:"autoExecute"`
	// Resources are the names advertised as available to handlers.
	Resources []string       `yaml:"resources"`
	Executor  ExecutorConfig `yaml:"executor"`
}

// ExecutorConfig configures the external remediation executor.
type ExecutorConfig struct {
	BaseURL string        `yaml:"baseURL" validate:"omitempty,url"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// MonitorConfig controls metric aggregation.
type MonitorConfig struct {
	Window     time.Duration      `yaml:"window" validate:"gte=0"`
	Thresholds map[string]float64 `yaml:"thresholds"`
	// TrendWindow and TrendThreshold drive trend detection.
	TrendWindow    int     `yaml:"trendWindow" validate:"gte=0"`
	TrendThreshold float64 `yaml:"trendThreshold" validate:"gte=0"`
}

// RulesConfig controls rule-pack loading for the recommender.
type RulesConfig struct {
	Path string `yaml:"path"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VALTEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "file", "json", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("invalid config: storage.path is required for driver %q", c.Storage.Driver)
		}
	case "badger":
		if c.Storage.Path == "" && !c.Storage.InMemory {
			return fmt.Errorf("invalid config: storage.path is required unless storage.inMemory is set")
		}
	}
	for kind := range c.Monitor.Thresholds {
		if !slices.Contains(models.MetricKinds, models.MetricKind(kind)) {
			return fmt.Errorf("invalid config: unknown monitor threshold %q", kind)
		}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		History: HistoryConfig{
			MaxAge:           30 * 24 * time.Hour,
			MaxEntries:       1000,
			RecentWindow:     100,
			RotateInterval:   time.Hour,
			TimeSeriesPeriod: 24 * time.Hour,
		},
		Storage: StorageConfig{Driver: "file", Path: "data/validation_history.json"},
		Patterns: PatternsConfig{
			Epsilon:                0.5,
			MinSamples:             2,
			MinSequenceLength:      2,
			MinSequenceOccurrences: 3,
			EmbeddingTimeout:       10 * time.Second,
			MinSignificance:        0.3,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hashing",
			Model:     "text-embedding-3-small",
			BatchSize: 64,
			Dimension: 256,
		},
		Cache: CacheConfig{
			Enabled:      true,
			MaxCostBytes: 64 << 20,
			EmbeddingTTL: 24 * time.Hour,
		},
		Recovery: RecoveryConfig{
			CriticalThreshold:   0.8,
			PatternSignificance: 0.7,
			MaxConcurrent:       3,
			Executor:            ExecutorConfig{Timeout: 5 * time.Second},
		},
		Monitor: MonitorConfig{
			Window:         24 * time.Hour,
			TrendWindow:    5,
			TrendThreshold: 2.0,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VALTEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("VALTEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("VALTEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VALTEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("VALTEL_HISTORY_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.History.MaxAge = d
		}
	}
	if v := os.Getenv("VALTEL_HISTORY_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.MaxEntries = n
		}
	}
	if v := os.Getenv("VALTEL_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("VALTEL_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("VALTEL_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("VALTEL_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("VALTEL_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("VALTEL_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("VALTEL_EMBEDDING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Patterns.EmbeddingTimeout = d
		}
	}
	if v := os.Getenv("VALTEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("VALTEL_CACHE_EMBEDDING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.EmbeddingTTL = d
		}
	}
	if v := os.Getenv("VALTEL_RECOVERY_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recovery.MaxConcurrent = n
		}
	}
	if v := os.Getenv("VALTEL_RECOVERY_AUTO_EXECUTE"); v != "" {
		cfg.Recovery.AutoExecute = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("VALTEL_RECOVERY_RESOURCES"); v != "" {
		cfg.Recovery.Resources = splitList(v)
	}
	if v := os.Getenv("VALTEL_EXECUTOR_URL"); v != "" {
		cfg.Recovery.Executor.BaseURL = v
	}
	if v := os.Getenv("VALTEL_EXECUTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Recovery.Executor.Timeout = d
		}
	}
	if v := os.Getenv("VALTEL_MONITOR_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Window = d
		}
	}
	if v := os.Getenv("VALTEL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
