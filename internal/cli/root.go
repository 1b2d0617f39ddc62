package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Jita81/SelfImprovingRAG/internal/config"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

// RootOptions holds the persistent flags shared by every command.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// AddFlags registers the persistent flags on root.
func (o *RootOptions) AddFlags(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&o.ConfigPath, "config", "c", "", "Path to configuration file (defaults to $VALTEL_CONFIG)")
	root.PersistentFlags().StringVar(&o.LogLevel, "log-level", "", "Override the configured log level")
}

func (o *RootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
