package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/storyline/internal/config"
	"github.com/abelbrown/storyline/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "storyline",
	Short: "Cluster news documents into ranked threads",
	Long: `storyline groups annotated news documents into threads per language,
scores each thread by source authority and freshness, and serves the
ranking over HTTP.

Example usage:
  storyline serve --config storyline.toml
  storyline import docs.jsonl --ttl 86400
  storyline build --input docs.jsonl --lang en --category science
  storyline events -f --kind index.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (defaults and STORYLINE_* env when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level: debug, info, warn, error")
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logging.Init(logging.Options{
		Level:  cfg.Logging.Level,
		Dir:    cfg.Logging.Dir,
		Format: cfg.Logging.Format,
	}); err != nil {
		return err
	}
	logging.Debug("configuration loaded",
		"config", cfgFile,
		"storage", cfg.Storage.Backend,
		"schedule", cfg.Index.Schedule,
		"languages", len(cfg.Clustering),
	)
	return nil
}
