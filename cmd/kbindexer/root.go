package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"KnowledgeBase/internal/app"
	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "kbindexer",
	Short: "Help-center knowledge base indexer",
	Long: `Scrapes help-center articles, embeds them into a vector store
and serves semantic search over HTTP.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env file is normal outside local development.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (default $KB_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
}

// loadConfig resolves configuration for the current command.
func loadConfig() config.Config {
	cfg := config.Load(configPath)
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg
}

func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
}

// withApp builds the application, runs fn and closes every resource afterwards.
func withApp(ctx context.Context, cmd *cobra.Command, cfg config.Config, fn func(*app.Application) error) error {
	application, err := app.New(ctx, cfg, newLogger(cmd, cfg))
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	defer application.Close()
	return fn(application)
}
