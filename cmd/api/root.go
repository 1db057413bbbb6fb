package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"formsync/api/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "formsync",
	Short:         "Form builder API with nested form reconciliation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Optional YAML or JSON config file; environment variables take precedence")
}

// loadConfig reads configuration and applies its logging settings to the
// package logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := setupLogging(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetReportTimestamp(true)
	if cfg.LogFormat == "json" {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
	return nil
}
