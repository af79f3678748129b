package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlist-scraper/internal/config"
	"github.com/JakeFAU/giftlist-scraper/internal/logging"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Extracts product metadata from arbitrary web pages.",
		Long: `scraper fetches a product page, resolves its title, description, image and
price from structured data and page markup, and returns the best-effort record.
It runs as an HTTP service or as a one-shot CLI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newExtractCmd(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	// Cloud Run injects PORT.
	if port, convErr := strconv.Atoi(os.Getenv("PORT")); convErr == nil && port > 0 {
		cfg.Server.Port = port
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
