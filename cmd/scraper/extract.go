package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/giftlist-scraper/internal/metadata"
	"github.com/JakeFAU/giftlist-scraper/internal/price"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

type extractLine struct {
	URL         string                  `json:"url"`
	Metadata    scraper.ProductMetadata `json:"metadata"`
	PriceAmount *float64                `json:"price_amount"`
	Trace       *metadata.Trace         `json:"trace,omitempty"`
}

func newExtractCmd(opts *rootOptions) *cobra.Command {
	var withTrace bool
	cmd := &cobra.Command{
		Use:   "extract URL...",
		Short: "Extract metadata for each URL and print one JSON object per line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			svc, err := buildServices(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, raw := range args {
				pageURL := strings.TrimSpace(raw)
				meta, trace := svc.extractor.ExtractWithTrace(cmd.Context(), pageURL)
				line := extractLine{URL: pageURL, Metadata: meta}
				if amount, ok := price.ParseAmount(meta.Price); ok {
					line.PriceAmount = &amount
				}
				if withTrace {
					line.Trace = &trace
				}
				if err := enc.Encode(line); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withTrace, "trace", false, "include the strategy that produced each field")
	return cmd
}
