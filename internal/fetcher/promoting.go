// Package fetcher composes the plain and headless fetchers.
package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/giftlist-scraper/internal/metrics"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

// Promoting fetches with a cheap plain fetch first and re-fetches through a headless
// browser when the detector says the plain body is an unrendered shell. A
// failed plain fetch is returned as is; a failed render falls back to the plain response.
type Promoting struct {
	plain    scraper.Fetcher
	headless scraper.Fetcher
	detector scraper.HeadlessDetector
	logger   *zap.Logger
}

// NewPromoting wires a plain fetcher to an optional headless fetcher. With a
// nil headless fetcher or detector it behaves exactly like plain.
func NewPromoting(
	plain scraper.Fetcher,
	headless scraper.Fetcher,
	detector scraper.HeadlessDetector,
	logger *zap.Logger,
) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{
		plain:    plain,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Fetch implements scraper.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	resp, err := p.plain.Fetch(ctx, request)
	if err != nil {
		return resp, fmt.Errorf("plain fetch: %w", err)
	}
	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp, nil
	}

	metrics.ObserveHeadlessPromotion()
	p.logger.Debug("promoting to headless", zap.String("url", request.URL), zap.Int("plain_bytes", len(resp.Body)))
	rendered, err := p.headless.Fetch(ctx, request)
	if err != nil {
		p.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(err))
		return resp, nil
	}
	rendered.UsedHeadless = true
	p.logger.Info("headless promotion applied", zap.String("url", request.URL))
	return rendered, nil
}
