package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

// ErrUnavailable is returned by Noop.
var ErrUnavailable = errors.New("headless fetcher not configured")

// Noop stands in for the browser when headless rendering is disabled. Promotion
// attempts fail and the caller keeps the plain response.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always returns ErrUnavailable.
func (Noop) Fetch(_ context.Context, _ scraper.FetchRequest) (scraper.FetchResponse, error) {
	return scraper.FetchResponse{}, ErrUnavailable
}
