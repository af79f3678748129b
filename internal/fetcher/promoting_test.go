package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/giftlist-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

type stubFetcher struct {
	resp  scraper.FetchResponse
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, scraper.FetchRequest) (scraper.FetchResponse, error) {
	s.calls++
	return s.resp, s.err
}

type stubDetector bool

func (s stubDetector) ShouldPromote(scraper.FetchResponse) bool {
	return bool(s)
}

func TestPromotingUsesPlainFetchWhenNotPromoted(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{resp: scraper.FetchResponse{StatusCode: 200, Body: []byte("plain")}}
	render := &stubFetcher{resp: scraper.FetchResponse{StatusCode: 200, Body: []byte("rendered")}}
	p := NewPromoting(plain, render, stubDetector(false), nil)

	resp, err := p.Fetch(context.Background(), scraper.FetchRequest{URL: "https://shop.example/p"})
	require.NoError(t, err)
	require.Equal(t, "plain", string(resp.Body))
	require.False(t, resp.UsedHeadless)
	require.Zero(t, render.calls)
}

func TestPromotingRendersShell(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{resp: scraper.FetchResponse{StatusCode: 200, Body: []byte(`<div id="app"></div>`)}}
	render := &stubFetcher{resp: scraper.FetchResponse{StatusCode: 200, Body: []byte("rendered")}}
	p := NewPromoting(plain, render, stubDetector(true), nil)

	resp, err := p.Fetch(context.Background(), scraper.FetchRequest{URL: "https://shop.example/p"})
	require.NoError(t, err)
	require.Equal(t, "rendered", string(resp.Body))
	require.True(t, resp.UsedHeadless)
	require.Equal(t, 1, render.calls)
}

func TestPromotingFallsBackToPlainFetch(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{resp: scraper.FetchResponse{StatusCode: 200, Body: []byte("plain")}}
	p := NewPromoting(plain, headless.NewNoop(), stubDetector(true), nil)

	resp, err := p.Fetch(context.Background(), scraper.FetchRequest{URL: "https://shop.example/p"})
	require.NoError(t, err)
	require.Equal(t, "plain", string(resp.Body))
	require.False(t, resp.UsedHeadless)
}

func TestPromotingPlainFailureIsTerminal(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{
		resp: scraper.FetchResponse{StatusCode: 503},
		err:  fmt.Errorf("fetch: %w", scraper.ErrNonSuccessStatus),
	}
	render := &stubFetcher{resp: scraper.FetchResponse{StatusCode: 200}}
	p := NewPromoting(plain, render, stubDetector(true), nil)

	resp, err := p.Fetch(context.Background(), scraper.FetchRequest{URL: "https://shop.example/p"})
	require.Error(t, err)
	require.True(t, errors.Is(err, scraper.ErrNonSuccessStatus))
	require.Equal(t, 503, resp.StatusCode)
	require.Zero(t, render.calls)
}

func TestPromotingWithoutHeadless(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{resp: scraper.FetchResponse{StatusCode: 200, Body: []byte("plain")}}
	p := NewPromoting(plain, nil, stubDetector(true), nil)

	resp, err := p.Fetch(context.Background(), scraper.FetchRequest{URL: "https://shop.example/p"})
	require.NoError(t, err)
	require.Equal(t, "plain", string(resp.Body))
}
