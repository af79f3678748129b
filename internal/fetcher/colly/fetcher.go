// Package collyfetcher implements scraper.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/giftlist-scraper/internal/policy/hostblock"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

const (
	// DefaultUserAgent is a current desktop Chrome signature.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// DefaultAcceptLanguage prefers French, then English.
	DefaultAcceptLanguage = "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7"

	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024
	maxRedirects       = 10
)

// BrowserHeaders returns the header set a desktop Chrome sends on a top-level
// navigation. Empty arguments fall back to the defaults.
func BrowserHeaders(userAgent, acceptLanguage string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if acceptLanguage == "" {
		acceptLanguage = DefaultAcceptLanguage
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Cache-Control", "max-age=0")
	h.Set("Sec-Ch-Ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	RespectRobots  bool
	Timeout        time.Duration
	// MaxBodySize caps the response body in bytes; larger bodies are truncated.
	MaxBodySize int
	// Blocklist is checked against the requested host, every redirect target
	// and every dialed address. Nil allows everything.
	Blocklist *hostblock.Blocklist
}

// Fetcher implements scraper.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	headers       http.Header
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Clones share the base collector's HTTP backend, so the
// transport and timeout are set once here.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	headers := BrowserHeaders(cfg.UserAgent, cfg.AcceptLanguage)

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodySize),
		colly.UserAgent(headers.Get("User-Agent")),
	)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.WithTransport(newHTTPTransport(cfg.Blocklist))
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(redirectPolicy(cfg.Blocklist))

	return &Fetcher{
		cfg:           cfg,
		headers:       headers,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. Redirects are followed. A
// non-2xx response is returned alongside an error wrapping
// scraper.ErrNonSuccessStatus.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	if request.URL == "" {
		return scraper.FetchResponse{}, scraper.ErrEmptyURL
	}
	if f.cfg.Blocklist.Blocked(request.URL) {
		return scraper.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, hostblock.ErrBlocked)
	}
	var (
		result   scraper.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return scraper.FetchResponse{}, err
	}
	if !result.OK() {
		return result, fmt.Errorf("fetch %s: %w: %d", request.URL, scraper.ErrNonSuccessStatus, result.StatusCode)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request scraper.FetchRequest,
	start time.Time,
	result *scraper.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request scraper.FetchRequest,
	start time.Time,
	result *scraper.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = scraper.FetchResponse{
			URL:          r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Headers:      headers,
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
			UsedHeadless: false,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// copyHeaders applies the browser signature, then any per-request overrides.
func (f *Fetcher) copyHeaders(request scraper.FetchRequest, r *colly.Request) {
	for key, values := range f.headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// redirectPolicy refuses hops to blocked hosts and keeps net/http's limit of
// ten redirects.
func redirectPolicy(blocklist *hostblock.Blocklist) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if blocklist.HostBlocked(req.URL.Hostname()) {
			return fmt.Errorf("redirect to %s: %w", req.URL.Host, hostblock.ErrBlocked)
		}
		if len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	}
}

// newHTTPTransport dials through the blocklist so names resolving into a
// blocked range are refused. Behind an HTTP proxy the dialed address is the
// proxy's.
func newHTTPTransport(blocklist *hostblock.Blocklist) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if blocklist != nil {
		dialer.Control = blocklist.DialControl
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
