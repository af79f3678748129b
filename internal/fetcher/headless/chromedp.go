// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/giftlist-scraper/internal/policy/hostblock"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

const (
	defaultNavigationTimeout = 25 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unbounded.
	MaxParallel       int
	UserAgent         string
	AcceptLanguage    string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready so client-side
	// rendering can fill in product markup.
	SettleDelay time.Duration
	// MaxBodySize truncates the rendered document. Zero means no limit.
	MaxBodySize int
	// Blocklist fails every request the tab makes to a blocked host,
	// redirects and sub-resources included. Nil allows everything.
	Blocklist *hostblock.Blocklist
}

// Fetcher implements scraper.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// started lazily on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	var slots *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders request.URL in a fresh tab and returns the resulting DOM. A
// non-2xx document status is returned alongside an error wrapping
// scraper.ErrNonSuccessStatus.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	if request.URL == "" {
		return scraper.FetchResponse{}, scraper.ErrEmptyURL
	}
	if f.cfg.Blocklist.Blocked(request.URL) {
		return scraper.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, hostblock.ErrBlocked)
	}
	if err := f.acquire(ctx); err != nil {
		return scraper.FetchResponse{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := newDocumentMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)
	var guard *hostGuard
	if f.cfg.Blocklist != nil {
		guard = newHostGuard(f.cfg.Blocklist)
		chromedp.ListenTarget(tabCtx, func(ev any) {
			if paused, ok := ev.(*fetch.EventRequestPaused); ok {
				go guard.decide(tabCtx, paused)
			}
		})
	}

	start := time.Now()
	html, finalURL, err := f.render(tabCtx, request, guard != nil)
	if err != nil {
		if guard != nil && guard.blockedDocument.Load() {
			return scraper.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, hostblock.ErrBlocked)
		}
		return scraper.FetchResponse{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	body := []byte(html)
	if f.cfg.MaxBodySize > 0 && len(body) > f.cfg.MaxBodySize {
		body = body[:f.cfg.MaxBodySize]
	}
	resp := scraper.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         body,
		Duration:     time.Since(start),
		UsedHeadless: true,
	}
	if !resp.OK() {
		return resp, fmt.Errorf("render %s: %w: %d", request.URL, scraper.ErrNonSuccessStatus, status)
	}
	return resp, nil
}

func (f *Fetcher) render(ctx context.Context, request scraper.FetchRequest, intercept bool) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers, intercept),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header, intercept bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if intercept {
			if err := fetch.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable request interception: %w", err)
			}
		}
		ua := headers.Get("User-Agent")
		if ua == "" {
			ua = f.cfg.UserAgent
		}
		if ua != "" {
			override := emulation.SetUserAgentOverride(ua)
			if lang := f.acceptLanguage(headers); lang != "" {
				override = override.WithAcceptLanguage(lang)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		extra := extraHeaders(headers)
		if len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acceptLanguage(headers http.Header) string {
	if lang := headers.Get("Accept-Language"); lang != "" {
		return lang
	}
	return f.cfg.AcceptLanguage
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("headless slot wait canceled: %w", err)
	}
	return nil
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	f.slots.Release(1)
}

// hostGuard answers the requests a tab pauses: blocked hosts fail, the rest
// continue. Verdicts are cached per host for the life of the tab.
type hostGuard struct {
	blocklist       *hostblock.Blocklist
	mu              sync.Mutex
	verdicts        map[string]bool
	blockedDocument atomic.Bool
}

func newHostGuard(blocklist *hostblock.Blocklist) *hostGuard {
	return &hostGuard{blocklist: blocklist, verdicts: make(map[string]bool)}
}

func (g *hostGuard) blocked(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	g.mu.Lock()
	verdict, ok := g.verdicts[host]
	g.mu.Unlock()
	if ok {
		return verdict
	}
	verdict = g.blocklist.ResolvesBlocked(ctx, host)
	g.mu.Lock()
	g.verdicts[host] = verdict
	g.mu.Unlock()
	return verdict
}

func (g *hostGuard) decide(ctx context.Context, ev *fetch.EventRequestPaused) {
	execCtx := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
	if ev.Request != nil && g.blocked(ctx, ev.Request.URL) {
		if ev.ResourceType == network.ResourceTypeDocument {
			g.blockedDocument.Store(true)
		}
		_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
		return
	}
	_ = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
}

// documentMeta records the status line of the main document. Sub-resource
// responses are ignored.
type documentMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newDocumentMeta() *documentMeta {
	return &documentMeta{headers: http.Header{}}
}

func (m *documentMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Redirect hops each report a document response; the first one that is
	// not a redirect is the page itself.
	if m.status != 0 && (m.status < 300 || m.status >= 400) {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *documentMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *documentMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

// extraHeaders converts the request headers chromedp does not set through
// emulation into CDP form.
func extraHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch http.CanonicalHeaderKey(key) {
		case "User-Agent", "Accept-Language":
			continue
		}
		if len(values) == 0 {
			continue
		}
		headers[key] = values[0]
	}
	return headers
}
