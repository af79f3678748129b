package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlist-scraper/internal/config"
	"github.com/JakeFAU/giftlist-scraper/internal/metadata"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

type fakeExtractor struct {
	mu       sync.Mutex
	results  map[string]scraper.ProductMetadata
	calls    []string
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	panics   bool
}

func (f *fakeExtractor) ExtractWithTrace(_ context.Context, pageURL string) (scraper.ProductMetadata, metadata.Trace) {
	if f.panics {
		panic("boom")
	}
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, pageURL)
	meta := f.results[pageURL]
	f.mu.Unlock()

	var trace metadata.Trace
	if meta.Title != "" {
		trace.Title = "og:title"
	}
	return meta, trace
}

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error {
	return p.err
}

func testConfig() config.Config {
	return config.Config{
		Batch: config.BatchConfig{MaxURLs: 5, Concurrency: 2},
	}
}

func newTestServer(ext *fakeExtractor, cfg config.Config, ready ...Pinger) *Server {
	return NewServer(ext, cfg, zap.NewNop(), ready...)
}

func serve(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeExtractor{}, testConfig())
	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeExtractor{}, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := serve(t, s, req)

	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := newTestServer(&fakeExtractor{}, testConfig(), fakePinger{})
	rec := serve(t, ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := newTestServer(&fakeExtractor{}, testConfig(), fakePinger{}, fakePinger{err: errors.New("db down")})
	rec = serve(t, notReady, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeExtractor{}, testConfig())
	serve(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_GetMetadata(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: map[string]scraper.ProductMetadata{
		"https://shop.example/p/1": {Title: "Mug", Price: "19,99 €"},
	}}
	s := newTestServer(ext, testConfig())
	target := "/v1/metadata?url=" + url.QueryEscape("https://shop.example/p/1")
	rec := serve(t, s, httptest.NewRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResponse[metadataResponse](t, rec)
	require.Equal(t, "Mug", res.Metadata.Title)
	require.NotNil(t, res.PriceAmount)
	require.InDelta(t, 19.99, *res.PriceAmount, 1e-9)
	require.Nil(t, res.Trace)
	require.Empty(t, res.URL)
}

func TestServer_GetMetadataWithTrace(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: map[string]scraper.ProductMetadata{
		"https://shop.example/p/1": {Title: "Mug"},
	}}
	s := newTestServer(ext, testConfig())
	target := "/v1/metadata?trace=true&url=" + url.QueryEscape("https://shop.example/p/1")
	rec := serve(t, s, httptest.NewRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResponse[metadataResponse](t, rec)
	require.NotNil(t, res.Trace)
	require.Equal(t, "og:title", res.Trace.Title)
	require.Nil(t, res.PriceAmount)
}

func TestServer_PostMetadata(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: map[string]scraper.ProductMetadata{
		"https://shop.example/p/2": {Title: "Lamp", Price: "Price: 45.00 USD"},
	}}
	s := newTestServer(ext, testConfig())
	body := bytes.NewBufferString(`{"url":"  https://shop.example/p/2  "}`)
	rec := serve(t, s, httptest.NewRequest(http.MethodPost, "/v1/metadata", body))

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResponse[metadataResponse](t, rec)
	require.Equal(t, "Lamp", res.Metadata.Title)
	require.InDelta(t, 45.0, *res.PriceAmount, 1e-9)
	require.Equal(t, []string{"https://shop.example/p/2"}, ext.calls)
}

func TestServer_EmptyRecordIsNotAnError(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeExtractor{}, testConfig())
	body := bytes.NewBufferString(`{"url":"https://unreachable.example/"}`)
	rec := serve(t, s, httptest.NewRequest(http.MethodPost, "/v1/metadata", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"metadata":{},"price_amount":null}`, rec.Body.String())
}

func TestServer_MetadataBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{
			name: "invalid json",
			req:  httptest.NewRequest(http.MethodPost, "/v1/metadata", bytes.NewBufferString("{invalid")),
			want: "invalid JSON",
		},
		{
			name: "missing url",
			req:  httptest.NewRequest(http.MethodPost, "/v1/metadata", bytes.NewBufferString(`{}`)),
			want: "url required",
		},
		{
			name: "blank url",
			req:  httptest.NewRequest(http.MethodGet, "/v1/metadata?url=%20%20", nil),
			want: "url required",
		},
		{
			name: "unsupported scheme",
			req: httptest.NewRequest(http.MethodPost, "/v1/metadata",
				bytes.NewBufferString(`{"url":"ftp://shop.example/file"}`)),
			want: "http or https",
		},
		{
			name: "relative url",
			req:  httptest.NewRequest(http.MethodGet, "/v1/metadata?url=%2Fproduct%2F1", nil),
			want: "not valid",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ext := &fakeExtractor{}
			s := newTestServer(ext, testConfig())
			rec := serve(t, s, tc.req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Empty(t, ext.calls)
		})
	}
}

func TestServer_BatchPreservesOrderAndBoundsConcurrency(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{
		delay: 20 * time.Millisecond,
		results: map[string]scraper.ProductMetadata{
			"https://a.example/": {Title: "A", Price: "1.50"},
			"https://b.example/": {Title: "B"},
			"https://c.example/": {Title: "C"},
			"https://d.example/": {Title: "D"},
		},
	}
	s := newTestServer(ext, testConfig())
	body := bytes.NewBufferString(`{"urls":["https://a.example/","https://b.example/","https://c.example/","https://d.example/"]}`)
	rec := serve(t, s, httptest.NewRequest(http.MethodPost, "/v1/metadata/batch", body))

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResponse[batchResponse](t, rec)
	require.Len(t, res.Results, 4)
	for i, title := range []string{"A", "B", "C", "D"} {
		require.Equal(t, title, res.Results[i].Metadata.Title)
	}
	require.Equal(t, "https://a.example/", res.Results[0].URL)
	require.InDelta(t, 1.5, *res.Results[0].PriceAmount, 1e-9)
	require.Nil(t, res.Results[1].PriceAmount)
	require.LessOrEqual(t, ext.peak.Load(), int32(2))
}

func TestServer_BatchBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: `{"urls":[]}`, want: "urls required"},
		{
			name: "too many",
			body: `{"urls":["https://a.example","https://b.example","https://c.example","https://d.example","https://e.example","https://f.example"]}`,
			want: "at most 5 urls",
		},
		{name: "invalid entry", body: `{"urls":["https://a.example","mailto:x@y.z"]}`, want: "urls[1]"},
		{name: "invalid json", body: `[`, want: "invalid JSON"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ext := &fakeExtractor{}
			s := newTestServer(ext, testConfig())
			req := httptest.NewRequest(http.MethodPost, "/v1/metadata/batch", bytes.NewBufferString(tc.body))
			rec := serve(t, s, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Empty(t, ext.calls)
		})
	}
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	s := newTestServer(&fakeExtractor{}, cfg)
	target := "/v1/metadata?url=" + url.QueryEscape("https://shop.example/")

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-API-Key", "secret")
	rec = serve(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, s, httptest.NewRequest(http.MethodGet, target+"&api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ExtractorPanicYieldsEmptyRecord(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeExtractor{panics: true}, testConfig())
	body := bytes.NewBufferString(`{"url":"https://shop.example/"}`)
	rec := serve(t, s, httptest.NewRequest(http.MethodPost, "/v1/metadata", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"metadata":{},"price_amount":null}`, rec.Body.String())
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

// stallingExtractor answers the URLs in fast at once and stalls on the rest,
// either until ctx ends or, with ignoreCtx, until release is closed.
type stallingExtractor struct {
	fast      map[string]scraper.ProductMetadata
	ignoreCtx bool
	release   chan struct{}
}

func (e *stallingExtractor) ExtractWithTrace(ctx context.Context, pageURL string) (scraper.ProductMetadata, metadata.Trace) {
	if meta, ok := e.fast[pageURL]; ok {
		return meta, metadata.Trace{Title: "og:title"}
	}
	if e.ignoreCtx {
		<-e.release
		return scraper.ProductMetadata{Title: "too late"}, metadata.Trace{}
	}
	<-ctx.Done()
	return scraper.ProductMetadata{}, metadata.Trace{}
}

func TestServer_BatchBudgetKeepsFinishedResults(t *testing.T) {
	t.Parallel()

	ext := &stallingExtractor{fast: map[string]scraper.ProductMetadata{
		"https://a.example/": {Title: "A", Price: "2.00"},
		"https://c.example/": {Title: "C"},
	}}
	s := NewServer(ext, testConfig(), zap.NewNop())
	s.extractBudget = 50 * time.Millisecond

	body := bytes.NewBufferString(`{"urls":["https://a.example/","https://slow.example/","https://c.example/"],"trace":true}`)
	start := time.Now()
	rec := serve(t, s, httptest.NewRequest(http.MethodPost, "/v1/metadata/batch", body))

	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResponse[batchResponse](t, rec)
	require.Len(t, res.Results, 3)
	require.Equal(t, "A", res.Results[0].Metadata.Title)
	require.InDelta(t, 2.0, *res.Results[0].PriceAmount, 1e-9)
	require.Equal(t, "https://slow.example/", res.Results[1].URL)
	require.Equal(t, scraper.ProductMetadata{}, res.Results[1].Metadata)
	require.Nil(t, res.Results[1].PriceAmount)
	require.NotNil(t, res.Results[1].Trace)
	require.Equal(t, metadata.Trace{}, *res.Results[1].Trace)
	require.Equal(t, "C", res.Results[2].Metadata.Title)
}

func TestServer_BudgetDoesNotWaitForStuckExtractor(t *testing.T) {
	t.Parallel()

	ext := &stallingExtractor{ignoreCtx: true, release: make(chan struct{})}
	t.Cleanup(func() { close(ext.release) })
	s := NewServer(ext, testConfig(), zap.NewNop())
	s.extractBudget = 50 * time.Millisecond

	target := "/v1/metadata?url=" + url.QueryEscape("https://stuck.example/")
	start := time.Now()
	rec := serve(t, s, httptest.NewRequest(http.MethodGet, target, nil))

	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"metadata":{},"price_amount":null}`, rec.Body.String())
}

func TestServer_ExtractBudgetFollowsRequestTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.RequestTimeoutSeconds = 30
	s := newTestServer(&fakeExtractor{}, cfg)
	require.Equal(t, 25*time.Second, s.extractBudget)
}

func TestServer_BlockedHosts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Fetch.BlockedHosts = []string{"*.internal", "127.0.0.0/8"}
	ext := &fakeExtractor{}
	s := newTestServer(ext, cfg)

	target := "/v1/metadata?url=" + url.QueryEscape("http://127.0.0.1:8080/admin")
	rec := serve(t, s, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "not allowed")

	body := bytes.NewBufferString(`{"urls":["https://shop.example/","http://metadata.internal/"]}`)
	rec = serve(t, s, httptest.NewRequest(http.MethodPost, "/v1/metadata/batch", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "urls[1]")
	require.Empty(t, ext.calls)
}
