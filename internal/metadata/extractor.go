package metadata

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlist-scraper/internal/metrics"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
	"github.com/JakeFAU/giftlist-scraper/internal/telemetry"
)

// Config controls Extractor behavior.
type Config struct {
	// MaxJSONLDBlocks bounds how many JSON-LD blocks are scanned per page. Zero
	// means unbounded.
	MaxJSONLDBlocks int
}

// Trace names the strategy that produced each field. Empty means the field was
// not found.
type Trace struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Price       string `json:"price,omitempty"`
}

// Extractor sequences fetch, parse, resolution and normalization for one URL.
// It holds no per-call state and is safe for concurrent use.
type Extractor struct {
	fetcher  scraper.Fetcher
	limiter  scraper.Limiter
	recorder scraper.Recorder
	clock    scraper.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewExtractor constructs an Extractor. limiter, recorder and clock are optional.
func NewExtractor(
	fetcher scraper.Fetcher,
	limiter scraper.Limiter,
	recorder scraper.Recorder,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &Extractor{
		fetcher:  fetcher,
		limiter:  limiter,
		recorder: recorder,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Extract fetches pageURL and returns whatever metadata could be derived from
// it. It never fails: every problem collapses into missing fields.
func (e *Extractor) Extract(ctx context.Context, pageURL string) scraper.ProductMetadata {
	meta, _ := e.ExtractWithTrace(ctx, pageURL)
	return meta
}

// ExtractWithTrace is Extract plus the name of the winning strategy per field.
func (e *Extractor) ExtractWithTrace(ctx context.Context, pageURL string) (meta scraper.ProductMetadata, trace Trace) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "metadata.Extract",
		oteltrace.WithAttributes(attribute.String("url.full", pageURL)))
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveRecoveredPanic()
			e.logger.Error("extraction panicked", zap.String("url", pageURL), zap.Any("panic", rec))
			span.SetStatus(codes.Error, "panic")
			meta, trace = scraper.ProductMetadata{}, Trace{}
		}
		span.SetAttributes(attribute.Bool("scraper.empty", meta.IsEmpty()))
		span.End()
		metrics.ObserveExtraction(time.Since(start))
	}()

	doc, ok := e.fetch(ctx, pageURL)
	if !ok {
		return scraper.ProductMetadata{}, Trace{}
	}

	meta, trace = Resolve(Parse(doc.HTML), pageURL, e.cfg.MaxJSONLDBlocks)
	observeTrace(trace)
	e.logger.Debug("extraction complete",
		zap.String("url", pageURL),
		zap.String("title_source", trace.Title),
		zap.String("description_source", trace.Description),
		zap.String("image_source", trace.Image),
		zap.String("price_source", trace.Price),
	)
	e.record(ctx, doc, meta)
	return meta, trace
}

// Resolve runs the structured-data extractor once and every field chain over
// an already parsed page. pageURL is the base for relative image URLs.
func Resolve(doc *Document, pageURL string, maxJSONLDBlocks int) (scraper.ProductMetadata, Trace) {
	sd := ExtractStructured(doc, maxJSONLDBlocks)

	var trace Trace
	var title, description, image, price string
	title, trace.Title = TitleChain.Resolve(doc, sd)
	description, trace.Description = DescriptionChain.Resolve(doc, sd)
	image, trace.Image = ImageChain.Resolve(doc, sd)
	price, trace.Price = PriceChain.Resolve(doc, sd)

	image = ResolveURL(image, pageURL)
	title, description, image, price = normalizeText(title, description, image, price)

	return scraper.ProductMetadata{
		Title:       title,
		Description: description,
		ImageURL:    image,
		Price:       price,
	}, trace
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) (scraper.FetchedDocument, bool) {
	if e.fetcher == nil {
		e.logger.Error("no fetcher configured", zap.String("url", pageURL))
		return scraper.FetchedDocument{}, false
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, pageURL); err != nil {
			metrics.ObserveFetch(pageURL, metrics.FetchOutcomeThrottled, 0)
			e.logger.Warn("rate limit wait failed", zap.String("url", pageURL), zap.Error(err))
			return scraper.FetchedDocument{}, false
		}
	}

	fetchedAt := e.clock.Now()
	resp, err := e.fetcher.Fetch(ctx, scraper.FetchRequest{URL: pageURL})
	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Bool("scraper.used_headless", resp.UsedHeadless),
	)
	if err != nil && !errors.Is(err, scraper.ErrNonSuccessStatus) {
		span.SetStatus(codes.Error, "fetch failed")
		metrics.ObserveFetch(pageURL, metrics.FetchOutcomeError, 0)
		e.logger.Warn("fetch failed", zap.String("url", pageURL), zap.Error(err))
		return scraper.FetchedDocument{}, false
	}
	if err != nil || !resp.OK() {
		span.SetStatus(codes.Error, "non-success status")
		metrics.ObserveFetch(pageURL, metrics.FetchOutcomeStatus, len(resp.Body))
		e.logger.Warn("fetch returned non-success status",
			zap.String("url", pageURL),
			zap.Int("status", resp.StatusCode),
		)
		return scraper.FetchedDocument{}, false
	}
	metrics.ObserveFetch(pageURL, metrics.FetchOutcomeOK, len(resp.Body))

	finalURL := resp.URL
	if finalURL == "" {
		finalURL = pageURL
	}
	return scraper.FetchedDocument{
		RequestURL:   pageURL,
		FinalURL:     finalURL,
		StatusCode:   resp.StatusCode,
		Headers:      resp.Headers,
		HTML:         resp.Body,
		FetchedAt:    fetchedAt,
		Duration:     resp.Duration,
		UsedHeadless: resp.UsedHeadless,
	}, true
}

// record hands the document to the recorder. A misbehaving recorder is
// contained here so it cannot clear an already resolved record.
func (e *Extractor) record(ctx context.Context, doc scraper.FetchedDocument, meta scraper.ProductMetadata) {
	if e.recorder == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveRecoveredPanic()
			e.logger.Error("recorder panicked", zap.String("url", doc.RequestURL), zap.Any("panic", rec))
		}
	}()
	e.recorder.Record(ctx, doc, meta)
}

func observeTrace(trace Trace) {
	metrics.ObserveField(FieldTitle, trace.Title)
	metrics.ObserveField(FieldDescription, trace.Description)
	metrics.ObserveField(FieldImage, trace.Image)
	metrics.ObserveField(FieldPrice, trace.Price)
}

type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}
