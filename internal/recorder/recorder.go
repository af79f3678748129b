// Package recorder archives each fetched page and logs the metadata derived
// from it. Writes run on a small worker pool behind a bounded queue, so the
// caller never waits on a sink. Every sink is optional and no sink failure
// reaches the caller.
package recorder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlist-scraper/internal/metrics"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

// Sink labels used in logs and metrics.
const (
	SinkArchive = "archive"
	SinkStore   = "store"
	SinkPublish = "publish"
	// SinkQueue counts records dropped before reaching any sink.
	SinkQueue = "queue"
)

const (
	defaultSinkTimeout = 10 * time.Second
	defaultQueueSize   = 256
	defaultWorkers     = 2
)

var errQueueFull = errors.New("record queue full")

// Config controls object naming and event routing.
type Config struct {
	// Prefix is the first path segment of archived objects.
	Prefix      string
	ContentType string
	// Topic receives one event per extraction. Empty disables publishing.
	Topic string
	// Timeout bounds the sink writes of a single record.
	Timeout time.Duration
	// QueueSize bounds the records waiting for a worker. Records arriving at
	// a full queue are dropped and counted.
	QueueSize int
	Workers   int
}

// Event is the payload published for each extraction.
type Event struct {
	ID           string                  `json:"id"`
	URL          string                  `json:"url"`
	FinalURL     string                  `json:"final_url"`
	StatusCode   int                     `json:"status_code"`
	ContentHash  string                  `json:"content_hash"`
	BlobURI      string                  `json:"blob_uri,omitempty"`
	Metadata     scraper.ProductMetadata `json:"metadata"`
	FetchedAt    time.Time               `json:"fetched_at"`
	UsedHeadless bool                    `json:"used_headless"`
}

// Recorder implements scraper.Recorder.
type Recorder struct {
	blobs     scraper.BlobStore
	store     scraper.ExtractionStore
	publisher scraper.Publisher
	cfg       Config
	newID     func() (string, error)
	logger    *zap.Logger

	jobs      chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type job struct {
	ctx  context.Context
	doc  scraper.FetchedDocument
	meta scraper.ProductMetadata
}

// New wires the sinks and starts the workers. Any of blobs, store and
// publisher may be nil. Callers must Close the recorder to flush it.
func New(
	blobs scraper.BlobStore,
	store scraper.ExtractionStore,
	publisher scraper.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "pages"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSinkTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	r := &Recorder{
		blobs:     blobs,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		newID:     newUUIDv7,
		logger:    logger,
		jobs:      make(chan job, cfg.QueueSize),
	}
	r.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.work()
	}
	return r
}

// Record implements scraper.Recorder. It queues the document and returns at
// once. Sink writes are detached from the caller's cancellation so a client
// hanging up does not lose the log entry.
func (r *Recorder) Record(ctx context.Context, doc scraper.FetchedDocument, meta scraper.ProductMetadata) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.fail(SinkQueue, doc.RequestURL, errors.New("recorder closed"))
		return
	}
	select {
	case r.jobs <- job{ctx: context.WithoutCancel(ctx), doc: doc, meta: meta}:
	default:
		r.fail(SinkQueue, doc.RequestURL, errQueueFull)
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.jobs)
		r.mu.Unlock()
		r.wg.Wait()
	})
}

func (r *Recorder) work() {
	defer r.wg.Done()
	for j := range r.jobs {
		r.write(j.ctx, j.doc, j.meta)
	}
}

func (r *Recorder) write(ctx context.Context, doc scraper.FetchedDocument, meta scraper.ProductMetadata) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveRecoveredPanic()
			r.logger.Error("recorder sink panicked", zap.String("url", doc.RequestURL), zap.Any("panic", rec))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	hash := ContentHash(doc.HTML)
	id, err := r.newID()
	if err != nil {
		r.fail(SinkStore, doc.RequestURL, err)
		return
	}

	uri := r.archive(ctx, doc, hash)
	record := scraper.ExtractionRecord{
		ID:           id,
		URL:          doc.RequestURL,
		FinalURL:     doc.FinalURL,
		StatusCode:   doc.StatusCode,
		ContentHash:  hash,
		BlobURI:      uri,
		Metadata:     meta,
		FetchedAt:    doc.FetchedAt,
		DurationMs:   doc.Duration.Milliseconds(),
		UsedHeadless: doc.UsedHeadless,
	}

	if r.store != nil {
		if err := r.store.StoreExtraction(ctx, record); err != nil {
			r.fail(SinkStore, doc.RequestURL, err)
		}
	}
	r.publish(ctx, record)
}

func (r *Recorder) archive(ctx context.Context, doc scraper.FetchedDocument, hash string) string {
	if r.blobs == nil {
		return ""
	}
	uri, err := r.blobs.PutObject(ctx, ObjectPath(r.cfg.Prefix, doc.RequestURL, hash), r.cfg.ContentType,
		bytes.NewReader(doc.HTML))
	if err != nil {
		r.fail(SinkArchive, doc.RequestURL, err)
		return ""
	}
	return uri
}

func (r *Recorder) publish(ctx context.Context, record scraper.ExtractionRecord) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	event := Event{
		ID:           record.ID,
		URL:          record.URL,
		FinalURL:     record.FinalURL,
		StatusCode:   record.StatusCode,
		ContentHash:  record.ContentHash,
		BlobURI:      record.BlobURI,
		Metadata:     record.Metadata,
		FetchedAt:    record.FetchedAt,
		UsedHeadless: record.UsedHeadless,
	}
	msgID, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		r.fail(SinkPublish, record.URL, err)
		return
	}
	r.logger.Debug("extraction published",
		zap.String("url", record.URL),
		zap.String("message_id", msgID),
		zap.String("blob_uri", record.BlobURI),
	)
}

func (r *Recorder) fail(sink, pageURL string, err error) {
	metrics.ObserveRecorderError(sink)
	r.logger.Warn("recorder sink failed",
		zap.String("sink", sink),
		zap.String("url", pageURL),
		zap.Error(err),
	)
}

// ContentHash returns the hex SHA-256 digest of body.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ObjectPath names the archived copy of a page: prefix/host/hash.html.
func ObjectPath(prefix, pageURL, hash string) string {
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	return path.Join(prefix, host, hash+".html")
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
