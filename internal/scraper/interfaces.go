package scraper

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(plain FetchResponse) bool
}

// Limiter throttles fetches per destination.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Recorder receives every fetched document alongside the metadata derived from it.
// Implementations must not alter the result; failures are reported, not returned.
type Recorder interface {
	Record(ctx context.Context, doc FetchedDocument, meta ProductMetadata)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ExtractionStore persists extraction rows.
type ExtractionStore interface {
	StoreExtraction(ctx context.Context, record ExtractionRecord) error
}

// Publisher pushes extraction events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
