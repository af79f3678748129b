package scraper

import (
	"errors"
	"net/http"
	"time"
)

// ErrNonSuccessStatus marks a fetch that completed with a non-2xx status code.
var ErrNonSuccessStatus = errors.New("non-success status code")

// ErrEmptyURL is returned when a fetch is requested without a URL.
var ErrEmptyURL = errors.New("url is required")

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// OK reports whether the response carries a 2xx status code.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// FetchedDocument is the raw HTML of a page plus the URL it was requested from.
// It lives for a single extraction and is never cached.
type FetchedDocument struct {
	// RequestURL is the URL the caller asked for; relative links resolve against it.
	RequestURL   string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	HTML         []byte
	FetchedAt    time.Time
	Duration     time.Duration
	UsedHeadless bool
}

// ProductMetadata is the best-effort product record derived from a page.
// Empty fields mean "not found"; an all-empty record is a valid result.
type ProductMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Price       string `json:"price,omitempty"`
}

// IsEmpty reports whether no field was resolved.
func (m ProductMetadata) IsEmpty() bool {
	return m == ProductMetadata{}
}

// ExtractionRecord is the row persisted by the extraction log.
type ExtractionRecord struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	FinalURL     string          `json:"final_url"`
	StatusCode   int             `json:"status_code"`
	ContentHash  string          `json:"content_hash"`
	BlobURI      string          `json:"blob_uri,omitempty"`
	Metadata     ProductMetadata `json:"metadata"`
	FetchedAt    time.Time       `json:"fetched_at"`
	DurationMs   int64           `json:"duration_ms"`
	UsedHeadless bool            `json:"used_headless"`
}
