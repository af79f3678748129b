package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	whatwg "github.com/nlnwa/whatwg-url/url"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/giftlist-scraper/internal/metadata"
	"github.com/JakeFAU/giftlist-scraper/internal/metrics"
	"github.com/JakeFAU/giftlist-scraper/internal/price"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

type metadataRequest struct {
	URL   string `json:"url"`
	Trace bool   `json:"trace"`
}

type batchRequest struct {
	URLs  []string `json:"urls"`
	Trace bool     `json:"trace"`
}

type metadataResponse struct {
	URL         string                  `json:"url,omitempty"`
	Metadata    scraper.ProductMetadata `json:"metadata"`
	PriceAmount *float64                `json:"price_amount"`
	Trace       *metadata.Trace         `json:"trace,omitempty"`
}

type batchResponse struct {
	Results []metadataResponse `json:"results"`
}

func (s *Server) getMetadata(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pageURL := strings.TrimSpace(query.Get("url"))
	if err := s.validatePageURL(pageURL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trace, _ := strconv.ParseBool(query.Get("trace"))
	s.writeJSON(w, http.StatusOK, s.extractAll(r.Context(), []string{pageURL}, trace)[0])
}

func (s *Server) postMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pageURL := strings.TrimSpace(req.URL)
	if err := s.validatePageURL(pageURL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.extractAll(r.Context(), []string{pageURL}, req.Trace)[0])
}

func (s *Server) postBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > s.cfg.Batch.MaxURLs {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d urls per batch", s.cfg.Batch.MaxURLs))
		return
	}
	urls := make([]string, len(req.URLs))
	for i, raw := range req.URLs {
		urls[i] = strings.TrimSpace(raw)
		if err := s.validatePageURL(urls[i]); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("urls[%d]: %s", i, err))
			return
		}
	}

	results := s.extractAll(r.Context(), urls, req.Trace)
	for i := range results {
		results[i].URL = urls[i]
	}
	s.writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

// extractAll runs the extractions under the extraction budget, at most
// batch.concurrency at a time, and returns one response per URL in input
// order. A URL still running when the budget ends, or whose extractor panics,
// yields an empty record.
func (s *Server) extractAll(ctx context.Context, urls []string, withTrace bool) []metadataResponse {
	ctx, cancel := context.WithTimeout(ctx, s.extractBudget)
	defer cancel()

	var mu sync.Mutex
	results := make([]metadataResponse, len(urls))
	for i := range results {
		results[i] = newResponse(scraper.ProductMetadata{}, metadata.Trace{}, withTrace)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		if s.cfg.Batch.Concurrency > 0 {
			g.SetLimit(s.cfg.Batch.Concurrency)
		}
		for i, pageURL := range urls {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				res, ok := s.extract(ctx, pageURL, withTrace)
				if ok {
					mu.Lock()
					results[i] = res
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("extraction budget exhausted",
			zap.Int("urls", len(urls)),
			zap.Duration("budget", s.extractBudget),
			zap.String("request_id", RequestID(ctx)),
		)
	}

	mu.Lock()
	defer mu.Unlock()
	return slices.Clone(results)
}

func (s *Server) extract(ctx context.Context, pageURL string, withTrace bool) (res metadataResponse, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveRecoveredPanic()
			s.logger.Error("extractor panicked", zap.String("url", pageURL), zap.Any("panic", rec))
			ok = false
		}
	}()
	meta, trace := s.extractor.ExtractWithTrace(ctx, pageURL)
	return newResponse(meta, trace, withTrace), true
}

func newResponse(meta scraper.ProductMetadata, trace metadata.Trace, withTrace bool) metadataResponse {
	res := metadataResponse{Metadata: meta}
	if amount, ok := price.ParseAmount(meta.Price); ok {
		res.PriceAmount = &amount
	}
	if withTrace {
		res.Trace = &trace
	}
	return res
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (s *Server) validatePageURL(raw string) error {
	if raw == "" {
		return errors.New("url required")
	}
	u, err := whatwg.Parse(raw)
	if err != nil {
		return errors.New("url is not valid")
	}
	if scheme := u.Scheme(); scheme != "http" && scheme != "https" {
		return errors.New("url must use http or https")
	}
	if u.Hostname() == "" {
		return errors.New("url must have a host")
	}
	if s.blocked.HostBlocked(u.Hostname()) {
		return errors.New("url host is not allowed")
	}
	return nil
}
