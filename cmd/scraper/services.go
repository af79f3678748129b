package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlist-scraper/internal/api"
	"github.com/JakeFAU/giftlist-scraper/internal/config"
	"github.com/JakeFAU/giftlist-scraper/internal/fetcher"
	collyfetcher "github.com/JakeFAU/giftlist-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/giftlist-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/giftlist-scraper/internal/headless/detector"
	"github.com/JakeFAU/giftlist-scraper/internal/metadata"
	"github.com/JakeFAU/giftlist-scraper/internal/policy/hostblock"
	"github.com/JakeFAU/giftlist-scraper/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/giftlist-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/giftlist-scraper/internal/recorder"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
	"github.com/JakeFAU/giftlist-scraper/internal/storage/gcs"
	"github.com/JakeFAU/giftlist-scraper/internal/storage/local"
	"github.com/JakeFAU/giftlist-scraper/internal/storage/memory"
	"github.com/JakeFAU/giftlist-scraper/internal/storage/postgres"
)

// services holds the wired pipeline and everything that must be released on exit.
type services struct {
	extractor *metadata.Extractor
	ready     []api.Pinger
	closers   []func()
}

// Close releases resources in reverse construction order.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *services, err error) {
	svc := &services{}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	blocklist := hostblock.New(cfg.Fetch.BlockedHosts)
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		RespectRobots:  cfg.Fetch.RespectRobots,
		Timeout:        cfg.FetchTimeout(),
		MaxBodySize:    cfg.Fetch.MaxBodyBytes,
		Blocklist:      blocklist,
	})
	pageFetcher := scraper.Fetcher(plain)
	if cfg.Headless.Enabled {
		var headless scraper.Fetcher
		chrome, chromeErr := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			AcceptLanguage:    cfg.Fetch.AcceptLanguage,
			NavigationTimeout: cfg.NavTimeout(),
			MaxBodySize:       cfg.Fetch.MaxBodyBytes,
			Blocklist:         blocklist,
		})
		if chromeErr != nil {
			logger.Warn("headless fetcher init failed", zap.Error(chromeErr))
			headless = headlessfetcher.NewNoop()
		} else {
			headless = chrome
			svc.closers = append(svc.closers, chrome.Close)
		}
		pageFetcher = fetcher.NewPromoting(
			plain,
			headless,
			detector.NewHeuristic(cfg.Headless.PromotionThresh),
			logger.Named("fetcher"),
		)
	}

	rec, err := buildRecorder(ctx, cfg, logger, svc)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		RPS:      cfg.RateLimit.RPS,
		Burst:    cfg.RateLimit.Burst,
		MaxHosts: cfg.RateLimit.MaxHosts,
	})
	svc.extractor = metadata.NewExtractor(
		pageFetcher,
		limiter,
		rec,
		nil,
		metadata.Config{MaxJSONLDBlocks: cfg.Extract.MaxJSONLDBlocks},
		logger.Named("extractor"),
	)
	return svc, nil
}

// buildRecorder returns nil when no sink is configured.
func buildRecorder(ctx context.Context, cfg config.Config, logger *zap.Logger, svc *services) (scraper.Recorder, error) {
	blobs, err := buildBlobStore(ctx, cfg.Archive, svc)
	if err != nil {
		return nil, err
	}

	var store scraper.ExtractionStore
	if cfg.DB.DSN != "" {
		pg, err := postgres.NewExtractionStore(ctx, postgres.ExtractionStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: int32(cfg.DB.MaxConns),
		})
		if err != nil {
			return nil, fmt.Errorf("init extraction store: %w", err)
		}
		svc.closers = append(svc.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure extraction schema: %w", err)
		}
		store = pg
		svc.ready = append(svc.ready, pg)
	}

	var publisher scraper.Publisher
	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		svc.closers = append(svc.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		})
		publisher = pub
	}

	if blobs == nil && store == nil && publisher == nil {
		return nil, nil
	}
	rec := recorder.New(blobs, store, publisher, recorder.Config{
		Prefix:      cfg.Archive.Prefix,
		ContentType: cfg.Archive.ContentType,
		Topic:       cfg.PubSub.TopicName,
		Timeout:     time.Duration(cfg.Recorder.TimeoutSeconds) * time.Second,
		QueueSize:   cfg.Recorder.QueueSize,
		Workers:     cfg.Recorder.Workers,
	}, logger.Named("recorder"))
	// Appended after the sinks so it drains before they close.
	svc.closers = append(svc.closers, rec.Close)
	return rec, nil
}

func buildBlobStore(ctx context.Context, cfg config.ArchiveConfig, svc *services) (scraper.BlobStore, error) {
	switch cfg.Backend {
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		svc.closers = append(svc.closers, func() { _ = client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}
