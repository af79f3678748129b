// Package main hosts the scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and metadata endpoints. Each request runs the
//     extraction pipeline inline; batch requests fan out with a bounded errgroup.
//   - Fetch pipeline: a plain Colly fetch with browser-like headers, optionally promoted to a headless Chromedp
//     fetch when the heuristic detector sees a script shell instead of product markup. An optional per-host token
//     bucket runs before every fetch.
//   - Resolution: internal/metadata parses the page once and resolves title, description, image and price through
//     ordered strategies (Open Graph, JSON-LD, microdata, DOM fallbacks), then normalizes the winners.
//   - Recording: when configured, raw HTML is archived to a BlobStore (memory/local/GCS), an extraction row is
//     written to Postgres, and a JSON event is published to Pub/Sub. Failures there never change a response.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: SCRAPER_SERVER_PORT or PORT, SCRAPER_FETCH_TIMEOUT_SECONDS, SCRAPER_HEADLESS_ENABLED,
//     SCRAPER_RATELIMIT_RPS, archive (SCRAPER_ARCHIVE_*), SCRAPER_DB_DSN and pubsub settings as needed.
//   - Run locally: go run ./cmd/scraper serve --config config.yaml
//   - One-off extraction: go run ./cmd/scraper extract --trace https://shop.example/product/1
package main
