// Package scraper defines the core types shared across the metadata extraction
// subsystems: fetch requests and responses, the fetched document handed to the
// pipeline, and the collaborator interfaces used by fetchers and recorders.
package scraper
