// Package engine implements the shared fetch-and-extract core that
// individual scrapers plug into: a bounded worker pool pulling jobs from a
// queue, per-host rate limiting, pluggable fetch backends, and bounded
// retries with exponential backoff.
package engine
