// Package logging centralizes slog construction and the attribute vocabulary
// used across the daemon, pipeline, and poller. Components always log through
// helpers here so field names stay queryable and tests can inject NewNop.
package logging
