// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp episode IDs, subscription IDs, stage names,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification consistent across feed fetching, transcription, and
//     summarization (validation vs transport vs parse vs external-tool).
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
