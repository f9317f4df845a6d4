// Package config loads, normalizes, and validates Podscribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TRANSCRIBER_API_KEY and LLM_API_KEY. The Config type centralizes every knob
// the daemon and CLI need, so staging directories, service credentials, and
// polling cadence are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
