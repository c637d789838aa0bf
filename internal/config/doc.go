// Package config loads, normalizes, and validates YanheKt configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and honours environment
// fallbacks such as INSIGHT_FFMPEG and ES_ENDPOINT. The Config type
// centralizes every knob the daemon and CLI need, so upload directories,
// artifact directories, and external service credentials are discovered in
// one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
