// Package config loads, normalizes, and validates try-on backend configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and honours environment
// fallbacks such as FAL_AI_API_KEY, SUPABASE_URL and RATE_LIMIT_WINDOW. The
// Config type centralizes every knob the daemon and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
