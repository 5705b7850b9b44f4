// Package config loads, normalizes, and validates mediaforge configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, overlays `.env` files, and honours environment
// overrides such as MEDIAFORGE_API_TOKEN. The Config type centralizes every
// knob the daemon, the job engine, and the CLI need so the database location,
// artifact directories, worker counts, and per-type concurrency caps are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
