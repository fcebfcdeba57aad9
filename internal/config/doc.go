// Package config loads, normalizes, and validates photopipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// PHOTOPIPE_MONGO_URI and PHOTOPIPE_REDIS_ADDR. The Config type centralizes
// every knob the coordinator daemon, the workers, and the CLI need: store and
// queue endpoints, external tool locations, template assets, and timing.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
