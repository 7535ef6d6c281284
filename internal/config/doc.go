// Package config loads, normalizes, and validates solasola configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HF_HOME for the shared models directory. The Config type centralizes every
// knob the daemon and CLI need so output, upload, and model directories plus
// the external tool commands are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
