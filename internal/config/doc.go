// Package config loads, normalizes, and validates screenrec configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SCREENREC_OUTPUT_DIR and SCREENREC_MIC. The Config type centralizes every
// knob the recorder and CLI need, so capture timing, encoder binaries, and
// output locations are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
