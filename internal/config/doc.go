// Package config loads, normalizes, and validates the TOML configuration
// shared by the daemon and the CLI. Defaults cover every key, so a missing
// config file is not an error; normalization expands ~ paths and fills
// omitted values before validation runs.
package config
