// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file, a .env file and GENJOB_ prefixed
// environment variables. It provides type-safe access to the settings of the
// store, worker pool, reconciler, notifier and generation backends.
package config
