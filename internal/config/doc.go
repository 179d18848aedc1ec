// Package config loads gateway configuration.
//
// Values come from an optional YAML file (with ${VAR} expansion), then from
// COMMON_API_* environment variables, then from defaults for anything still
// unset.
package config
