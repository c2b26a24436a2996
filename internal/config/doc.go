// Package config loads and validates YAML configuration for the topicmux
// binaries. Files may reference ${VAR} environment variables, which are
// expanded before parsing.
package config
