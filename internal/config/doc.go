// Package config loads the canvas client configuration.
//
// Configuration is YAML with ${VAR} environment expansion. Missing optional
// fields receive defaults (see defaults.go) before validation.
package config
