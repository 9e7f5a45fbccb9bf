// Package config loads and validates the immutable runtime configuration
// for the transform engine and edge router. Configuration is assembled
// once at entry from defaults, an optional YAML file, and GALERLY_*
// environment overrides, then passed by value into the components.
package config
