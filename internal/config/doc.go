// Package config provides configuration loading and validation for autotalk.
// Configuration is YAML; Load starts from Default so a file only needs the
// keys it changes. Every section validates itself and the root wraps section
// errors with the section name.
package config
