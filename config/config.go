// Package config provides YAML configuration loading with environment
// overrides and file-watch hot reload for the fastrpc runtime.
package config

import (
	"fmt"
	"os"
)

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// DiagnosticFunc receives manager diagnostics: failed reloads and watcher
// errors. This package cannot import log (the logger loads its own
// configuration through here), so the runtime logger installs itself via
// SetDiagnosticFunc at init; the fallback writes to stderr.
type DiagnosticFunc func(configName string, msg string, err error)

var diag DiagnosticFunc = func(configName string, msg string, err error) {
	fmt.Fprintf(os.Stderr, "config %s: %s: %v\n", configName, msg, err)
}

// SetDiagnosticFunc replaces the diagnostic sink.
func SetDiagnosticFunc(f DiagnosticFunc) {
	if f != nil {
		diag = f
	}
}

// ConfigChangeListener receives notifications after a watched configuration
// file has been reloaded and validated.
type ConfigChangeListener interface {
	// OnConfigChanged is called with the reloaded configuration. Returning an
	// error keeps the previous configuration active.
	OnConfigChanged(configName string, newConfig, oldConfig Config) error

	// GetConfigName returns the configuration name the listener observes.
	GetConfigName() string
}
