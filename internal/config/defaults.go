package config

import (
	"os"
	"path/filepath"
)

// Default values applied before the config file is read.
const (
	DefaultParallelUploads = 3
	DefaultUploadTimeout   = "10m"
	DefaultRequestTimeout  = "30s"
	DefaultLogLevel        = "info"
)

// DefaultConfig returns a Config populated with all default values.
// Endpoints are intentionally left empty — they have no sensible default
// and validation rejects network use until they are configured.
func DefaultConfig() *Config {
	return &Config{
		Transfers: TransfersConfig{
			ParallelUploads: DefaultParallelUploads,
			UploadTimeout:   DefaultUploadTimeout,
			RequestTimeout:  DefaultRequestTimeout,
		},
		Session: SessionConfig{
			StorePath:    DefaultStorePath(),
			StaySignedIn: true,
		},
		Logging: LoggingConfig{
			LogLevel: DefaultLogLevel,
		},
	}
}

// DefaultConfigPath returns the platform config file location,
// typically ~/.config/shipsite/config.toml.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir() //nolint:errcheck // empty home degrades to relative path
		base = filepath.Join(home, ".config")
	}

	return filepath.Join(base, "shipsite", "config.toml")
}

// DefaultStorePath returns the platform credential store location,
// typically ~/.config/shipsite/credentials.db.
func DefaultStorePath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir() //nolint:errcheck // empty home degrades to relative path
		base = filepath.Join(home, ".config")
	}

	return filepath.Join(base, "shipsite", "credentials.db")
}
