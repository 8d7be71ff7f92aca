package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrEndpointsMissing signals that remote endpoints have not been configured.
// Session and deployment code maps this to its ConfigurationMissing error.
var ErrEndpointsMissing = errors.New("config: remote endpoints not configured")

// Validate checks field-level constraints on a Config. Endpoint URLs may be
// empty (first run), but when set they must parse as absolute URLs.
func Validate(cfg *Config) error {
	for _, ep := range []struct {
		name  string
		value string
	}{
		{"endpoints.auth_url", cfg.Endpoints.AuthURL},
		{"endpoints.token_url", cfg.Endpoints.TokenURL},
		{"endpoints.api_url", cfg.Endpoints.APIURL},
		{"endpoints.storage_url", cfg.Endpoints.StorageURL},
	} {
		if ep.value == "" {
			continue
		}

		u, err := url.Parse(ep.value)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("%s: %q is not an absolute URL", ep.name, ep.value)
		}
	}

	if cfg.Transfers.ParallelUploads < 1 {
		return fmt.Errorf("transfers.parallel_uploads: must be at least 1, got %d",
			cfg.Transfers.ParallelUploads)
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"transfers.upload_timeout", cfg.Transfers.UploadTimeout},
		{"transfers.request_timeout", cfg.Transfers.RequestTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %q is not a valid duration", d.name, d.value)
		}
	}

	switch cfg.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.log_level: %q is not one of debug, info, warn, error",
			cfg.Logging.LogLevel)
	}

	return nil
}

// CheckEndpoints reports whether the remote collaborators are fully
// configured. Returns ErrEndpointsMissing naming the first absent field.
func CheckEndpoints(cfg *Config) error {
	switch {
	case cfg.Endpoints.AuthURL == "":
		return fmt.Errorf("%w: endpoints.auth_url", ErrEndpointsMissing)
	case cfg.Endpoints.TokenURL == "":
		return fmt.Errorf("%w: endpoints.token_url", ErrEndpointsMissing)
	case cfg.Endpoints.APIURL == "":
		return fmt.Errorf("%w: endpoints.api_url", ErrEndpointsMissing)
	case cfg.Endpoints.StorageURL == "":
		return fmt.Errorf("%w: endpoints.storage_url", ErrEndpointsMissing)
	}

	return nil
}

// UploadTimeout returns the parsed upload timeout. Validate guarantees the
// string parses; a zero duration falls back to the default.
func (t TransfersConfig) UploadTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(t.UploadTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultUploadTimeout) //nolint:errcheck // constant parses
	}

	return d
}

// RequestTimeoutDuration returns the parsed request timeout.
func (t TransfersConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(t.RequestTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultRequestTimeout) //nolint:errcheck // constant parses
	}

	return d
}
