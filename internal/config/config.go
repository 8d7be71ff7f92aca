// Package config implements TOML configuration loading, validation, and
// platform path resolution for shipsite. Defaults cover everything except the
// remote endpoints, which must be present before any network operation.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Endpoints EndpointsConfig `toml:"endpoints"`
	Transfers TransfersConfig `toml:"transfers"`
	Session   SessionConfig   `toml:"session"`
	Logging   LoggingConfig   `toml:"logging"`
}

// EndpointsConfig names the remote collaborators: the identity provider's
// sign-in and token endpoints, the function endpoint that hosts named
// operations (publish, profile), and the blob storage endpoint.
type EndpointsConfig struct {
	AuthURL    string `toml:"auth_url"`
	TokenURL   string `toml:"token_url"`
	APIURL     string `toml:"api_url"`
	StorageURL string `toml:"storage_url"`
	APIKey     string `toml:"api_key"`
}

// TransfersConfig controls upload parallelism and HTTP timeouts.
// upload_timeout bounds a single artifact PUT; request_timeout bounds
// auth, profile, and function calls.
type TransfersConfig struct {
	ParallelUploads int    `toml:"parallel_uploads"`
	UploadTimeout   string `toml:"upload_timeout"`
	RequestTimeout  string `toml:"request_timeout"`
}

// SessionConfig controls credential persistence.
type SessionConfig struct {
	StorePath    string `toml:"store_path"`
	StaySignedIn bool   `toml:"stay_signed_in"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}
