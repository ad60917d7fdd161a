// Package config implements TOML configuration loading and platform-specific
// path resolution for gdrive-go. Settings resolve through a three-layer
// override chain (defaults -> config file -> environment) with CLI flags
// applied last by the command layer.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth      AuthConfig      `toml:"auth"`
	Drive     DriveConfig     `toml:"drive"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// AuthConfig carries the OAuth2 application credentials. These identify the
// application, not the user; user tokens live in the token file.
type AuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// DriveConfig controls how the remote tree is rooted.
type DriveConfig struct {
	// RootFolder re-points the tree root at a sub-folder path instead of the
	// Drive root. Empty means the Drive root itself.
	RootFolder string `toml:"root_folder"`
}

// TransfersConfig controls the chunked transfer engine.
type TransfersConfig struct {
	ChunkSize string `toml:"chunk_size"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "auto", "text", or "json"
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
}

// Default values, the "layer 0" of the override chain.
const (
	defaultChunkSize      = "10MB"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding (so unset fields retain defaults) and
// the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Transfers: TransfersConfig{ChunkSize: defaultChunkSize},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
