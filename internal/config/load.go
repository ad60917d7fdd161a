package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "GDRIVE_GO_CONFIG"
	EnvClientID     = "GDRIVE_GO_CLIENT_ID"
	EnvClientSecret = "GDRIVE_GO_CLIENT_SECRET"
)

// Load reads and parses a TOML config file and returns the resulting Config.
// Unknown keys are fatal errors — silently ignoring a typo in a config file
// leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(md); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values, supporting zero-config first runs.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain: the config path comes from the CLI
// flag when set, then the environment, then the platform default; credential
// fields may be overridden from the environment for CI use.
func Resolve(cliConfigPath string) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if envPath := os.Getenv(EnvConfig); envPath != "" {
		cfgPath = envPath
	}

	if cliConfigPath != "" {
		cfgPath = cliConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if id := os.Getenv(EnvClientID); id != "" {
		cfg.Auth.ClientID = id
	}

	if secret := os.Getenv(EnvClientSecret); secret != "" {
		cfg.Auth.ClientSecret = secret
	}

	return cfg, nil
}

// checkUnknownKeys rejects keys in the TOML file that do not map to any
// Config field.
func checkUnknownKeys(md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}

	sort.Strings(keys)

	return fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
}

// validate checks that parseable string fields actually parse, so errors
// surface at load time instead of first use.
func validate(cfg *Config) error {
	if _, err := ParseSize(cfg.Transfers.ChunkSize); err != nil {
		return fmt.Errorf("transfers.chunk_size: %w", err)
	}

	switch cfg.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.log_level: unknown level %q", cfg.Logging.LogLevel)
	}

	switch cfg.Logging.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("logging.log_format: unknown format %q", cfg.Logging.LogFormat)
	}

	for _, d := range []struct{ key, val string }{
		{"network.connect_timeout", cfg.Network.ConnectTimeout},
		{"network.data_timeout", cfg.Network.DataTimeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}

	return nil
}
