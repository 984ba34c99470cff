// Package config provides TOML configuration file loading and parsing for
// the client. The configuration file lives at ~/.termsync/config.toml by
// default, but can be overridden with the --config flag. CLI flags always
// take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config represents the client configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML
// files via struct tags.
type Config struct {
	// HostAddr is the host:port of the termsync host to connect to.
	// Default: 127.0.0.1:1619
	HostAddr string `toml:"host_addr"`

	// AuthKey authenticates every request to the host. Issued by the host
	// at setup time.
	AuthKey string `toml:"auth_key"`

	// ClientId is this client's stable uuid, generated on first run and
	// carried on the websocket dial URL.
	ClientId string `toml:"client_id"`

	// CacheDB is the path to the SQLite snapshot cache.
	// Default: ~/.termsync/cache.db
	CacheDB string `toml:"cache_db"`

	// MdnsEnabled enables mDNS host discovery. When true and HostAddr is
	// empty, the client browses the local network for a host instead of
	// requiring a configured address.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// Debug enables verbose logging, including benign drop events that
	// are silent at normal verbosity.
	// Default: false
	Debug bool `toml:"debug"`
}

// WSBaseURL returns the websocket origin for the configured host.
func (c *Config) WSBaseURL() string {
	return "ws://" + c.HostAddr
}

// HTTPBaseURL returns the HTTP origin for the configured host.
func (c *Config) HTTPBaseURL() string {
	return "http://" + c.HostAddr
}

// DefaultConfigPath returns the default config file location:
// ~/.termsync/config.toml. Returns an error only if the user's home
// directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".termsync", "config.toml"), nil
}

// DefaultCachePath returns the default snapshot-cache location:
// ~/.termsync/cache.db.
func DefaultCachePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".termsync", "cache.db"), nil
}

// WriteDefault creates a config file with a freshly generated client id at
// the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string, hostAddr string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, nothing to do
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if hostAddr == "" {
		hostAddr = DefaultHostAddr
	}

	content := fmt.Sprintf(`# Termsync client configuration

# Host to connect to
host_addr = %q

# Auth key issued by the host; fill this in before connecting
auth_key = ""

# Stable client id, generated on first run
client_id = %q
`, hostAddr, uuid.New().String())

	// Restrictive permissions: the file holds the auth key.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.termsync/config.toml). Returns a default Config without error if
//     the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg.applyDefaults(), nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg.applyDefaults(), nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg.applyDefaults(), nil
}

// applyDefaults fills unset fields. A missing client id is generated in
// memory; it is only persisted when WriteDefault creates the file.
func (c *Config) applyDefaults() *Config {
	if c.HostAddr == "" && !c.MdnsEnabled {
		c.HostAddr = DefaultHostAddr
	}
	if c.ClientId == "" {
		c.ClientId = uuid.New().String()
	}
	if c.CacheDB == "" {
		if p, err := DefaultCachePath(); err == nil {
			c.CacheDB = p
		}
	}
	return c
}
