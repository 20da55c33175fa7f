package proxy

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the relay server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the base URL of the workflow engine API,
	// without trailing slash (e.g., "https://engine.internal/v1").
	UpstreamURL string

	// APIKey authenticates against the engine.
	APIKey string

	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database, or empty for in-memory.
	DBPath string

	// DefaultUser is the caller identity sent upstream when the request
	// body does not carry one.
	DefaultUser string

	BufferedTimeout time.Duration
	StreamTimeout   time.Duration
}

// FileConfig is the optional TOML config file. Set fields override the
// corresponding Config fields; api_key and default_user are also applied on
// hot reload.
type FileConfig struct {
	Listen          string   `toml:"listen"`
	Upstream        string   `toml:"upstream"`
	APIKey          string   `toml:"api_key"`
	DB              string   `toml:"db"`
	DefaultUser     string   `toml:"default_user"`
	BufferedTimeout duration `toml:"buffered_timeout"`
	StreamTimeout   duration `toml:"stream_timeout"`
}

// duration lets TOML carry values like "60s" or "10m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// LoadConfigFile reads and parses the TOML config at path.
func LoadConfigFile(path string) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("load config file %s: %w", path, err)
	}
	return &fc, nil
}

// MergeFile overlays the set fields of fc onto c.
func (c *Config) MergeFile(fc *FileConfig) {
	if fc.Listen != "" {
		c.ListenAddr = fc.Listen
	}
	if fc.Upstream != "" {
		c.UpstreamURL = fc.Upstream
	}
	if fc.APIKey != "" {
		c.APIKey = fc.APIKey
	}
	if fc.DB != "" {
		c.DBPath = fc.DB
	}
	if fc.DefaultUser != "" {
		c.DefaultUser = fc.DefaultUser
	}
	if fc.BufferedTimeout.Duration > 0 {
		c.BufferedTimeout = fc.BufferedTimeout.Duration
	}
	if fc.StreamTimeout.Duration > 0 {
		c.StreamTimeout = fc.StreamTimeout.Duration
	}
}
