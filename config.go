package binjatron

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/st-keller/binjatron/types"
	"github.com/st-keller/binjatron/update"
)

// EnvPrefix is the prefix of the environment variables read by ApplyEnv.
const EnvPrefix = "BTRON_"

// ConfigFileName is the name of the configuration file in the user's home
// directory.
const ConfigFileName = ".binjatron.conf"

// Config holds the plugin configuration.
type Config struct {
	URL      string `yaml:"url"`       // debugger API, eg. "http://127.0.0.1:5555" or "unix:///tmp/voltron.sock"
	CertPath string `yaml:"cert_path"` // client certificate (https only)
	KeyPath  string `yaml:"key_path"`  // client key (https only)
	CAPath   string `yaml:"ca_path"`   // CA certificate (https only)

	BreakpointColor types.Color `yaml:"bp_colour"`
	PCColor         types.Color `yaml:"pc_colour"`

	// caps the delay between poll attempts while the debugger is unreachable
	RetryInterval update.Interval `yaml:"retry_interval"`

	// number of log entries kept for Plugin.Logs()
	LogEntries int `yaml:"log_entries"`
}

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		URL:             "http://127.0.0.1:5555",
		BreakpointColor: types.Red,
		PCColor:         types.Blue,
		RetryInterval:   update.Medium,
		LogEntries:      100,
	}
}

// DefaultConfigPath returns the path of the configuration file in the user's
// home directory.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ConfigFileName), nil
}

// LoadFile reads a YAML configuration file over the defaults. Fields missing
// from the file keep their default value.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Load builds the configuration the way the plugin does on startup: the
// defaults, then the file at path if it exists, then the environment. The
// result is validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		c, err := LoadFile(path)
		switch {
		case err == nil:
			cfg = c
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, err
		}
	}

	if err := cfg.ApplyEnv(EnvPrefix); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields with environment variables named prefix followed
// by the upper case YAML key, eg. BTRON_URL or BTRON_BP_COLOUR.
func (c *Config) ApplyEnv(prefix string) error {
	str := map[string]*string{
		"URL":       &c.URL,
		"CERT_PATH": &c.CertPath,
		"KEY_PATH":  &c.KeyPath,
		"CA_PATH":   &c.CAPath,
	}
	for k, p := range str {
		if v, ok := os.LookupEnv(prefix + k); ok {
			*p = v
		}
	}

	if v, ok := os.LookupEnv(prefix + "BP_COLOUR"); ok {
		if err := c.BreakpointColor.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%sBP_COLOUR: %w", prefix, err)
		}
	}
	if v, ok := os.LookupEnv(prefix + "PC_COLOUR"); ok {
		if err := c.PCColor.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%sPC_COLOUR: %w", prefix, err)
		}
	}
	if v, ok := os.LookupEnv(prefix + "RETRY_INTERVAL"); ok {
		if err := c.RetryInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%sRETRY_INTERVAL: %w", prefix, err)
		}
	}
	if v, ok := os.LookupEnv(prefix + "LOG_ENTRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sLOG_ENTRIES: %w", prefix, err)
		}
		c.LogEntries = n
	}

	return nil
}

// Validate checks that the configuration can be used.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("URL invalid: %w", err)
	}
	switch u.Scheme {
	case "http", "unix":
	case "https":
		if c.CertPath == "" {
			return fmt.Errorf("CertPath required for https")
		}
		if c.KeyPath == "" {
			return fmt.Errorf("KeyPath required for https")
		}
		if c.CAPath == "" {
			return fmt.Errorf("CAPath required for https")
		}
	default:
		return fmt.Errorf("URL scheme %q not supported (http, https or unix)", u.Scheme)
	}

	if c.BreakpointColor < types.NoHighlight || c.BreakpointColor > types.Black {
		return fmt.Errorf("BreakpointColor invalid: %d", c.BreakpointColor)
	}
	if c.PCColor < types.NoHighlight || c.PCColor > types.Black {
		return fmt.Errorf("PCColor invalid: %d", c.PCColor)
	}

	switch c.RetryInterval {
	case update.Fast, update.Medium, update.Slow:
	default:
		return fmt.Errorf("RetryInterval invalid: %d", c.RetryInterval)
	}

	if c.LogEntries <= 0 {
		return fmt.Errorf("LogEntries required (must be > 0)")
	}

	return nil
}
