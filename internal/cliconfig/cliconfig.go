// Package cliconfig holds user-level settings shared by every project:
// the API token and URL and the deployment poll policy.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lucasnoah/ymir/internal/api"
	"github.com/lucasnoah/ymir/internal/deploy"
)

// Keys recognised in the config file and as YMIR_* environment variables.
const (
	KeyToken         = "token"
	KeyAPIURL        = "api_url"
	KeyPollInterval  = "poll_interval"
	KeyDeployTimeout = "deploy_timeout"
)

// EnvPrefix is prepended to keys when reading environment variables.
const EnvPrefix = "YMIR"

var knownKeys = []string{KeyToken, KeyAPIURL, KeyPollInterval, KeyDeployTimeout}

// Config is the user's CLI configuration.
type Config struct {
	// viper resolves effective values: env, then file, then defaults.
	viper *viper.Viper
	// file holds only what the file contains plus Set calls; Save writes it.
	file *viper.Viper
	fs   afero.Fs
	path string
}

// DefaultPath returns ~/.ymir/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".ymir", "config.json"), nil
}

// Load reads the configuration at path. A missing file is not an error.
func Load(fs afero.Fs, path string) (*Config, error) {
	file := viper.New()
	file.SetFs(fs)
	file.SetConfigFile(path)
	file.SetConfigType("json")

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", path, err)
	}
	if exists {
		if err := file.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault(KeyAPIURL, api.DefaultBaseURL)
	v.SetDefault(KeyPollInterval, deploy.DefaultPollPolicy.Interval.String())
	v.SetDefault(KeyDeployTimeout, deploy.DefaultPollPolicy.Timeout.String())
	if err := v.MergeConfigMap(file.AllSettings()); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &Config{viper: v, file: file, fs: fs, path: path}, nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) Token() string {
	return strings.TrimSpace(c.viper.GetString(KeyToken))
}

func (c *Config) APIURL() string {
	return c.viper.GetString(KeyAPIURL)
}

// PollPolicy returns the configured deployment poll policy.
func (c *Config) PollPolicy() (deploy.PollPolicy, error) {
	interval, err := c.duration(KeyPollInterval)
	if err != nil {
		return deploy.PollPolicy{}, err
	}
	timeout, err := c.duration(KeyDeployTimeout)
	if err != nil {
		return deploy.PollPolicy{}, err
	}
	return deploy.PollPolicy{Interval: interval, Timeout: timeout}, nil
}

func (c *Config) duration(key string) (time.Duration, error) {
	raw := c.viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, raw)
	}
	return d, nil
}

// Set stores a value for a known key. Durations are validated.
func (c *Config) Set(key, value string) error {
	if !isKnown(key) {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(knownKeys, ", "))
	}
	if key == KeyPollInterval || key == KeyDeployTimeout {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", key, value)
		}
	}
	c.viper.Set(key, value)
	c.file.Set(key, value)
	return nil
}

// Save writes the configuration file, creating its directory. Only values
// read from the file or stored with Set are written; defaults and
// environment overrides are not.
func (c *Config) Save() error {
	dir := filepath.Dir(c.path)
	if err := c.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if err := c.file.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	return c.fs.Chmod(c.path, 0o600)
}

// Values returns every known key with its effective value. The token is
// masked.
func (c *Config) Values() map[string]string {
	out := make(map[string]string, len(knownKeys))
	for _, k := range knownKeys {
		out[k] = c.viper.GetString(k)
	}
	out[KeyToken] = MaskToken(out[KeyToken])
	return out
}

func isKnown(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// MaskToken hides all but the last four characters of a token.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}
