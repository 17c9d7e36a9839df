package repo

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rybkr/timelapse/internal/errkind"
)

// RetentionConfig mirrors the "retention.keep_count"/"retention.keep_duration"
// keys spec.md section 6 lists.
type RetentionConfig struct {
	KeepCount    int    `yaml:"keep_count"`
	KeepDuration string `yaml:"keep_duration"`
}

// PublishConfig names the author the publish bridge attributes shadow-repo
// commits to and the default remote "push"/"pull" target when none is
// given explicitly.
type PublishConfig struct {
	AuthorName    string `yaml:"author_name"`
	AuthorEmail   string `yaml:"author_email"`
	DefaultRemote string `yaml:"default_remote"`
}

// Config is the repository's "config" file: every recognized option from
// spec.md section 6, parsed with gopkg.in/yaml.v3 (the teacher's own config
// library, already shaped for these key names). HashAlgo is set once at
// init and never rewritten afterward.
type Config struct {
	HashAlgo                  string          `yaml:"hash_algo"`
	DebounceMS                int             `yaml:"debounce_ms"`
	CompressionThresholdBytes int             `yaml:"compression_threshold_bytes"`
	CompressionLevel          int             `yaml:"compression_level"`
	Retention                 RetentionConfig `yaml:"retention"`
	ReconcileIntervalSecs     int             `yaml:"reconcile_interval_secs"`
	IgnorePatterns            []string        `yaml:"ignore_patterns"`
	Publish                   PublishConfig   `yaml:"publish"`
}

// DefaultConfig returns the configuration written by "timelapse init" absent
// any overrides: SHA-1 (Git-interoperable) hashing, a 300ms debounce (the
// spec's own documented default), a 4KiB compression threshold, 1000 kept
// checkpoints, and a 30-day retention window.
func DefaultConfig() Config {
	return Config{
		HashAlgo:                  "sha1",
		DebounceMS:                300,
		CompressionThresholdBytes: 4096,
		CompressionLevel:          6,
		Retention: RetentionConfig{
			KeepCount:    1000,
			KeepDuration: "720h", // 30 days
		},
		ReconcileIntervalSecs: 60,
		IgnorePatterns:        nil,
		Publish: PublishConfig{
			AuthorName:    "timelapse",
			AuthorEmail:   "timelapse@localhost",
			DefaultRemote: "origin",
		},
	}
}

// KeepDurationParsed parses the configured retention window, defaulting to 30
// days if unset or malformed rather than failing a read of an otherwise
// valid config.
func (c Config) KeepDurationParsed() time.Duration {
	if c.Retention.KeepDuration == "" {
		return 30 * 24 * time.Hour
	}
	d, err := time.ParseDuration(c.Retention.KeepDuration)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}

// Validate checks the subset of fields that can make a config
// operationally invalid (spec.md's ConfigInvalid kind).
func (c Config) Validate() error {
	switch c.HashAlgo {
	case "sha1", "blake3":
	default:
		return errkind.New(errkind.ConfigInvalid, fmt.Sprintf("config: unknown hash_algo %q", c.HashAlgo))
	}
	if c.DebounceMS < 0 {
		return errkind.New(errkind.ConfigInvalid, "config: debounce_ms must be >= 0")
	}
	if c.CompressionThresholdBytes < 0 {
		return errkind.New(errkind.ConfigInvalid, "config: compression_threshold_bytes must be >= 0")
	}
	if c.CompressionLevel != 0 && (c.CompressionLevel < -2 || c.CompressionLevel > 9) {
		return errkind.New(errkind.ConfigInvalid, "config: compression_level must be -2 (huffman-only), -1 (default), 0 (none), or 1-9")
	}
	if c.ReconcileIntervalSecs < 0 {
		return errkind.New(errkind.ConfigInvalid, "config: reconcile_interval_secs must be >= 0")
	}
	if c.Retention.KeepCount < 0 {
		return errkind.New(errkind.ConfigInvalid, "config: retention.keep_count must be >= 0")
	}
	if c.Retention.KeepDuration != "" {
		if _, err := time.ParseDuration(c.Retention.KeepDuration); err != nil {
			return errkind.Wrap(errkind.ConfigInvalid, err, "config: invalid retention.keep_duration")
		}
	}
	return nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // engine-owned path
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, errkind.Wrap(errkind.NotInitialized, err, "config: no config file at "+path)
		}
		return Config{}, errkind.Wrap(errkind.IoError, err, "config: read")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errkind.Wrap(errkind.ConfigInvalid, err, "config: parse")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path via the atomic create-temp/rename discipline used
// for every other on-disk artifact in this module.
func (c Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errkind.Wrap(errkind.ConfigInvalid, err, "config: marshal")
	}
	return atomicWriteFile(path, data)
}
