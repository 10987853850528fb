package config

import (
	"embed"
	"os"
	"strings"
	"time"

	apperrors "PS3DL/internal/errors"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration of the acquisition pipeline.
type Config struct {
	URLs       URLConfig        `yaml:"urls"`
	Download   DownloadConfig   `yaml:"download"`
	Keys       KeysConfig       `yaml:"keys"`
	Folders    FolderConfig     `yaml:"folders"`
	Decryption DecryptionConfig `yaml:"decryption"`
	Descriptor DescriptorConfig `yaml:"descriptor"`
	History    HistoryConfig    `yaml:"history"`
}

// URLConfig holds the remote endpoints.
type URLConfig struct {
	ISOBase   string `yaml:"iso_base"`
	KeysBase  string `yaml:"keys_base"`
	UserAgent string `yaml:"user_agent"`
}

// DownloadConfig describes transfer retry behaviour and HTTP timeouts.
type DownloadConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// KeysConfig describes key index caching and key package parsing.
type KeysConfig struct {
	Suffix          string `yaml:"suffix"`
	CacheFile       string `yaml:"cache_file"`
	MaxPackageBytes int64  `yaml:"max_package_bytes"`
}

// FolderConfig describes the working directory tree.
type FolderConfig struct {
	WorkDir string `yaml:"work_dir"`
	ISODir  string `yaml:"iso_dir"`
	KeysDir string `yaml:"keys_dir"`
}

// DecryptionConfig describes the external decryption program and its supervision.
type DecryptionConfig struct {
	BinaryPath     string        `yaml:"binary_path"`
	Mode           string        `yaml:"mode"`
	KeyType        string        `yaml:"key_type"`
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	StallThreshold int           `yaml:"stall_threshold"`
	BuildCommand   string        `yaml:"build_command"`
}

// DescriptorConfig describes the best-effort metadata rename.
type DescriptorConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Helper  string `yaml:"helper"`
	Entry   string `yaml:"entry"`
}

// IsEnabled reports whether descriptor renaming should run. Unset means enabled.
func (d DescriptorConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// HistoryConfig locates the acquisition ledger.
type HistoryConfig struct {
	Database string `yaml:"database"`
}

//go:embed default.yaml
var embeddedDefaults embed.FS

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	data, err := embeddedDefaults.ReadFile("default.yaml")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded default config")
	}
	return Parse(data)
}

// Parse decodes configuration data from bytes. Empty input yields an empty Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if len(strings.TrimSpace(string(data))) == 0 {
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	return &cfg, nil
}

// Load reads the defaults, merges the file at path over them (when path is not empty)
// and validates the result.
func Load(path string) (*Config, error) {
	base, err := Default()
	if err != nil {
		return nil, apperrors.ConfigError(apperrors.CodeConfigGeneric, "failed to load default configuration", err).
			WithModule("config").
			WithOperation("Load")
	}

	layers := []*Config{base}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(ExpandHome(path))
		if err != nil {
			return nil, apperrors.ConfigError(apperrors.CodeConfigGeneric, "failed to read configuration file", err).
				WithModule("config").
				WithOperation("Load").
				WithField("path", path)
		}
		user, err := Parse(data)
		if err != nil {
			return nil, apperrors.ConfigError(apperrors.CodeConfigGeneric, "failed to parse configuration file", err).
				WithModule("config").
				WithOperation("Load").
				WithField("path", path)
		}
		layers = append(layers, user)
	}

	cfg := Merge(layers...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge merges configurations together, later entries overriding earlier ones field by
// field. Zero values never override.
func Merge(cfgs ...*Config) *Config {
	var result Config
	for _, cfg := range cfgs {
		if cfg == nil {
			continue
		}

		overrideString(&result.URLs.ISOBase, cfg.URLs.ISOBase)
		overrideString(&result.URLs.KeysBase, cfg.URLs.KeysBase)
		overrideString(&result.URLs.UserAgent, cfg.URLs.UserAgent)

		overrideInt(&result.Download.MaxRetries, cfg.Download.MaxRetries)
		overrideDuration(&result.Download.RetryDelay, cfg.Download.RetryDelay)
		overrideDuration(&result.Download.ProbeTimeout, cfg.Download.ProbeTimeout)
		overrideDuration(&result.Download.RequestTimeout, cfg.Download.RequestTimeout)
		overrideDuration(&result.Download.ConnectTimeout, cfg.Download.ConnectTimeout)

		overrideString(&result.Keys.Suffix, cfg.Keys.Suffix)
		overrideString(&result.Keys.CacheFile, cfg.Keys.CacheFile)
		if cfg.Keys.MaxPackageBytes > 0 {
			result.Keys.MaxPackageBytes = cfg.Keys.MaxPackageBytes
		}

		overrideString(&result.Folders.WorkDir, cfg.Folders.WorkDir)
		overrideString(&result.Folders.ISODir, cfg.Folders.ISODir)
		overrideString(&result.Folders.KeysDir, cfg.Folders.KeysDir)

		overrideString(&result.Decryption.BinaryPath, cfg.Decryption.BinaryPath)
		overrideString(&result.Decryption.Mode, cfg.Decryption.Mode)
		overrideString(&result.Decryption.KeyType, cfg.Decryption.KeyType)
		overrideDuration(&result.Decryption.Timeout, cfg.Decryption.Timeout)
		overrideDuration(&result.Decryption.PollInterval, cfg.Decryption.PollInterval)
		overrideInt(&result.Decryption.StallThreshold, cfg.Decryption.StallThreshold)
		overrideString(&result.Decryption.BuildCommand, cfg.Decryption.BuildCommand)

		if cfg.Descriptor.Enabled != nil {
			enabled := *cfg.Descriptor.Enabled
			result.Descriptor.Enabled = &enabled
		}
		overrideString(&result.Descriptor.Helper, cfg.Descriptor.Helper)
		overrideString(&result.Descriptor.Entry, cfg.Descriptor.Entry)

		overrideString(&result.History.Database, cfg.History.Database)
	}
	return &result
}

// ApplyEnv applies environment overrides. PS3DL_DECRYPTOR replaces the decryption
// binary path and PS3DL_WORK_DIR the working directory.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("PS3DL_DECRYPTOR"); ok {
		overrideString(&c.Decryption.BinaryPath, v)
	}
	if v, ok := lookup("PS3DL_WORK_DIR"); ok {
		overrideString(&c.Folders.WorkDir, v)
	}
}

// Validate checks the invariants the pipeline relies on.
func (c *Config) Validate() error {
	invalid := func(msg, field string, value interface{}) error {
		return apperrors.ConfigError(apperrors.CodeConfigGeneric, msg, nil).
			WithModule("config").
			WithOperation("Validate").
			WithField(field, value)
	}

	switch {
	case c.Download.MaxRetries <= 0:
		return invalid("max_retries must be greater than 0", "download.max_retries", c.Download.MaxRetries)
	case c.Download.RetryDelay <= 0:
		return invalid("retry_delay must be greater than 0", "download.retry_delay", c.Download.RetryDelay)
	case c.Decryption.Timeout <= 0:
		return invalid("decryption timeout must be greater than 0", "decryption.timeout", c.Decryption.Timeout)
	case c.Decryption.PollInterval <= 0:
		return invalid("poll_interval must be greater than 0", "decryption.poll_interval", c.Decryption.PollInterval)
	case c.Decryption.StallThreshold <= 0:
		return invalid("stall_threshold must be greater than 0", "decryption.stall_threshold", c.Decryption.StallThreshold)
	case strings.TrimSpace(c.URLs.ISOBase) == "":
		return invalid("iso_base url is required", "urls.iso_base", c.URLs.ISOBase)
	case strings.TrimSpace(c.URLs.KeysBase) == "":
		return invalid("keys_base url is required", "urls.keys_base", c.URLs.KeysBase)
	case strings.TrimSpace(c.Folders.WorkDir) == "":
		return invalid("work_dir is required", "folders.work_dir", c.Folders.WorkDir)
	case strings.TrimSpace(c.Keys.Suffix) == "":
		return invalid("key suffix is required", "keys.suffix", c.Keys.Suffix)
	}
	return nil
}

func overrideString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func overrideInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func overrideDuration(dst *time.Duration, value time.Duration) {
	if value > 0 {
		*dst = value
	}
}
