// Package config assembles the run configuration from an optional YAML
// file overlaid by the process environment. Environment always wins,
// so CI secrets can override anything checked in.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials means the mandatory provider credentials are
// absent. No run is attempted in that case.
var ErrMissingCredentials = errors.New("missing mandatory credentials")

// DefaultConfigFile is consulted when CLAWKEEPER_CONFIG is unset.
const DefaultConfigFile = "clawkeeper.yaml"

// Config is the full process configuration.
type Config struct {
	// Provider credentials. Mandatory.
	Username string `envconfig:"GH_USERNAME" yaml:"username" json:"username"`
	Password string `envconfig:"GH_PASSWORD" yaml:"-" json:"-"`

	// SessionCookie pre-seeds the provider session so a still-valid
	// credential can skip the challenge stages entirely.
	SessionCookie string `envconfig:"GH_SESSION" yaml:"-" json:"-"`

	// ForcedRegion pins the run to one tenant; it takes precedence over
	// any detected binding for the lifetime of the run.
	ForcedRegion string `envconfig:"CLAW_REGION" yaml:"forced_region" json:"forced_region"`

	// KeepAliveRegions are visited after authentication. The visits
	// never affect the run's verdict.
	KeepAliveRegions []string `envconfig:"CLAW_REGIONS" yaml:"keepalive_regions" json:"keepalive_regions"`

	// Verification channel credentials.
	TelegramToken  string `envconfig:"TG_BOT_TOKEN" yaml:"-" json:"-"`
	TelegramChatID string `envconfig:"TG_CHAT_ID" yaml:"telegram_chat_id" json:"telegram_chat_id"`

	// Secret store credentials.
	RepoToken  string `envconfig:"REPO_TOKEN" yaml:"-" json:"-"`
	Repository string `envconfig:"GITHUB_REPOSITORY" yaml:"repository" json:"repository"`

	// Stage wait budgets.
	DeviceVerifyWait time.Duration `envconfig:"DEVICE_VERIFY_WAIT" yaml:"device_verify_wait" json:"device_verify_wait"`
	TwoFactorWait    time.Duration `envconfig:"TWO_FACTOR_WAIT" yaml:"two_factor_wait" json:"two_factor_wait"`
	RedirectWait     time.Duration `envconfig:"REDIRECT_WAIT" yaml:"redirect_wait" json:"redirect_wait"`

	// Browser settings.
	Headless      bool   `envconfig:"HEADLESS" yaml:"headless" json:"headless"`
	ScreenshotDir string `envconfig:"SCREENSHOT_DIR" yaml:"screenshot_dir" json:"screenshot_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DeviceVerifyWait: 60 * time.Second,
		TwoFactorWait:    120 * time.Second,
		RedirectWait:     120 * time.Second,
		Headless:         true,
		ScreenshotDir:    ".",
	}
}

// Load builds the configuration: defaults, then the YAML file (if any),
// then the environment. A .env file in the working directory is loaded
// best-effort first, matching how the run is started locally.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := os.Getenv("CLAWKEEPER_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := applyFile(cfg, path, explicit); err != nil {
		return nil, err
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks mandatory fields. Channel and store credentials are
// optional: without them the run still authenticates, it just cannot
// wait for operator codes or persist the rotated credential.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: GH_USERNAME and GH_PASSWORD are required", ErrMissingCredentials)
	}
	if c.DeviceVerifyWait <= 0 || c.TwoFactorWait <= 0 || c.RedirectWait <= 0 {
		return fmt.Errorf("wait budgets must be positive")
	}
	return nil
}

// ChannelConfigured reports whether the verification channel can run.
func (c *Config) ChannelConfigured() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// StoreConfigured reports whether the secret store can run.
func (c *Config) StoreConfigured() bool {
	return c.RepoToken != "" && c.Repository != ""
}
