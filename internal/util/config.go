package util

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds runtime settings and flags.
type Config struct {
	BaseURL        string        `toml:"base_url" env:"TALEWEAVER_BASE_URL"`
	DSN            string        `toml:"dsn" env:"DATABASE_URL"`
	Dev            bool          `toml:"dev" env:"TALEWEAVER_DEV"`
	Theme          string        `toml:"theme" env:"TALEWEAVER_THEME"`
	SubmitInterval time.Duration `toml:"submit_interval" env:"TALEWEAVER_SUBMIT_INTERVAL"`
	RequestTimeout time.Duration `toml:"request_timeout" env:"TALEWEAVER_REQUEST_TIMEOUT"`
	LogFile        string        `toml:"log_file" env:"TALEWEAVER_LOG_FILE"`
	Verbose        bool          `toml:"verbose" env:"TALEWEAVER_VERBOSE"`
}

func Default() Config {
	logFile := "taleweaver.log"
	if dir, err := ConfigDir(); err == nil {
		logFile = filepath.Join(dir, "taleweaver.log")
	}
	return Config{
		BaseURL:        "http://localhost:8000",
		Theme:          "catppuccin",
		SubmitInterval: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		LogFile:        logFile,
	}
}

// ConfigDir is ~/.config/taleweaver (or the platform equivalent).
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "taleweaver"), nil
}

// Load layers defaults, the TOML file, .env and the environment, in that
// order. An empty path means the default config file; a missing default
// file is not an error, a missing explicit one is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if dir, err := ConfigDir(); err == nil {
			path = filepath.Join(dir, "config.toml")
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "read config %s", path)
			}
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if c.SubmitInterval < 0 {
		return errors.New("config: submit_interval must not be negative")
	}
	if c.RequestTimeout < 0 {
		return errors.New("config: request_timeout must not be negative")
	}
	return nil
}
