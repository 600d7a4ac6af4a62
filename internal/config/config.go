package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "LIBRARYDESK_CONFIG"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	APIBaseURL             string `yaml:"apiBaseURL"`
	LogLevel               string `yaml:"logLevel"`
	RequestTimeout         string `yaml:"requestTimeout"`
	CredentialStore        string `yaml:"credentialStore"`
	CredentialFile         string `yaml:"credentialFile"`
	Profile                string `yaml:"profile"`
	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	DatabaseURL            string `yaml:"databaseURL"`
	AccessTokenTTL         string `yaml:"accessTokenTTL"`
	RefreshTokenTTL        string `yaml:"refreshTokenTTL"`
	RefreshAttempts        int    `yaml:"refreshAttempts"`
	RefreshBackoff         string `yaml:"refreshBackoff"`
	MaxLoansPerUser        int    `yaml:"maxLoansPerUser"`
	FinePerDay             int64  `yaml:"finePerDay"`
	FineGraceDays          int    `yaml:"fineGraceDays"`
	LoginAttemptsPerMinute int    `yaml:"loginAttemptsPerMinute"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() FileConfig {
	return FileConfig{
		APIBaseURL:      "http://localhost:8000/api",
		LogLevel:        "warn",
		RequestTimeout:  "10s",
		CredentialStore: "file",
		Profile:         "default",
		AccessTokenTTL:  "168h",
		RefreshTokenTTL: "720h",
		RefreshAttempts: 3,
		RefreshBackoff:  "200ms",
		MaxLoansPerUser: 5,
		FinePerDay:      10,
		FineGraceDays:   2,
	}
}

// DefaultPath is the per-user config location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "librarydesk", "config.yaml")
}

// Load reads config from path. An empty path resolves to LIBRARYDESK_CONFIG
// or DefaultPath, and a missing file at that implicit location yields the
// defaults. Environment variables override file values.
func Load(path string) (FileConfig, error) {
	cfg := Defaults()
	explicit := path != ""
	if !explicit {
		if v := os.Getenv(EnvConfigPath); v != "" {
			path, explicit = v, true
		} else {
			path = DefaultPath()
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// Override with environment variables
	if v := os.Getenv("LIBRARYDESK_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("LIBRARYDESK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LIBRARYDESK_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = v
	}
	if v := os.Getenv("LIBRARYDESK_CREDENTIAL_STORE"); v != "" {
		cfg.CredentialStore = v
	}
	if v := os.Getenv("LIBRARYDESK_CREDENTIAL_FILE"); v != "" {
		cfg.CredentialFile = v
	}
	if v := os.Getenv("LIBRARYDESK_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LIBRARYDESK_ACCESS_TOKEN_TTL"); v != "" {
		cfg.AccessTokenTTL = v
	}
	if v := os.Getenv("LIBRARYDESK_REFRESH_TOKEN_TTL"); v != "" {
		cfg.RefreshTokenTTL = v
	}
	if v := os.Getenv("LIBRARYDESK_REFRESH_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshAttempts = n
		}
	}
	if v := os.Getenv("LIBRARYDESK_REFRESH_BACKOFF"); v != "" {
		cfg.RefreshBackoff = v
	}
	if v := os.Getenv("LIBRARYDESK_MAX_LOANS_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxLoansPerUser = n
		}
	}
	if v := os.Getenv("LIBRARYDESK_FINE_PER_DAY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.FinePerDay = n
		}
	}
	if v := os.Getenv("LIBRARYDESK_FINE_GRACE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FineGraceDays = n
		}
	}
	if v := os.Getenv("LIBRARYDESK_LOGIN_ATTEMPTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginAttemptsPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return errors.New("config: apiBaseURL is required (set in config.yaml or LIBRARYDESK_API_BASE_URL)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.CredentialStore)) {
	case "", "memory", "file", "sqlite":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required when credentialStore=redis")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required when credentialStore=postgres")
		}
	default:
		return fmt.Errorf("config: unknown credentialStore %q (memory|file|sqlite|redis|postgres)", cfg.CredentialStore)
	}
	for name, value := range map[string]string{
		"requestTimeout":  cfg.RequestTimeout,
		"accessTokenTTL":  cfg.AccessTokenTTL,
		"refreshTokenTTL": cfg.RefreshTokenTTL,
		"refreshBackoff":  cfg.RefreshBackoff,
	} {
		if _, err := ParseDuration(name, value); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if cfg.RefreshAttempts < 0 {
		return errors.New("config: refreshAttempts must be >= 0")
	}
	if cfg.MaxLoansPerUser < 0 {
		return errors.New("config: maxLoansPerUser must be >= 0")
	}
	if cfg.FinePerDay < 0 || cfg.FineGraceDays < 0 {
		return errors.New("config: finePerDay and fineGraceDays must be >= 0")
	}
	if cfg.LoginAttemptsPerMinute < 0 {
		return errors.New("config: loginAttemptsPerMinute must be >= 0")
	}
	if cfg.LoginAttemptsPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when loginAttemptsPerMinute > 0")
	}
	return nil
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

// Durations is the parsed form of the duration-valued settings.
type Durations struct {
	RequestTimeout  time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	RefreshBackoff  time.Duration
}

// Durations parses the duration settings of a validated config.
func (c FileConfig) Durations() (Durations, error) {
	var d Durations
	var err error
	if d.RequestTimeout, err = ParseDuration("requestTimeout", c.RequestTimeout); err != nil {
		return d, err
	}
	if d.AccessTokenTTL, err = ParseDuration("accessTokenTTL", c.AccessTokenTTL); err != nil {
		return d, err
	}
	if d.RefreshTokenTTL, err = ParseDuration("refreshTokenTTL", c.RefreshTokenTTL); err != nil {
		return d, err
	}
	if d.RefreshBackoff, err = ParseDuration("refreshBackoff", c.RefreshBackoff); err != nil {
		return d, err
	}
	return d, nil
}
