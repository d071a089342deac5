// Package config resolves server settings from defaults, an optional YAML
// file and SOCIAL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Media   MediaConfig   `yaml:"media"`
	Limits  LimitsConfig  `yaml:"limits"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	DBPath  string `yaml:"db_path"`
	// DevUser authenticates every request as this user id. Local use only.
	DevUser string `yaml:"dev_user"`
}

type AuthConfig struct {
	SessionKey   string   `yaml:"session_key"`
	SessionTTL   Duration `yaml:"session_ttl"`
	CookieSecure bool     `yaml:"cookie_secure"`
	CronSecret   string   `yaml:"cron_secret"`
	OIDC         struct {
		IssuerURL    string `yaml:"issuer_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RedirectURL  string `yaml:"redirect_url"`
	} `yaml:"oidc"`
}

type MediaConfig struct {
	Dir            string    `yaml:"dir"`
	URLPrefix      string    `yaml:"url_prefix"`
	MaxImage       SizeBytes `yaml:"max_image"`
	MaxVideo       SizeBytes `yaml:"max_video"`
	MaxAvatar      SizeBytes `yaml:"max_avatar"`
	CleanupCron    string    `yaml:"cleanup_cron"`
	OrphanMaxAge   Duration  `yaml:"orphan_max_age"`
	CleanupTimeout Duration  `yaml:"cleanup_timeout"`
}

// LimitsConfig throttles mutating requests per user.
type LimitsConfig struct {
	MutationRPS   float64 `yaml:"mutation_rps"`
	MutationBurst int     `yaml:"mutation_burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SizeBytes is a byte count written as "4MiB" or a plain integer.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration parses "24h" style strings or plain numbers of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	var cfg Config
	cfg.Server.Address = ":8080"
	cfg.Server.DBPath = "./social.db"
	cfg.Auth.SessionTTL = Duration(30 * 24 * time.Hour)
	cfg.Media.Dir = "./media"
	cfg.Media.URLPrefix = "/media/"
	cfg.Media.MaxImage = 4 << 20
	cfg.Media.MaxVideo = 16 << 20
	cfg.Media.MaxAvatar = 512 << 10
	cfg.Media.CleanupCron = "0 * * * *"
	cfg.Media.OrphanMaxAge = Duration(24 * time.Hour)
	cfg.Media.CleanupTimeout = Duration(5 * time.Minute)
	cfg.Limits.MutationRPS = 5
	cfg.Limits.MutationBurst = 20
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}

// Load applies the YAML file at path (skipped when empty or missing) and
// then the environment on top of the defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if port := getenv("PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}
	text := map[string]*string{
		"SOCIAL_ADDR":               &cfg.Server.Address,
		"SOCIAL_DB_PATH":            &cfg.Server.DBPath,
		"SOCIAL_DEV_USER":           &cfg.Server.DevUser,
		"SOCIAL_SESSION_KEY":        &cfg.Auth.SessionKey,
		"SOCIAL_CRON_SECRET":        &cfg.Auth.CronSecret,
		"SOCIAL_OIDC_ISSUER_URL":    &cfg.Auth.OIDC.IssuerURL,
		"SOCIAL_OIDC_CLIENT_ID":     &cfg.Auth.OIDC.ClientID,
		"SOCIAL_OIDC_CLIENT_SECRET": &cfg.Auth.OIDC.ClientSecret,
		"SOCIAL_OIDC_REDIRECT_URL":  &cfg.Auth.OIDC.RedirectURL,
		"SOCIAL_MEDIA_DIR":          &cfg.Media.Dir,
		"SOCIAL_MEDIA_URL_PREFIX":   &cfg.Media.URLPrefix,
		"SOCIAL_CLEANUP_CRON":       &cfg.Media.CleanupCron,
		"SOCIAL_LOG_LEVEL":          &cfg.Logging.Level,
		"SOCIAL_LOG_FORMAT":         &cfg.Logging.Format,
	}
	for name, target := range text {
		if v := getenv(name); v != "" {
			*target = v
		}
	}
	if v := getenv("SOCIAL_COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SOCIAL_COOKIE_SECURE: %w", err)
		}
		cfg.Auth.CookieSecure = b
	}
	durations := map[string]*Duration{
		"SOCIAL_SESSION_TTL":     &cfg.Auth.SessionTTL,
		"SOCIAL_ORPHAN_MAX_AGE":  &cfg.Media.OrphanMaxAge,
		"SOCIAL_CLEANUP_TIMEOUT": &cfg.Media.CleanupTimeout,
	}
	for name, target := range durations {
		if v := getenv(name); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*target = d
		}
	}
	sizes := map[string]*SizeBytes{
		"SOCIAL_MAX_IMAGE":  &cfg.Media.MaxImage,
		"SOCIAL_MAX_VIDEO":  &cfg.Media.MaxVideo,
		"SOCIAL_MAX_AVATAR": &cfg.Media.MaxAvatar,
	}
	for name, target := range sizes {
		if v := getenv(name); v != "" {
			s, err := parseSize(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*target = s
		}
	}
	if v := getenv("SOCIAL_MUTATION_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SOCIAL_MUTATION_RPS: %w", err)
		}
		cfg.Limits.MutationRPS = f
	}
	if v := getenv("SOCIAL_MUTATION_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SOCIAL_MUTATION_BURST: %w", err)
		}
		cfg.Limits.MutationBurst = n
	}
	return nil
}

// Validate fills zero values with defaults and rejects unusable settings.
func (c *Config) Validate() error {
	defaults := Defaults()
	if c.Server.Address == "" {
		c.Server.Address = defaults.Server.Address
	}
	if c.Server.DBPath == "" {
		return errors.New("server.db_path is required")
	}
	if c.Media.Dir == "" {
		return errors.New("media.dir is required")
	}
	if !strings.HasPrefix(c.Media.URLPrefix, "/") {
		return fmt.Errorf("media.url_prefix must start with /: %q", c.Media.URLPrefix)
	}
	if !strings.HasSuffix(c.Media.URLPrefix, "/") {
		c.Media.URLPrefix += "/"
	}
	if c.Media.MaxImage <= 0 || c.Media.MaxVideo <= 0 || c.Media.MaxAvatar <= 0 {
		return errors.New("media size limits must be positive")
	}
	if c.Media.OrphanMaxAge <= 0 {
		c.Media.OrphanMaxAge = defaults.Media.OrphanMaxAge
	}
	if c.Media.CleanupTimeout <= 0 {
		c.Media.CleanupTimeout = defaults.Media.CleanupTimeout
	}
	if c.Media.CleanupCron != "" && !gronx.IsValid(c.Media.CleanupCron) {
		return fmt.Errorf("media.cleanup_cron is not a valid cron expression: %q", c.Media.CleanupCron)
	}
	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = defaults.Auth.SessionTTL
	}
	oidc := c.Auth.OIDC
	if oidc.IssuerURL != "" && (oidc.ClientID == "" || oidc.RedirectURL == "") {
		return errors.New("auth.oidc requires client_id and redirect_url when issuer_url is set")
	}
	if c.Limits.MutationRPS < 0 || c.Limits.MutationBurst < 0 {
		return errors.New("limits must not be negative")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console: %q", c.Logging.Format)
	}
	return nil
}
