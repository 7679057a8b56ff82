// Package config loads overlap's YAML configuration, applying .env and
// OVERLAP_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen     = "127.0.0.1:8080"
	defaultDBPath     = "overlap.db"
	defaultTimezone   = "Local"
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
	defaultHintBudget = "30s"
	defaultReminder   = "0 9 * * 1-5"
	defaultMaxRetries = 3
	defaultBackupCron = "30 3 * * *"
	defaultRetention  = 14
	defaultRegion     = "us-east-1"
	defaultPrefix     = "overlap/"
)

type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	// Subscriber is the VAPID contact, a mailto: or https: URL.
	Subscriber   string `yaml:"subscriber"`
	ReminderCron string `yaml:"reminder_cron"`
	MaxRetries   int    `yaml:"max_retries"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// BackupConfig points at S3-compatible storage for encrypted database
// snapshots.
type BackupConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Passphrase encrypts every snapshot. Losing it makes backups unreadable.
	Passphrase string `yaml:"passphrase"`
	// Schedule is a cron spec; empty disables scheduled snapshots.
	Schedule string `yaml:"schedule"`
	// Retention is how many snapshots to keep.
	Retention int `yaml:"retention"`
}

// Enabled reports whether storage credentials and a passphrase are set.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != "" && b.Passphrase != ""
}

type Config struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`

	// Timezone is an IANA name used for day boundaries when matching hints.
	Timezone string `yaml:"timezone"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// HintBudget bounds one hint's match, detect and record, e.g. "30s".
	HintBudget string `yaml:"hint_budget"`

	// APITokenHash is a bcrypt hash of the token every /api and /ws caller
	// presents. Empty leaves the API open.
	APITokenHash string `yaml:"api_token_hash"`

	// AllowedOrigins restricts websocket origins. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Push   PushConfig   `yaml:"push"`
	Backup BackupConfig `yaml:"backup"`
}

func Default() *Config {
	return &Config{
		Listen:     defaultListen,
		DBPath:     defaultDBPath,
		Timezone:   defaultTimezone,
		LogLevel:   defaultLogLevel,
		LogFormat:  defaultLogFormat,
		HintBudget: defaultHintBudget,
		Push: PushConfig{
			ReminderCron: defaultReminder,
			MaxRetries:   defaultMaxRetries,
		},
		Backup: BackupConfig{
			Region:    defaultRegion,
			Prefix:    defaultPrefix,
			Schedule:  defaultBackupCron,
			Retention: defaultRetention,
		},
	}
}

// Normalize fills empty fields with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.HintBudget == "" {
		c.HintBudget = defaultHintBudget
	}
	if c.Push.ReminderCron == "" {
		c.Push.ReminderCron = defaultReminder
	}
	if c.Push.MaxRetries < 0 {
		c.Push.MaxRetries = defaultMaxRetries
	}
	if c.Backup.Region == "" {
		c.Backup.Region = defaultRegion
	}
	if c.Backup.Prefix == "" {
		c.Backup.Prefix = defaultPrefix
	}
	if c.Backup.Retention <= 0 {
		c.Backup.Retention = defaultRetention
	}
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if d, err := time.ParseDuration(c.HintBudget); err != nil {
		errs = append(errs, fmt.Errorf("hint_budget %q: %w", c.HintBudget, err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("hint_budget %q must be positive", c.HintBudget))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push: set both vapid_public_key and vapid_private_key, or neither"))
	}
	if c.Backup.Bucket != "" && !c.Backup.Enabled() {
		errs = append(errs, errors.New("backup: bucket needs access_key, secret_key and passphrase"))
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Budget returns HintBudget as a duration. Call after Validate.
func (c *Config) Budget() time.Duration {
	d, _ := time.ParseDuration(c.HintBudget)
	return d
}

// Load reads path, then .env, then the environment. A missing file yields
// the defaults; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"OVERLAP_LISTEN":            &c.Listen,
		"OVERLAP_DB_PATH":           &c.DBPath,
		"OVERLAP_TIMEZONE":          &c.Timezone,
		"OVERLAP_LOG_LEVEL":         &c.LogLevel,
		"OVERLAP_LOG_FORMAT":        &c.LogFormat,
		"OVERLAP_HINT_BUDGET":       &c.HintBudget,
		"OVERLAP_API_TOKEN_HASH":    &c.APITokenHash,
		"OVERLAP_VAPID_PUBLIC_KEY":  &c.Push.VAPIDPublicKey,
		"OVERLAP_VAPID_PRIVATE_KEY": &c.Push.VAPIDPrivateKey,
		"OVERLAP_PUSH_SUBSCRIBER":   &c.Push.Subscriber,
		"OVERLAP_REMINDER_CRON":     &c.Push.ReminderCron,
		"OVERLAP_BACKUP_ENDPOINT":   &c.Backup.Endpoint,
		"OVERLAP_BACKUP_BUCKET":     &c.Backup.Bucket,
		"OVERLAP_BACKUP_REGION":     &c.Backup.Region,
		"OVERLAP_BACKUP_ACCESS_KEY": &c.Backup.AccessKey,
		"OVERLAP_BACKUP_SECRET_KEY": &c.Backup.SecretKey,
		"OVERLAP_BACKUP_PASSPHRASE": &c.Backup.Passphrase,
		"OVERLAP_BACKUP_SCHEDULE":   &c.Backup.Schedule,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("OVERLAP_ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}
	if v, ok := lookup("OVERLAP_PUSH_MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OVERLAP_PUSH_MAX_RETRIES: %w", err)
		}
		c.Push.MaxRetries = n
	}
	return nil
}

// Save writes cfg to path atomically with owner-only permissions; the file
// holds secrets.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".overlap-config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}
	return os.Rename(tmpName, path)
}
