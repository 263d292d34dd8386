package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// SMTP is one tenant's mail-submission profile.
type SMTP struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	From           string `mapstructure:"from"`
	StartTLS       bool   `mapstructure:"starttls"`
	SSL            bool   `mapstructure:"ssl"`
	AllowPlaintext bool   `mapstructure:"allow_plaintext"`
}

// Tenant is one configured operational scope. The tenant set is fixed for
// the process lifetime; changing it requires a restart.
type Tenant struct {
	DisplayName string `mapstructure:"display_name"`
	SMTP        SMTP   `mapstructure:"smtp"`
	// Signature is a template appended to every rendered body. It may
	// reference sender fields like {name}, {role}, {department}, {phone}.
	Signature string `mapstructure:"signature"`
}

// Backup controls periodic database file backups.
type Backup struct {
	Automatic bool   `mapstructure:"automatic"`
	Interval  string `mapstructure:"interval"` // none | daily | weekly
	Hour      int    `mapstructure:"hour"`     // 0..23, local to Timezone
}

type Config struct {
	AppEnv  string `mapstructure:"app_env"`
	AppAddr string `mapstructure:"app_addr"`

	DatabasePath   string `mapstructure:"database_path"`
	AttachmentsDir string `mapstructure:"attachments_dir"`
	BackupDir      string `mapstructure:"backup_dir"`

	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`

	// Timezone is the single fixed zone all scheduling times are stored
	// and computed in.
	Timezone      string `mapstructure:"timezone"`
	DefaultTenant string `mapstructure:"default_tenant"`

	// SMTPCheck controls the startup reachability probe:
	// off | best_effort | strict.
	SMTPCheck string `mapstructure:"smtp_check"`

	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`

	Tenants map[string]Tenant `mapstructure:"tenants"`
	Backup  Backup            `mapstructure:"backup"`
}

// Load reads the configuration file (path, or ./civimail.yaml when empty)
// and applies environment overrides for the server basics. Unknown keys in
// the file are rejected.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("civimail")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("app_env", "development")
	v.SetDefault("app_addr", ":8080")
	v.SetDefault("database_path", "civimail.db")
	v.SetDefault("attachments_dir", "attachments")
	v.SetDefault("backup_dir", "backups")
	v.SetDefault("session_ttl", "12h")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("smtp_check", "best_effort")
	v.SetDefault("scheduler_interval", "30s")
	v.SetDefault("backup.interval", "none")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var c Config
	// UnmarshalExact fails on keys the struct does not know about.
	if err := v.UnmarshalExact(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	c.AppEnv = getEnv("CIVIMAIL_ENV", c.AppEnv)
	c.AppAddr = getEnv("CIVIMAIL_ADDR", c.AppAddr)
	c.DatabasePath = getEnv("CIVIMAIL_DB", c.DatabasePath)
	c.JWTSigningKey = getEnv("CIVIMAIL_JWT_SIGNING_KEY", c.JWTSigningKey)

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if len(c.Tenants) == 0 {
		return fmt.Errorf("config: no tenants configured")
	}
	if c.DefaultTenant != "" {
		if _, ok := c.Tenants[c.DefaultTenant]; !ok {
			return fmt.Errorf("config: default_tenant %q is not a configured tenant", c.DefaultTenant)
		}
	}
	for key, t := range c.Tenants {
		if t.SMTP.Host == "" || t.SMTP.Port == 0 {
			return fmt.Errorf("config: tenant %q: smtp host and port are required", key)
		}
		if t.SMTP.StartTLS && t.SMTP.SSL {
			return fmt.Errorf("config: tenant %q: starttls and ssl are mutually exclusive", key)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	switch c.SMTPCheck {
	case "off", "best_effort", "strict":
	default:
		return fmt.Errorf("config: invalid smtp_check %q (off|best_effort|strict)", c.SMTPCheck)
	}
	switch c.Backup.Interval {
	case "none", "daily", "weekly":
	default:
		return fmt.Errorf("config: invalid backup.interval %q (none|daily|weekly)", c.Backup.Interval)
	}
	if c.Backup.Hour < 0 || c.Backup.Hour > 23 {
		return fmt.Errorf("config: backup.hour %d out of range 0..23", c.Backup.Hour)
	}
	if c.JWTSigningKey == "" {
		return fmt.Errorf("config: jwt_signing_key is required")
	}
	if c.SchedulerInterval < time.Second {
		return fmt.Errorf("config: scheduler_interval must be at least 1s")
	}
	return nil
}

// Location resolves the configured timezone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (c Config) String() string {
	return fmt.Sprintf("env=%s addr=%s db=%s tenants=%s tz=%s",
		c.AppEnv, c.AppAddr, c.DatabasePath, strconv.Itoa(len(c.Tenants)), c.Timezone)
}
