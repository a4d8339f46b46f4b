package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key: server.addr is read
// from SITEWATCH_SERVER_ADDR.
const EnvPrefix = "SITEWATCH"

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Addr           string   // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	AllowedOrigins []string // CORS origins; empty allows all
	LogDir         string   // logs directory, "-" for stderr
	LogLevel       string

	DBDriver string
	DBDSN    string

	MonitorFile  string // YAML targets/subscriptions/settings, optional
	Autostart    bool
	Concurrency  int
	MonitorID    string
	SlackWebhook string

	RetryAttempts int           // how many times to retry HTTP check
	RetryBackoff  time.Duration // backoff between retries

	PublicAPIKeys []string
	AdminAPIKeys  []string
	PublicRPM     int
	PublicBurst   int
	AdminRPM      int
	AdminBurst    int
}

func setDefaults(v *viper.Viper) {
	// Bind address (Windows-friendly default)
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.allowed_origins", "")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "sitewatch.db")
	v.SetDefault("monitor.file", "")
	v.SetDefault("monitor.autostart", true)
	v.SetDefault("monitor.concurrency", 8)
	v.SetDefault("monitor.id", "website_monitor")
	v.SetDefault("notify.slack_webhook", "")
	v.SetDefault("probe.retry_attempts", 1)
	v.SetDefault("probe.retry_backoff", "300ms")
	v.SetDefault("auth.public_keys", "")
	v.SetDefault("auth.admin_keys", "")
	v.SetDefault("ratelimit.public_rpm", 60)
	v.SetDefault("ratelimit.public_burst", 20)
	v.SetDefault("ratelimit.admin_rpm", 30)
	v.SetDefault("ratelimit.admin_burst", 10)
}

// Load reads defaults, the optional YAML file at path (or sitewatch.yaml in
// the working directory) and SITEWATCH_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sitewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// no file is fine; defaults and env apply
	}

	cfg := &Config{
		Addr:           v.GetString("server.addr"),
		AllowedOrigins: list(v, "server.allowed_origins"),
		LogDir:         v.GetString("log.dir"),
		LogLevel:       v.GetString("log.level"),
		DBDriver:       strings.ToLower(v.GetString("database.driver")),
		DBDSN:          v.GetString("database.dsn"),
		MonitorFile:    v.GetString("monitor.file"),
		Autostart:      v.GetBool("monitor.autostart"),
		Concurrency:    v.GetInt("monitor.concurrency"),
		MonitorID:      v.GetString("monitor.id"),
		SlackWebhook:   v.GetString("notify.slack_webhook"),
		RetryAttempts:  v.GetInt("probe.retry_attempts"),
		RetryBackoff:   v.GetDuration("probe.retry_backoff"),
		PublicAPIKeys:  list(v, "auth.public_keys"),
		AdminAPIKeys:   list(v, "auth.admin_keys"),
		PublicRPM:      v.GetInt("ratelimit.public_rpm"),
		PublicBurst:    v.GetInt("ratelimit.public_burst"),
		AdminRPM:       v.GetInt("ratelimit.admin_rpm"),
		AdminBurst:     v.GetInt("ratelimit.admin_burst"),
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values Load cannot default.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.DBDriver)
		}
	default:
		return fmt.Errorf("database.driver %q: want memory, sqlite or postgres", c.DBDriver)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", c.LogLevel)
	}
	return nil
}

// list accepts a YAML sequence or a comma separated string (env vars).
func list(v *viper.Viper, key string) []string {
	var raw []string
	switch x := v.Get(key).(type) {
	case string:
		raw = strings.Split(x, ",")
	case []string:
		raw = x
	case []any:
		for _, item := range x {
			raw = append(raw, fmt.Sprint(item))
		}
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
