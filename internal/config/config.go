// Package config turns viper settings into the single immutable Config value
// that the run command hands to the fetcher, loader and reporter.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	TransportBulk = "bulk"
	TransportAPI  = "api"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultBulkURL = "https://download.open.fda.gov/drug/drugsfda/drug-drugsfda-0001-of-0001.json.zip"
	DefaultAPIURL  = "https://api.fda.gov/drug/drugsfda.json"
)

// ConfigError reports an invalid setting. It is terminal: nothing is fetched
// when configuration does not validate.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// FDA holds the Drugs@FDA source settings.
type FDA struct {
	Transport   string
	BulkURL     string
	ManifestURL string
	APIURL      string
	APIPageSize int
	APIMaxSkip  int
	SourceFile  string
	Country     int
}

// Database selects and addresses the persistence store.
type Database struct {
	Driver string
	Path   string
	DSN    string
	Table  string

	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// Config is built once at startup and passed explicitly; nothing reads viper
// after Load returns.
type Config struct {
	TrialLimit     int
	BatchSize      int
	MaxRetries     int
	RequestTimeout time.Duration
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration

	FDA      FDA
	Database Database

	OutputDir   string
	Artifacts   bool
	LockFile    string
	DryRun      bool
	StopOnError bool
	Modules     map[string]bool
	ScheduleAt  string
	LogLevel    string
	LogFormat   string
	LogFile     string
}

// SetDefaults registers every key with the defaults used by the FDA module.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("trial_limit", 0)
	v.SetDefault("batch_size", 1000)
	v.SetDefault("max_retries", 3)
	v.SetDefault("request_timeout", "300s")
	v.SetDefault("retry_wait_min", "1s")
	v.SetDefault("retry_wait_max", "10s")

	v.SetDefault("fda.transport", TransportBulk)
	v.SetDefault("fda.bulk_url", DefaultBulkURL)
	v.SetDefault("fda.manifest_url", "")
	v.SetDefault("fda.api_url", DefaultAPIURL)
	v.SetDefault("fda.api_page_size", 1000)
	v.SetDefault("fda.api_max_skip", 25000)
	v.SetDefault("fda.source_file", "")
	v.SetDefault("fda.country", 6)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "drugsync.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "quriousri_db")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.artifacts", true)
	v.SetDefault("output.lock_file", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("settings.stop_on_error", false)
	v.SetDefault("schedule.at", "06:00")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// BindLegacyEnv maps the environment names used by the original deployment.
func BindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("postgres.host", "PG_HOST")
	_ = v.BindEnv("postgres.port", "PG_PORT")
	_ = v.BindEnv("postgres.database", "PG_DATABASE")
	_ = v.BindEnv("postgres.user", "PG_USER")
	_ = v.BindEnv("postgres.password", "PG_PASSWORD")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

// Load reads every setting from v and validates the result.
func Load(v *viper.Viper) (Config, error) {
	timeout, err := duration(v, "request_timeout")
	if err != nil {
		return Config{}, err
	}
	waitMin, err := duration(v, "retry_wait_min")
	if err != nil {
		return Config{}, err
	}
	waitMax, err := duration(v, "retry_wait_max")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		TrialLimit:     v.GetInt("trial_limit"),
		BatchSize:      v.GetInt("batch_size"),
		MaxRetries:     v.GetInt("max_retries"),
		RequestTimeout: timeout,
		RetryWaitMin:   waitMin,
		RetryWaitMax:   waitMax,
		FDA: FDA{
			Transport:   strings.ToLower(strings.TrimSpace(v.GetString("fda.transport"))),
			BulkURL:     v.GetString("fda.bulk_url"),
			ManifestURL: v.GetString("fda.manifest_url"),
			APIURL:      v.GetString("fda.api_url"),
			APIPageSize: v.GetInt("fda.api_page_size"),
			APIMaxSkip:  v.GetInt("fda.api_max_skip"),
			SourceFile:  v.GetString("fda.source_file"),
			Country:     v.GetInt("fda.country"),
		},
		Database: Database{
			Driver:   strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
			Path:     v.GetString("database.path"),
			DSN:      v.GetString("database.dsn"),
			Table:    v.GetString("database.table"),
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			Name:     v.GetString("postgres.database"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			SSLMode:  v.GetString("postgres.sslmode"),
		},
		OutputDir:   v.GetString("output.dir"),
		Artifacts:   v.GetBool("output.artifacts"),
		LockFile:    v.GetString("output.lock_file"),
		DryRun:      v.GetBool("dry_run"),
		StopOnError: v.GetBool("settings.stop_on_error"),
		Modules:     modules(v),
		ScheduleAt:  v.GetString("schedule.at"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),
		LogFile:     v.GetString("log.file"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, &ConfigError{Field: key, Reason: "must be set"}
	}
	// Bare numbers are seconds, matching the original REQUEST_TIMEOUT = 300.
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ConfigError{Field: key, Reason: err.Error()}
	}
	return d, nil
}

// modules reads modules.<key>.enabled. Modules missing from the map are enabled.
func modules(v *viper.Viper) map[string]bool {
	out := make(map[string]bool)
	for key := range v.GetStringMap("modules") {
		enabledKey := "modules." + key + ".enabled"
		if v.IsSet(enabledKey) {
			out[key] = v.GetBool(enabledKey)
		} else {
			out[key] = true
		}
	}
	return out
}

// Validate enforces the ranges every component relies on.
func (c Config) Validate() error {
	switch {
	case c.TrialLimit < 0:
		return &ConfigError{Field: "trial_limit", Reason: "must be >= 0"}
	case c.BatchSize <= 0:
		return &ConfigError{Field: "batch_size", Reason: "must be > 0"}
	case c.MaxRetries < 0:
		return &ConfigError{Field: "max_retries", Reason: "must be >= 0"}
	case c.RequestTimeout <= 0:
		return &ConfigError{Field: "request_timeout", Reason: "must be > 0"}
	case c.RetryWaitMin < 0 || c.RetryWaitMax < c.RetryWaitMin:
		return &ConfigError{Field: "retry_wait_max", Reason: "must be >= retry_wait_min >= 0"}
	}

	switch c.FDA.Transport {
	case TransportBulk:
		if c.FDA.BulkURL == "" && c.FDA.ManifestURL == "" && c.FDA.SourceFile == "" {
			return &ConfigError{Field: "fda.bulk_url", Reason: "bulk transport needs a bulk_url, manifest_url or source_file"}
		}
	case TransportAPI:
		if c.FDA.APIURL == "" {
			return &ConfigError{Field: "fda.api_url", Reason: "api transport needs an api_url"}
		}
		if c.FDA.APIPageSize <= 0 || c.FDA.APIPageSize > 1000 {
			return &ConfigError{Field: "fda.api_page_size", Reason: "must be within 1..1000"}
		}
		if c.FDA.APIMaxSkip < 0 {
			return &ConfigError{Field: "fda.api_max_skip", Reason: "must be >= 0"}
		}
	default:
		return &ConfigError{Field: "fda.transport", Reason: fmt.Sprintf("unknown transport %q (want bulk or api)", c.FDA.Transport)}
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" && c.Database.DSN == "" {
			return &ConfigError{Field: "database.path", Reason: "must be set for sqlite"}
		}
	case DriverPostgres:
		if c.Database.DSN == "" && c.Database.Host == "" {
			return &ConfigError{Field: "postgres.host", Reason: "must be set when database.dsn is empty"}
		}
		if c.Database.DSN != "" && !IsPostgresURL(c.Database.DSN) {
			return &ConfigError{Field: "database.dsn", Reason: "postgres driver needs a postgres:// or postgresql:// URL"}
		}
	default:
		return &ConfigError{Field: "database.driver", Reason: fmt.Sprintf("unknown driver %q (want sqlite or postgres)", c.Database.Driver)}
	}

	if _, err := c.ScheduleTimes(); err != nil {
		return err
	}
	return nil
}

// IsPostgresURL reports whether dsn is a URL the postgres driver accepts.
// Anything else is treated as a SQLite path when opening the store.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// TrialMode reports whether only the first TrialLimit applications are processed.
func (c Config) TrialMode() bool { return c.TrialLimit > 0 }

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	d := c.Database
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == DriverSQLite {
		return d.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(d.SSLMode)
	}
	return u.String()
}

// LockPath returns where the run lock lives: next to the SQLite file, or in
// the output directory for server databases.
func (c Config) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	if c.Database.Driver == DriverSQLite && c.Database.DSN == "" {
		return c.Database.Path
	}
	return filepath.Join(c.OutputDir, "drugsync")
}

// ModuleEnabled reports whether module key should run.
func (c Config) ModuleEnabled(key string) bool {
	enabled, ok := c.Modules[key]
	return !ok || enabled
}

// ScheduleTimes splits schedule.at ("06:00;18:00") into sorted HH:MM entries.
func (c Config) ScheduleTimes() ([]string, error) {
	var out []string
	for _, part := range strings.Split(c.ScheduleAt, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := time.Parse("15:04", part); err != nil {
			return nil, &ConfigError{Field: "schedule.at", Reason: fmt.Sprintf("%q is not HH:MM", part)}
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil, &ConfigError{Field: "schedule.at", Reason: "must list at least one HH:MM time"}
	}
	sort.Strings(out)
	return out, nil
}
