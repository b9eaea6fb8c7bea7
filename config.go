package orm

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =====================================
// Configuration
// =====================================

// Config represents database connection configuration
type Config struct {
	// Platform names the dialect, e.g. "Sqlite3" or "pgsql"
	Platform      string `json:"platform" yaml:"platform" validate:"required"`
	ConnectionURL string `json:"connection_url" yaml:"connection_url"`
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	Database      string `json:"database" yaml:"database"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// Blacklist lists tables the schema descriptor ignores
	Blacklist []string `json:"blacklist" yaml:"blacklist"`

	// Verbose logs every statement through the adapter's query hook
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Additional options
	Options map[string]interface{} `json:"options" yaml:"options"`

	SSL SSLConfig `json:"ssl" yaml:"ssl"`
	Log LogConfig `json:"log" yaml:"log"`
}

// SSLConfig represents SSL/TLS configuration
type SSLConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Mode     string `json:"mode" yaml:"mode" validate:"required_if=Enabled true"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level     string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format    string `json:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	AddSource bool   `json:"add_source" yaml:"add_source"`
}

// Validate checks field constraints and that the platform has a dialect
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewErrorWithCause(ErrorTypeValidation, "invalid configuration", err)
	}
	if _, err := NewDialectRegistry().Lookup(c.Platform); err != nil {
		return NewErrorWithCause(ErrorTypeValidation, "invalid configuration", err)
	}
	return nil
}

// LoadConfig reads a YAML configuration file and validates it
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, NewErrorWithCause(ErrorTypeInvalidArgument, fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()
	return ReadConfig(f)
}

// ReadConfig decodes a YAML configuration and validates it
func ReadConfig(r io.Reader) (Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, NewErrorWithCause(ErrorTypeSerialization, "failed to decode configuration", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// PlatformName returns the canonical platform name for the configured
// platform or alias
func (c Config) PlatformName() string {
	if p, ok := dialectAliases[strings.ToLower(c.Platform)]; ok {
		return p
	}
	return c.Platform
}

// DurationOption reads a duration from an adapter's option map. Values set in
// code may be time.Duration; YAML leaves them as strings such as "5s".
func DurationOption(opts map[string]interface{}, key string) (time.Duration, bool, error) {
	switch v := opts[key].(type) {
	case nil:
		return 0, false, nil
	case time.Duration:
		return v, true, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false, NewErrorWithCause(ErrorTypeInvalidArgument, fmt.Sprintf("option %s", key), err)
		}
		return d, true, nil
	default:
		return 0, false, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("option %s: want a duration, got %T", key, v))
	}
}

// =====================================
// DSN Builders
// =====================================

// DSN returns the driver connection string for the configured platform
func (c Config) DSN() string {
	if c.ConnectionURL != "" {
		return c.ConnectionURL
	}
	switch c.PlatformName() {
	case PlatformPostgresql9:
		return c.postgresDSN()
	case PlatformMysql5:
		return c.mysqlDSN()
	case PlatformMssql2008:
		u := c.serverURL("sqlserver")
		u.RawQuery = url.Values{"database": {c.Database}}.Encode()
		return u.String()
	default:
		if c.Database == "" {
			return ":memory:"
		}
		return c.Database
	}
}

// serverURL holds the escaped credentials and address of a URL style DSN
func (c Config) serverURL(scheme string) *url.URL {
	return &url.URL{
		Scheme: scheme,
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
	}
}

func (c Config) postgresDSN() string {
	u := c.serverURL("postgres")
	u.Path = "/" + c.Database

	params := []string{}
	if c.SSL.Enabled {
		params = append(params, "sslmode="+c.SSL.Mode)
		if c.SSL.CertFile != "" {
			params = append(params, "sslcert="+c.SSL.CertFile)
		}
		if c.SSL.KeyFile != "" {
			params = append(params, "sslkey="+c.SSL.KeyFile)
		}
		if c.SSL.CAFile != "" {
			params = append(params, "sslrootcert="+c.SSL.CAFile)
		}
	} else {
		params = append(params, "sslmode=disable")
	}
	u.RawQuery = strings.Join(params, "&")
	return u.String()
}

// mysqlDSN needs no escaping: the driver splits the credentials at the last
// '@' before the database name.
func (c Config) mysqlDSN() string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
	if c.SSL.Enabled {
		dsn += "&tls=" + c.SSL.Mode
	}
	return dsn
}

// =====================================
// Logging
// =====================================

// NewLogger builds a slog logger writing to w. Empty settings mean text
// output at info level.
func NewLogger(w io.Writer, c LogConfig) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: c.AddSource}

	var handler slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("unsupported log format: %s", c.Format))
	}
	return slog.New(handler), nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("unknown log level: %s", level))
}
