package orm

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPlatformName(t *testing.T) {
	tests := []struct {
		platform string
		want     string
	}{
		{"sqlite", PlatformSqlite3},
		{"Sqlite3", PlatformSqlite3},
		{"pgsql", PlatformPostgresql9},
		{"postgres", PlatformPostgresql9},
		{"sqlserver", PlatformMssql2008},
		{"mysql", PlatformMysql5},
		{"Mysql5", PlatformMysql5},
	}
	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			assert.Equal(t, tt.want, Config{Platform: tt.platform}.PlatformName())
		})
	}
}

func TestConfigDSN(t *testing.T) {
	base := Config{Host: "db", Port: 5432, Database: "zoo", Username: "u", Password: "p"}

	pg := base
	pg.Platform = "pgsql"
	assert.Equal(t, "postgres://u:p@db:5432/zoo?sslmode=disable", pg.DSN())

	pg.SSL = SSLConfig{Enabled: true, Mode: "verify-full", CAFile: "/ca.pem"}
	assert.Equal(t, "postgres://u:p@db:5432/zoo?sslmode=verify-full&sslrootcert=/ca.pem", pg.DSN())

	my := base
	my.Platform = "mysql"
	my.Port = 3306
	assert.Equal(t, "u:p@tcp(db:3306)/zoo?charset=utf8mb4&parseTime=True&loc=Local", my.DSN())

	ms := base
	ms.Platform = "mssql"
	ms.Port = 1433
	assert.Equal(t, "sqlserver://u:p@db:1433?database=zoo", ms.DSN())

	assert.Equal(t, ":memory:", Config{Platform: "sqlite"}.DSN())
	assert.Equal(t, "zoo.db", Config{Platform: "sqlite", Database: "zoo.db"}.DSN())
	assert.Equal(t, "postgres://x", Config{Platform: "pgsql", ConnectionURL: "postgres://x"}.DSN())
}

func TestConfigDSNEscapesCredentials(t *testing.T) {
	base := Config{Host: "db", Database: "zoo", Username: "zoo keeper", Password: "p@ss:w/rd?#%"}

	for _, platform := range []string{"pgsql", "mssql"} {
		c := base
		c.Platform = platform
		c.Port = 5432
		u, err := url.Parse(c.DSN())
		require.NoError(t, err, platform)
		assert.Equal(t, "zoo keeper", u.User.Username(), platform)
		password, ok := u.User.Password()
		assert.True(t, ok, platform)
		assert.Equal(t, base.Password, password, platform)
		assert.Equal(t, "db:5432", u.Host, platform)
	}

	my := base
	my.Platform = "mysql"
	my.Port = 3306
	parsed, err := mysql.ParseDSN(my.DSN())
	require.NoError(t, err)
	assert.Equal(t, base.Password, parsed.Passwd)
	assert.Equal(t, "db:3306", parsed.Addr)
	assert.Equal(t, "zoo", parsed.DBName)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Platform: "sqlite"}.Validate())

	err := Config{}.Validate()
	assert.True(t, IsValidation(err))

	err = Config{Platform: "oracle"}.Validate()
	assert.True(t, IsValidation(err))

	err = Config{Platform: "pgsql", Port: 70000}.Validate()
	assert.True(t, IsValidation(err))

	err = Config{Platform: "pgsql", SSL: SSLConfig{Enabled: true}}.Validate()
	assert.True(t, IsValidation(err), "ssl mode is required when ssl is enabled")

	err = Config{Platform: "sqlite", Log: LogConfig{Level: "trace"}}.Validate()
	assert.True(t, IsValidation(err))
}

func TestReadConfig(t *testing.T) {
	doc := `
platform: pgsql
host: localhost
port: 5432
database: zoo
max_open_conns: 4
conn_max_lifetime: 1h
blacklist: [audit, migrations]
options:
  bun:
    driver: pgdriver
log:
  level: debug
  format: json
`
	c, err := ReadConfig(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, PlatformPostgresql9, c.PlatformName())
	assert.Equal(t, 4, c.MaxOpenConns)
	assert.Equal(t, time.Hour, c.ConnMaxLifetime)
	assert.Equal(t, []string{"audit", "migrations"}, c.Blacklist)
	assert.Equal(t, "json", c.Log.Format)

	bun, ok := c.Options["bun"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pgdriver", bun["driver"])
}

func TestDurationOption(t *testing.T) {
	c, err := ReadConfig(strings.NewReader(`
platform: sqlite
options:
  redis:
    dial_timeout: 5s
    read_timeout: soon
    pool: 3
`))
	require.NoError(t, err)
	redis, ok := c.Options["redis"].(map[string]interface{})
	require.True(t, ok)

	d, ok, err := DurationOption(redis, "dial_timeout")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	_, ok, err = DurationOption(redis, "write_timeout")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = DurationOption(redis, "read_timeout")
	assert.True(t, IsErrorType(err, ErrorTypeInvalidArgument))
	_, _, err = DurationOption(redis, "pool")
	assert.True(t, IsErrorType(err, ErrorTypeInvalidArgument))

	d, ok, err = DurationOption(map[string]interface{}{"ttl": time.Minute}, "ttl")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)
}

func TestReadConfigErrors(t *testing.T) {
	_, err := ReadConfig(strings.NewReader("platform: [unterminated"))
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))

	_, err = ReadConfig(strings.NewReader("host: localhost"))
	assert.True(t, IsValidation(err))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("platform: sqlite\ndatabase: zoo.db\n"), 0o644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "zoo.db", c.DSN())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsErrorType(err, ErrorTypeInvalidArgument))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "entity", "Animal")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"entity":"Animal"`)

	buf.Reset()
	logger, err = NewLogger(&buf, LogConfig{})
	require.NoError(t, err)
	logger.Info("text output")
	assert.Contains(t, buf.String(), "msg=\"text output\"")

	_, err = NewLogger(&buf, LogConfig{Format: "xml"})
	assert.True(t, IsErrorType(err, ErrorTypeInvalidArgument))

	_, err = NewLogger(&buf, LogConfig{Level: "loud"})
	assert.True(t, IsErrorType(err, ErrorTypeInvalidArgument))
}
