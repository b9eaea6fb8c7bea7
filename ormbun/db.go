// Package ormbun connects the mapper to a database through a Bun handle
package ormbun

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lemmego/orm"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// =====================================
// DB Implementation
// =====================================

// DB implements orm.DB over a *bun.DB. Statements go through Bun so its
// query hooks see them.
type DB struct {
	db     *bun.DB
	prefix string
}

var _ orm.DB = (*DB)(nil)

// NewDB wraps an existing Bun handle
func NewDB(db *bun.DB) *DB {
	d := &DB{db: db}
	if p, err := platformOf(db.Dialect().Name()); err == nil {
		d.prefix = paramPrefix(p)
	}
	return d
}

// Open connects with the configured platform's driver and Bun dialect.
// Postgres uses lib/pq unless the "bun.driver" option is "pgdriver".
func Open(config orm.Config) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
		bunDB *bun.DB
	)

	switch config.PlatformName() {
	case orm.PlatformPostgresql9:
		sqlDB, err = createPostgresConnection(config)
		if err == nil {
			bunDB = bun.NewDB(sqlDB, pgdialect.New())
		}
	case orm.PlatformMysql5:
		sqlDB, err = createMySQLConnection(config)
		if err == nil {
			bunDB = bun.NewDB(sqlDB, mysqldialect.New())
		}
	case orm.PlatformSqlite3:
		sqlDB, err = sql.Open("sqlite3", config.DSN())
		if err == nil {
			bunDB = bun.NewDB(sqlDB, sqlitedialect.New())
		}
	default:
		return nil, orm.ErrUnsupported(fmt.Sprintf("bun connection for platform %s", config.Platform))
	}
	if err != nil {
		return nil, orm.NewErrorWithCause(orm.ErrorTypeConnection, "failed to connect to database", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if config.Verbose {
		bunDB.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	} else if logLevel := bunOption(config, "log_level"); logLevel != "" && logLevel != "silent" {
		bunDB.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(logLevel == "debug")))
	}
	return NewDB(bunDB), nil
}

func bunOption(config orm.Config, key string) string {
	if options, ok := config.Options["bun"]; ok {
		if bunOpts, ok := options.(map[string]interface{}); ok {
			if v, ok := bunOpts[key].(string); ok {
				return v
			}
		}
	}
	return ""
}

// createPostgresConnection creates a PostgreSQL connection
func createPostgresConnection(config orm.Config) (*sql.DB, error) {
	if bunOption(config, "driver") == "pgdriver" {
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(config.DSN()))), nil
	}
	return sql.Open("postgres", config.DSN())
}

// createMySQLConnection creates a MySQL connection
func createMySQLConnection(config orm.Config) (*sql.DB, error) {
	if config.ConnectionURL != "" {
		return sql.Open("mysql", config.ConnectionURL)
	}

	mysqlConfig := mysql.NewConfig()
	mysqlConfig.User = config.Username
	mysqlConfig.Passwd = config.Password
	mysqlConfig.Net = "tcp"
	mysqlConfig.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	mysqlConfig.DBName = config.Database
	mysqlConfig.ParseTime = true
	if config.SSL.Enabled {
		mysqlConfig.TLSConfig = config.SSL.Mode
	}
	return sql.Open("mysql", mysqlConfig.FormatDSN())
}

func platformOf(name dialect.Name) (string, error) {
	switch name {
	case dialect.PG:
		return orm.PlatformPostgresql9, nil
	case dialect.MySQL:
		return orm.PlatformMysql5, nil
	case dialect.SQLite:
		return orm.PlatformSqlite3, nil
	case dialect.MSSQL:
		return orm.PlatformMssql2008, nil
	}
	return "", orm.ErrUnsupported(fmt.Sprintf("bun dialect %s", name))
}

// paramPrefix returns the named placeholder prefix of the platform's
// dialect, or "" for positional dialects
func paramPrefix(platform string) string {
	d, err := orm.NewDialectRegistry().Lookup(platform)
	if err != nil || !d.NamedParameters() {
		return ""
	}
	return d.ParameterName("")
}

// Bun returns the underlying handle
func (d *DB) Bun() *bun.DB { return d.db }

// Platform returns the mapper platform matching the Bun dialect
func (d *DB) Platform() (string, error) {
	return platformOf(d.db.Dialect().Name())
}

// Open acquires a dedicated connection
func (d *DB) Open(ctx context.Context) (orm.Conn, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, orm.NewErrorWithCause(orm.ErrorTypeConnection, "failed to open connection", err)
	}
	return &connection{conn: c, prefix: d.prefix}, nil
}

// Close closes the database handle
func (d *DB) Close() error {
	return d.db.Close()
}

// =====================================
// Connection and Transaction
// =====================================

// Bun formats arguments into the query text itself and only understands
// "?" placeholders, so named placeholders are rewritten first.

type connection struct {
	conn   bun.Conn
	prefix string
}

func (c *connection) Query(ctx context.Context, query string, args ...interface{}) (orm.Rows, error) {
	query, args = orm.BindPositional(query, c.prefix, args)
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, convertBunError("query failed", err)
	}
	return rows, nil
}

func (c *connection) Exec(ctx context.Context, query string, args ...interface{}) (orm.Result, error) {
	query, args = orm.BindPositional(query, c.prefix, args)
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, convertBunError("command failed", err)
	}
	return res, nil
}

func (c *connection) Begin(ctx context.Context) (orm.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, convertBunError("failed to begin transaction", err)
	}
	return &transaction{tx: tx, prefix: c.prefix}, nil
}

func (c *connection) Close() error {
	return c.conn.Close()
}

type transaction struct {
	tx     bun.Tx
	prefix string
}

func (t *transaction) Query(ctx context.Context, query string, args ...interface{}) (orm.Rows, error) {
	query, args = orm.BindPositional(query, t.prefix, args)
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, convertBunError("query failed", err)
	}
	return rows, nil
}

func (t *transaction) Exec(ctx context.Context, query string, args ...interface{}) (orm.Result, error) {
	query, args = orm.BindPositional(query, t.prefix, args)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, convertBunError("command failed", err)
	}
	return res, nil
}

func (t *transaction) Commit() error {
	return convertBunError("failed to commit transaction", t.tx.Commit())
}

func (t *transaction) Rollback() error {
	return convertBunError("failed to rollback transaction", t.tx.Rollback())
}

// =====================================
// Error Conversion
// =====================================

// convertBunError converts Bun and driver errors to mapper errors
func convertBunError(message string, err error) error {
	if err == nil {
		return nil
	}
	switch err {
	case sql.ErrNoRows:
		return orm.NewErrorWithCause(orm.ErrorTypeNotFound, "record not found", err)
	case sql.ErrConnDone, sql.ErrTxDone:
		return orm.NewErrorWithCause(orm.ErrorTypeConnection, message, err)
	}
	if pgErr, ok := err.(pgdriver.Error); ok {
		return orm.NewErrorWithCode(orm.ErrorTypeDataAccess, message+": "+pgErr.Error(), pgErr.Field('C'))
	}
	return orm.NewErrorWithCause(orm.ErrorTypeDataAccess, message, err)
}
