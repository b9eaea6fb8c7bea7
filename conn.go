package orm

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// =====================================
// Connection Boundary
// =====================================

// Rows is a forward-only result set. *sql.Rows satisfies it.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// Result reports the outcome of a non-query command
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Querier executes parameterized statements
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Conn is one open connection
type Conn interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a transaction on a connection
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// DB hands out connections. Pooling and socket lifetime belong to the
// implementation.
type DB interface {
	Open(ctx context.Context) (Conn, error)
}

// =====================================
// database/sql Adapter
// =====================================

// SQLDB adapts a *sql.DB to the connection boundary
type SQLDB struct {
	db      *sql.DB
	ordinal string
}

// SQLDBOption configures an SQLDB
type SQLDBOption func(*SQLDB)

// WithOrdinalParams rewrites named placeholders with the given prefix to
// "$1", "$2", ... before execution, for drivers such as lib/pq that only
// bind by position
func WithOrdinalParams(prefix string) SQLDBOption {
	return func(s *SQLDB) {
		s.ordinal = prefix
	}
}

// NewSQLDB wraps a database handle
func NewSQLDB(db *sql.DB, opts ...SQLDBOption) *SQLDB {
	s := &SQLDB{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying handle
func (s *SQLDB) DB() *sql.DB { return s.db }

// Open acquires a dedicated connection from the pool
func (s *SQLDB) Open(ctx context.Context) (Conn, error) {
	c, err := s.db.Conn(ctx)
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeConnection, "failed to open connection", err)
	}
	return &sqlConn{conn: c, ordinal: s.ordinal}, nil
}

type sqlConn struct {
	conn    *sql.Conn
	ordinal string
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	query, args = BindOrdinal(query, c.ordinal, args)
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dataAccessError("query failed", err)
	}
	return rows, nil
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	query, args = BindOrdinal(query, c.ordinal, args)
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, dataAccessError("command failed", err)
	}
	return res, nil
}

func (c *sqlConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, dataAccessError("failed to begin transaction", err)
	}
	return &sqlTx{tx: tx, ordinal: c.ordinal}, nil
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}

type sqlTx struct {
	tx      *sql.Tx
	ordinal string
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	query, args = BindOrdinal(query, t.ordinal, args)
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dataAccessError("query failed", err)
	}
	return rows, nil
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	query, args = BindOrdinal(query, t.ordinal, args)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, dataAccessError("command failed", err)
	}
	return res, nil
}

func (t *sqlTx) Commit() error {
	return dataAccessError("failed to commit transaction", t.tx.Commit())
}

func (t *sqlTx) Rollback() error {
	return dataAccessError("failed to rollback transaction", t.tx.Rollback())
}

// BindOrdinal replaces named placeholders such as "@key" with "$1", "$2", ...
// and returns the matching positional values. A name used twice keeps one
// ordinal. Queries with no sql.NamedArg arguments or an empty prefix are
// returned unchanged.
func BindOrdinal(query, prefix string, args []interface{}) (string, []interface{}) {
	return bindNamed(query, prefix, args, true)
}

// BindPositional replaces named placeholders with "?", repeating the value
// for every occurrence
func BindPositional(query, prefix string, args []interface{}) (string, []interface{}) {
	return bindNamed(query, prefix, args, false)
}

func bindNamed(query, prefix string, args []interface{}, ordinal bool) (string, []interface{}) {
	if prefix == "" {
		return query, args
	}
	named := make(map[string]interface{}, len(args))
	for _, a := range args {
		if n, ok := a.(sql.NamedArg); ok {
			named[n.Name] = n.Value
		}
	}
	if len(named) == 0 {
		return query, args
	}

	var sb strings.Builder
	ordinals := make(map[string]int, len(named))
	out := make([]interface{}, 0, len(named))
	var quote byte
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if quote != 0 {
			sb.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
			continue
		}
		if ch == '\'' || ch == '"' || ch == '`' {
			quote = ch
			sb.WriteByte(ch)
			continue
		}
		if !strings.HasPrefix(query[i:], prefix) {
			sb.WriteByte(ch)
			continue
		}
		j := i + len(prefix)
		for j < len(query) && isParamChar(query[j]) {
			j++
		}
		name := query[i+len(prefix) : j]
		v, ok := named[name]
		if !ok {
			sb.WriteByte(ch)
			continue
		}
		i = j - 1
		if !ordinal {
			out = append(out, v)
			sb.WriteByte('?')
			continue
		}
		n, seen := ordinals[name]
		if !seen {
			out = append(out, v)
			n = len(out)
			ordinals[name] = n
		}
		sb.WriteString("$" + strconv.Itoa(n))
	}
	return sb.String(), out
}

func isParamChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
