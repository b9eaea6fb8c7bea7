package orm

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindOrdinal(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		prefix    string
		args      []interface{}
		wantQuery string
		wantArgs  []interface{}
	}{
		{
			name:      "single",
			query:     `SELECT "name" FROM "zoos" WHERE "id" = @key`,
			prefix:    "@",
			args:      []interface{}{sql.Named("key", 3)},
			wantQuery: `SELECT "name" FROM "zoos" WHERE "id" = $1`,
			wantArgs:  []interface{}{3},
		},
		{
			name:      "repeated name keeps its ordinal",
			query:     "SELECT 1 WHERE a = @ID AND b > @Legs OR c = @ID",
			prefix:    "@",
			args:      []interface{}{sql.Named("ID", 7), sql.Named("Legs", 2)},
			wantQuery: "SELECT 1 WHERE a = $1 AND b > $2 OR c = $1",
			wantArgs:  []interface{}{7, 2},
		},
		{
			name:      "quoted text is left alone",
			query:     `SELECT '@key', "@key", ` + "`@key`" + ` WHERE x = @key`,
			prefix:    "@",
			args:      []interface{}{sql.Named("key", "v")},
			wantQuery: `SELECT '@key', "@key", ` + "`@key`" + ` WHERE x = $1`,
			wantArgs:  []interface{}{"v"},
		},
		{
			name:      "unknown names are kept",
			query:     "SELECT @@ROWCOUNT, @other WHERE x = @key",
			prefix:    "@",
			args:      []interface{}{sql.Named("key", 1)},
			wantQuery: "SELECT @@ROWCOUNT, @other WHERE x = $1",
			wantArgs:  []interface{}{1},
		},
		{
			name:      "longer names are not matched by a prefix of them",
			query:     "WHERE a = @key AND b = @keyword",
			prefix:    "@",
			args:      []interface{}{sql.Named("key", 1)},
			wantQuery: "WHERE a = $1 AND b = @keyword",
			wantArgs:  []interface{}{1},
		},
		{
			name:      "empty prefix",
			query:     "WHERE a = @key",
			prefix:    "",
			args:      []interface{}{sql.Named("key", 1)},
			wantQuery: "WHERE a = @key",
			wantArgs:  []interface{}{sql.Named("key", 1)},
		},
		{
			name:      "positional arguments",
			query:     "WHERE a = $1",
			prefix:    "@",
			args:      []interface{}{1},
			wantQuery: "WHERE a = $1",
			wantArgs:  []interface{}{1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := BindOrdinal(tt.query, tt.prefix, tt.args)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBindPositional(t *testing.T) {
	query, args := BindPositional(
		"SELECT 1 WHERE a = :ID AND b = ':ID' AND c = :ID AND d = :Legs",
		":",
		[]interface{}{sql.Named("ID", 7), sql.Named("Legs", 4)},
	)
	assert.Equal(t, "SELECT 1 WHERE a = ? AND b = ':ID' AND c = ? AND d = ?", query)
	assert.Equal(t, []interface{}{7, 7, 4}, args)
}

func TestSQLDBOrdinalParams(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "name" FROM "zoos" WHERE "id" = $1`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("City Zoo"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "zoos" SET "name" = $1 WHERE "id" = $2`)).
		WithArgs("Park", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewSQLDB(db, WithOrdinalParams("@"))
	assert.Same(t, db, store.DB())
	conn, err := store.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	rows, err := conn.Query(ctx, `SELECT "name" FROM "zoos" WHERE "id" = @key`, sql.Named("key", int64(3)))
	require.NoError(t, err)
	require.True(t, rows.Next())
	var name string
	require.NoError(t, rows.Scan(&name))
	assert.Equal(t, "City Zoo", name)
	require.NoError(t, rows.Close())

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	res, err := tx.Exec(ctx, `UPDATE "zoos" SET "name" = @Name WHERE "id" = @ID`,
		sql.Named("ID", int64(3)), sql.Named("Name", "Park"))
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDBErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "zoos"`)).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("no transaction"))

	conn, err := NewSQLDB(db).Open(ctx)
	require.NoError(t, err)

	_, err = conn.Exec(ctx, `DELETE FROM "zoos"`)
	assert.True(t, IsDataAccess(err))
	assert.Contains(t, err.Error(), "disk I/O error")

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	assert.True(t, IsDataAccess(tx.Rollback()))
	require.NoError(t, conn.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectClose()
	require.NoError(t, db.Close())
	_, err = NewSQLDB(db).Open(ctx)
	assert.True(t, IsErrorType(err, ErrorTypeConnection))
}
