//go:build integration

package ormgorm

import (
	"context"
	"database/sql"
	"testing"

	"github.com/lemmego/orm"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresDescriptor(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("zoo"),
		postgres.WithUsername("zoo"),
		postgres.WithPassword("zoo"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
CREATE TABLE zoos (id SERIAL PRIMARY KEY, name VARCHAR(50) NOT NULL);
CREATE TABLE animals (
	id SERIAL PRIMARY KEY,
	name VARCHAR(50) NOT NULL,
	tag UUID UNIQUE,
	zoo_id INTEGER REFERENCES zoos(id)
);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	d, err := New(orm.Config{Platform: "postgres", ConnectionURL: dsn})
	require.NoError(t, err)
	defer d.Close()

	tables, err := d.GetTables(ctx)
	require.NoError(t, err)
	require.Contains(t, tables, "animals")

	animals := tables["animals"]
	assert.Equal(t, []string{"id"}, animals.PrimaryKey.Columns)

	tag, ok := animals.ByColumn("tag")
	require.True(t, ok)
	assert.Equal(t, orm.DbTypeGuid, tag.Base().DbType)
	assert.True(t, tag.Base().Unique)

	m, ok := animals.ByColumn("zoo_id")
	require.True(t, ok)
	rel, ok := m.(*orm.Relation)
	require.True(t, ok)
	assert.Equal(t, "zoos", rel.ReferenceTable)
	assert.Equal(t, "id", rel.ReferenceColumn)
	assert.Equal(t, "FK_animals_zoo_id_zoos", rel.ConstraintName)
}
