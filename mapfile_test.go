package orm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func documentedZooMap(t *testing.T) *MapConfig {
	t.Helper()
	cfg := zooMap(t, true)
	cfg.Settings.ConnectionString = "file:zoo.db"
	cfg.ComplexTypes = []*ComplexType{{
		Name: "Address",
		Properties: []*Property{
			{Name: "Street", ColumnName: "street", DbType: DbTypeString, Length: 80},
			{Name: "City", ColumnName: "city", DbType: DbTypeString, Nullable: true},
		},
	}}
	cfg.UnprocessedStatements = []string{"CREATE VIEW big_cats AS SELECT * FROM animals"}
	return cfg
}

func TestMapConfigRoundTrip(t *testing.T) {
	cfg := documentedZooMap(t)
	data, err := MarshalMapConfig(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kind: many_to_many")
	assert.Contains(t, string(data), "type: Int16")

	loaded, err := UnmarshalMapConfig(data)
	require.NoError(t, err)
	assert.False(t, loaded.Frozen(), "loading does not resolve")
	assert.Equal(t, cfg.Document(), loaded.Document())

	require.NoError(t, loaded.Freeze())
	animal := entity(t, loaded, "Animal")
	assert.Equal(t, []string{"ID", "Name", "Legs", "Zoo", "Keepers"}, memberNames(animal))
	assert.Same(t, entity(t, loaded, "Zoo"), relation(t, animal, "Zoo").Target())
}

func TestLoadMapConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		errType ErrorType
	}{
		{
			name:    "malformed yaml",
			yaml:    "entities: [",
			errType: ErrorTypeSerialization,
		},
		{
			name: "unknown db type",
			yaml: `settings: {namespace: Zoo, platform: sqlite3}
entities:
  - name: Zoo
    table: zoos
    properties:
      - {name: ID, column: id, type: Blob}
`,
			errType: ErrorTypeSerialization,
		},
		{
			name: "missing platform",
			yaml: `settings: {namespace: Zoo}
entities: []
`,
			errType: ErrorTypeValidation,
		},
		{
			name: "missing table",
			yaml: `settings: {namespace: Zoo, platform: sqlite3}
entities:
  - name: Zoo
    properties:
      - {name: ID, column: id, type: Int64}
`,
			errType: ErrorTypeValidation,
		},
		{
			name: "many to many without link table",
			yaml: `settings: {namespace: Zoo, platform: sqlite3}
entities:
  - name: Animal
    table: animals
    properties:
      - name: Keepers
        column: id
        type: Int64
        relation: {kind: many_to_many, reference_table: keepers, reference_column: id}
`,
			errType: ErrorTypeValidation,
		},
		{
			name: "unknown relation kind",
			yaml: `settings: {namespace: Zoo, platform: sqlite3}
entities:
  - name: Animal
    table: animals
    properties:
      - name: Zoo
        column: zoo_id
        type: Int64
        relation: {kind: one_to_one, reference_table: zoos, reference_column: id}
`,
			errType: ErrorTypeValidation,
		},
		{
			name: "duplicate property",
			yaml: `settings: {namespace: Zoo, platform: sqlite3}
entities:
  - name: Zoo
    table: zoos
    properties:
      - {name: ID, column: id, type: Int64}
      - {name: ID, column: zoo_id, type: Int64}
`,
			errType: ErrorTypeMapping,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMapConfig(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.True(t, IsErrorType(err, tt.errType), "got %v", err)
		})
	}
}

func TestMapConfigSettingsRoundTrip(t *testing.T) {
	cfg := NewMapConfig(ProjectSettings{Platform: PlatformSqlite3})
	require.NoError(t, cfg.Add(zooEntity(t)))
	data, err := MarshalMapConfig(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "namespace")

	loaded, err := UnmarshalMapConfig(data)
	require.NoError(t, err, "a map without a namespace loads again")
	assert.Equal(t, cfg.Document(), loaded.Document())

	// without a platform the map would not load, so it is never written
	path := filepath.Join(t.TempDir(), "zoo.yaml")
	err = WriteMapFile(path, NewMapConfig(ProjectSettings{Namespace: "Zoo"}))
	assert.True(t, IsValidation(err), "got %v", err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMapFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zoo.yaml")
	require.NoError(t, WriteMapFile(path, zooMap(t, false)))

	loaded, err := ReadMapFile(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Entities(), 4)
	assert.False(t, relation(t, entity(t, loaded, "Animal"), "Zoo").LazyLoad)

	_, err = ReadMapFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsNotFound(err))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "maps")
	store := NewFileStore(dir)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Nil(t, names, "a missing directory lists nothing")

	require.NoError(t, store.Save(ctx, "zoo", zooMap(t, true)))
	require.NoError(t, store.Save(ctx, "aquarium", documentedZooMap(t)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"aquarium", "zoo"}, names)

	aquarium, err := store.Load(ctx, "aquarium")
	require.NoError(t, err)
	require.Len(t, aquarium.ComplexTypes, 1)
	assert.Equal(t, "Address", aquarium.ComplexTypes[0].Name)

	require.NoError(t, store.Delete(ctx, "zoo"))
	assert.True(t, IsNotFound(store.Delete(ctx, "zoo")))
	_, err = store.Load(ctx, "zoo")
	assert.True(t, IsNotFound(err))

	for _, name := range []string{"", ".", "..", "../zoo", `maps\zoo`} {
		_, err := store.Load(ctx, name)
		assert.True(t, IsErrorType(err, ErrorTypeInvalidArgument), name)
	}
}
