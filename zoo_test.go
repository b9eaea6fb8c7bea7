package orm

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Shared fixtures: zoos hold animals, animals are cared for by keepers
// through the animal_keepers link table.

type zoo struct {
	ID      int64
	Name    string
	Opened  time.Time
	Animals List[animal]
}

type animal struct {
	ID      int64
	Name    string
	Legs    int16
	Zoo     Ref[zoo]
	Keepers List[keeper]
}

type keeper struct {
	ID    uuid.UUID
	Badge *string
}

func zooEntity(t *testing.T) *EntityMap {
	t.Helper()
	e := NewEntityMap("Zoo", "zoos")
	e.TableAlias = "zoo"
	e.PrimaryKey = &PrimaryKey{Columns: []string{"id"}, Generator: GeneratorIdentity}
	require.NoError(t, e.Add(&Property{Name: "ID", ColumnName: "id", DbType: DbTypeInt64, Identity: true}))
	require.NoError(t, e.Add(&Property{Name: "Name", ColumnName: "name", DbType: DbTypeString, Length: 50}))
	require.NoError(t, e.Add(&Property{Name: "Opened", ColumnName: "opened", DbType: DbTypeDate, Nullable: true}))
	require.NoError(t, e.Add(&Relation{
		Property:        Property{Name: "Animals", ColumnName: "id", DbType: DbTypeInt64},
		Kind:            OneToMany,
		ReferenceTable:  "animals",
		ReferenceColumn: "zoo_id",
		LazyLoad:        true,
	}))
	return e
}

func animalEntity(t *testing.T, lazyZoo bool) *EntityMap {
	t.Helper()
	e := NewEntityMap("Animal", "animals")
	e.TableAlias = "ani"
	e.PrimaryKey = &PrimaryKey{Columns: []string{"id"}, Generator: GeneratorIdentity}
	require.NoError(t, e.Add(&Property{Name: "ID", ColumnName: "id", DbType: DbTypeInt64, Identity: true}))
	require.NoError(t, e.Add(&Property{Name: "Name", ColumnName: "name", DbType: DbTypeString, Length: 50}))
	require.NoError(t, e.Add(&Property{Name: "Legs", ColumnName: "legs", DbType: DbTypeInt16}))
	require.NoError(t, e.Add(&Relation{
		Property:        Property{Name: "Zoo", ColumnName: "zoo_id", DbType: DbTypeInt64, Nullable: true},
		Kind:            ManyToOne,
		ReferenceTable:  "zoos",
		ReferenceColumn: "id",
		ConstraintName:  "FK_animals_zoo_id_zoos",
		LazyLoad:        lazyZoo,
	}))
	require.NoError(t, e.Add(&Relation{
		Property:           Property{Name: "Keepers", ColumnName: "id", DbType: DbTypeInt64},
		Kind:               ManyToMany,
		ReferenceTable:     "keepers",
		ReferenceColumn:    "id",
		MapTable:           "animal_keepers",
		MapColumn:          "animal_id",
		MapReferenceColumn: "keeper_id",
		LazyLoad:           true,
	}))
	return e
}

func keeperEntity(t *testing.T) *EntityMap {
	t.Helper()
	e := NewEntityMap("Keeper", "keepers")
	e.TableAlias = "kee"
	e.PrimaryKey = &PrimaryKey{Columns: []string{"id"}, Generator: GeneratorComb}
	require.NoError(t, e.Add(&Property{Name: "ID", ColumnName: "id", DbType: DbTypeGuid, Unique: true}))
	require.NoError(t, e.Add(&Property{Name: "Badge", ColumnName: "badge", DbType: DbTypeString, Length: 20, Nullable: true}))
	return e
}

func linkEntity(t *testing.T) *EntityMap {
	t.Helper()
	e := NewEntityMap("AnimalKeeper", "animal_keepers")
	e.TableAlias = "ak"
	e.IsLinkTable = true
	e.PrimaryKey = &PrimaryKey{Columns: []string{"animal_id", "keeper_id"}}
	require.NoError(t, e.Add(&Property{Name: "AnimalID", ColumnName: "animal_id", DbType: DbTypeInt64}))
	require.NoError(t, e.Add(&Property{Name: "KeeperID", ColumnName: "keeper_id", DbType: DbTypeGuid}))
	return e
}

// zooMap builds the four-entity graph. lazyZoo selects deferred or eager
// loading of Animal.Zoo.
func zooMap(t *testing.T, lazyZoo bool) *MapConfig {
	t.Helper()
	cfg := NewMapConfig(ProjectSettings{Namespace: "Zoo", Platform: PlatformSqlite3})
	for _, e := range []*EntityMap{zooEntity(t), animalEntity(t, lazyZoo), keeperEntity(t), linkEntity(t)} {
		require.NoError(t, cfg.Add(e))
	}
	return cfg
}

func zooRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, Register(reg, "Zoo", func() *zoo { return &zoo{} }, func(b *Binder[zoo]) {
		Field(b, "ID", func(z *zoo) *int64 { return &z.ID })
		Field(b, "Name", func(z *zoo) *string { return &z.Name })
		Field(b, "Opened", func(z *zoo) *time.Time { return &z.Opened })
		Collection(b, "Animals", func(z *zoo) *List[animal] { return &z.Animals })
	}))
	require.NoError(t, Register(reg, "Animal", func() *animal { return &animal{} }, func(b *Binder[animal]) {
		Field(b, "ID", func(a *animal) *int64 { return &a.ID })
		Field(b, "Name", func(a *animal) *string { return &a.Name })
		Field(b, "Legs", func(a *animal) *int16 { return &a.Legs })
		Reference(b, "Zoo", func(a *animal) *Ref[zoo] { return &a.Zoo })
		Collection(b, "Keepers", func(a *animal) *List[keeper] { return &a.Keepers })
	}))
	require.NoError(t, Register(reg, "Keeper", func() *keeper { return &keeper{} }, func(b *Binder[keeper]) {
		Field(b, "ID", func(k *keeper) *uuid.UUID { return &k.ID })
		Field(b, "Badge", func(k *keeper) **string { return &k.Badge })
	}))
	return reg
}
