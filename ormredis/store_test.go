package ormredis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/lemmego/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	store  *Store
	ctx    context.Context
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.server = miniredis.RunT(s.T())
	s.store = New(redis.NewClient(&redis.Options{Addr: s.server.Addr()}), "")
}

func (s *StoreTestSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func sampleMap(t *testing.T) *orm.MapConfig {
	cfg := orm.NewMapConfig(orm.ProjectSettings{Namespace: "Zoo", Platform: orm.PlatformSqlite3})
	e := orm.NewEntityMap("Zoo", "zoos")
	e.PrimaryKey = &orm.PrimaryKey{Columns: []string{"id"}, Generator: orm.GeneratorIdentity}
	if err := e.Add(&orm.Property{Name: "ID", ColumnName: "id", DbType: orm.DbTypeInt64, Identity: true}); err != nil {
		t.Fatal(err)
	}
	if err := e.Add(&orm.Property{Name: "Name", ColumnName: "name", DbType: orm.DbTypeString, Length: 50}); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Add(e); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func (s *StoreTestSuite) TestSaveAndLoad() {
	s.Require().NoError(s.store.Save(s.ctx, "zoo", sampleMap(s.T())))
	s.True(s.server.Exists(DefaultPrefix + "zoo"))

	loaded, err := s.store.Load(s.ctx, "zoo")
	s.Require().NoError(err)
	s.Equal("Zoo", loaded.Settings.Namespace)

	e, ok := loaded.Entity("Zoo")
	s.Require().True(ok)
	s.Equal([]string{"id"}, e.PrimaryKey.Columns)
	s.Equal(2, e.Len())

	name, ok := e.Property("Name")
	s.Require().True(ok)
	s.Equal(50, name.Base().Length)
}

func (s *StoreTestSuite) TestList() {
	for _, name := range []string{"b", "a", "c"} {
		s.Require().NoError(s.store.Save(s.ctx, name, sampleMap(s.T())))
	}
	// saving again does not duplicate the index entry
	s.Require().NoError(s.store.Save(s.ctx, "a", sampleMap(s.T())))

	names, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "c"}, names)
}

func (s *StoreTestSuite) TestDelete() {
	s.Require().NoError(s.store.Save(s.ctx, "zoo", sampleMap(s.T())))
	s.Require().NoError(s.store.Delete(s.ctx, "zoo"))

	_, err := s.store.Load(s.ctx, "zoo")
	s.True(orm.IsNotFound(err))

	names, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(names)

	s.True(orm.IsNotFound(s.store.Delete(s.ctx, "zoo")))
}

func (s *StoreTestSuite) TestLoadMissing() {
	_, err := s.store.Load(s.ctx, "nope")
	s.True(orm.IsNotFound(err))
}

func (s *StoreTestSuite) TestEmptyName() {
	_, err := s.store.Load(s.ctx, "")
	s.True(orm.IsErrorType(err, orm.ErrorTypeInvalidArgument))
}

func (s *StoreTestSuite) TestCorruptDocument() {
	s.Require().NoError(s.server.Set(DefaultPrefix+"bad", "entities: [unterminated"))
	_, err := s.store.Load(s.ctx, "bad")
	s.True(orm.IsErrorType(err, orm.ErrorTypeSerialization))
}

func (s *StoreTestSuite) TestOpenFromConfig() {
	port, err := strconv.Atoi(s.server.Port())
	s.Require().NoError(err)

	store, err := Open(orm.Config{
		Platform: "redis",
		Host:     s.server.Host(),
		Port:     port,
		Options:  map[string]interface{}{"redis": map[string]interface{}{"prefix": "test:"}},
	})
	s.Require().NoError(err)
	defer store.Close()

	s.Require().NoError(store.Save(s.ctx, "zoo", sampleMap(s.T())))
	s.True(s.server.Exists("test:zoo"))
}

func (s *StoreTestSuite) TestOpenUnreachable() {
	addr := s.server.Addr()
	s.server.Close()
	_, err := Open(orm.Config{ConnectionURL: "redis://" + addr})
	s.True(orm.IsErrorType(err, orm.ErrorTypeConnection))
}

func TestClientOptionsTimeouts(t *testing.T) {
	opts, prefix, err := clientOptions(orm.Config{
		Host: "cache",
		Port: 6379,
		Options: map[string]interface{}{"redis": map[string]interface{}{
			"dial_timeout":  "2s",
			"read_timeout":  1500 * time.Millisecond,
			"write_timeout": "250ms",
			"prefix":        "zoo:",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
	assert.Equal(t, 1500*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.WriteTimeout)
	assert.Equal(t, "zoo:", prefix)

	_, _, err = clientOptions(orm.Config{Options: map[string]interface{}{
		"redis": map[string]interface{}{"read_timeout": "soon"},
	}})
	assert.True(t, orm.IsErrorType(err, orm.ErrorTypeInvalidArgument))
}
