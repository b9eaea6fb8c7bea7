// Package ormredis keeps map configurations in Redis
package ormredis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lemmego/orm"
)

// DefaultPrefix namespaces the keys written by a Store
const DefaultPrefix = "orm:map:"

// =====================================
// Store Implementation
// =====================================

// Store implements orm.MapStore. Each map is one string key holding its YAML
// document; a set indexes the project names.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ orm.MapStore = (*Store)(nil)

// New creates a store over an existing client
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Open connects to Redis using the host, port, password and database number
// of the configuration, then checks the connection
func Open(config orm.Config) (*Store, error) {
	opts, prefix, err := clientOptions(config)
	if err != nil {
		return nil, err
	}
	s := New(redis.NewClient(opts), prefix)
	if err := s.Health(); err != nil {
		s.Close()
		return nil, orm.NewErrorWithCause(orm.ErrorTypeConnection, "failed to connect to Redis", err)
	}
	return s, nil
}

func clientOptions(config orm.Config) (*redis.Options, string, error) {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       0,
	}
	if config.ConnectionURL != "" {
		parsed, err := redis.ParseURL(config.ConnectionURL)
		if err != nil {
			return nil, "", orm.NewErrorWithCause(orm.ErrorTypeInvalidArgument, "invalid redis url", err)
		}
		opts = parsed
	}
	if config.Database != "" {
		if db, err := strconv.Atoi(config.Database); err == nil {
			opts.DB = db
		}
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		opts.PoolSize = config.MaxOpenConns
	}
	if config.MaxIdleConns > 0 {
		opts.MinIdleConns = config.MaxIdleConns
	}

	prefix := DefaultPrefix
	if options, ok := config.Options["redis"]; ok {
		if redisOpts, ok := options.(map[string]interface{}); ok {
			timeouts := []struct {
				key    string
				target *time.Duration
			}{
				{"dial_timeout", &opts.DialTimeout},
				{"read_timeout", &opts.ReadTimeout},
				{"write_timeout", &opts.WriteTimeout},
			}
			for _, t := range timeouts {
				d, ok, err := orm.DurationOption(redisOpts, t.key)
				if err != nil {
					return nil, "", err
				}
				if ok {
					*t.target = d
				}
			}
			if p, ok := redisOpts["prefix"].(string); ok && p != "" {
				prefix = p
			}
		}
	}
	return opts, prefix, nil
}

// Health checks the connection to Redis
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) (string, error) {
	if name == "" {
		return "", orm.NewError(orm.ErrorTypeInvalidArgument, "map name is empty")
	}
	return s.prefix + name, nil
}

func (s *Store) indexKey() string { return s.prefix + "_index" }

// Load reads and decodes a map
func (s *Store) Load(ctx context.Context, name string) (*orm.MapConfig, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, convertRedisError(fmt.Sprintf("map %s", name), err)
	}
	return orm.UnmarshalMapConfig(data)
}

// Save writes a map and adds it to the index in one transaction
func (s *Store) Save(ctx context.Context, name string, c *orm.MapConfig) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	data, err := orm.MarshalMapConfig(c)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.SAdd(ctx, s.indexKey(), name)
		return nil
	})
	return convertRedisError(fmt.Sprintf("map %s", name), err)
}

// Delete removes a map. Deleting a missing map is a not found error.
func (s *Store) Delete(ctx context.Context, name string) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}
	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, key)
		pipe.SRem(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return convertRedisError(fmt.Sprintf("map %s", name), err)
	}
	if removed.Val() == 0 {
		return orm.NewError(orm.ErrorTypeNotFound, fmt.Sprintf("map %s not found", name))
	}
	return nil
}

// List returns the stored map names in order
func (s *Store) List(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, convertRedisError("map index", err)
	}
	sort.Strings(names)
	return names, nil
}

// convertRedisError converts Redis errors to mapper errors
func convertRedisError(subject string, err error) error {
	if err == nil {
		return nil
	}
	if err == redis.Nil {
		return orm.NewErrorWithCause(orm.ErrorTypeNotFound, subject+" not found", err)
	}
	return orm.NewErrorWithCause(orm.ErrorTypeConnection, "redis operation failed", err)
}
