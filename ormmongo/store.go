// Package ormmongo keeps map configurations in MongoDB
package ormmongo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lemmego/orm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultCollection holds one document per project
const DefaultCollection = "orm_maps"

// mapRecord is the stored shape of a map: the project name as _id and the
// map document as a sub-document
type mapRecord struct {
	Name      string          `bson:"_id"`
	Document  orm.MapDocument `bson:"document"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

// =====================================
// Store Implementation
// =====================================

// Store implements orm.MapStore on a MongoDB collection
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ orm.MapStore = (*Store)(nil)

// New creates a store over a collection of an existing client
func New(client *mongo.Client, database, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

// Open connects to MongoDB and checks the connection
func Open(config orm.Config) (*Store, error) {
	clientOpts, collection, err := clientOptions(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, orm.NewErrorWithCause(orm.ErrorTypeConnection, "failed to connect to MongoDB", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, orm.NewErrorWithCause(orm.ErrorTypeConnection, "failed to ping MongoDB", err)
	}

	database := config.Database
	if database == "" {
		database = "orm"
	}
	return New(client, database, collection), nil
}

// buildConnectionURI builds MongoDB connection URI
func clientOptions(config orm.Config) (*options.ClientOptions, string, error) {
	clientOpts := options.Client().ApplyURI(buildConnectionURI(config))

	collection := DefaultCollection
	if opts, ok := config.Options["mongo"]; ok {
		if mongoOpts, ok := opts.(map[string]interface{}); ok {
			if c, ok := mongoOpts["collection"].(string); ok && c != "" {
				collection = c
			}
			timeout, ok, err := orm.DurationOption(mongoOpts, "connect_timeout")
			if err != nil {
				return nil, "", err
			}
			if ok {
				clientOpts.SetConnectTimeout(timeout)
			}
			if size, ok := mongoOpts["max_pool_size"].(int); ok && size > 0 {
				clientOpts.SetMaxPoolSize(uint64(size))
			}
		}
	}
	if config.MaxOpenConns > 0 {
		clientOpts.SetMaxPoolSize(uint64(config.MaxOpenConns))
	}
	return clientOpts, collection, nil
}

func buildConnectionURI(config orm.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 27017
	}
	u := &url.URL{Scheme: "mongodb", Host: host + ":" + strconv.Itoa(port)}
	if config.Username != "" {
		u.User = url.User(config.Username)
		if config.Password != "" {
			u.User = url.UserPassword(config.Username, config.Password)
		}
	}
	if config.Database != "" {
		u.Path = "/" + config.Database
	}
	if config.SSL.Enabled {
		u.RawQuery = "tls=true"
		if config.SSL.CAFile != "" {
			u.RawQuery += "&tlsCAFile=" + config.SSL.CAFile
		}
		if config.SSL.CertFile != "" {
			u.RawQuery += "&tlsCertificateKeyFile=" + config.SSL.CertFile
		}
	}
	return u.String()
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Load reads and decodes a map
func (s *Store) Load(ctx context.Context, name string) (*orm.MapConfig, error) {
	if name == "" {
		return nil, orm.NewError(orm.ErrorTypeInvalidArgument, "map name is empty")
	}
	var rec mapRecord
	if err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&rec); err != nil {
		return nil, convertMongoError(fmt.Sprintf("map %s", name), err)
	}
	return rec.Document.Config()
}

// Save replaces or inserts a map
func (s *Store) Save(ctx context.Context, name string, c *orm.MapConfig) error {
	if name == "" {
		return orm.NewError(orm.ErrorTypeInvalidArgument, "map name is empty")
	}
	doc := c.Document()
	if err := doc.Validate(); err != nil {
		return err
	}
	rec := mapRecord{Name: name, Document: doc, UpdatedAt: time.Now().UTC()}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": name}, rec, options.Replace().SetUpsert(true))
	return convertMongoError(fmt.Sprintf("map %s", name), err)
}

// Delete removes a map. Deleting a missing map is a not found error.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return convertMongoError(fmt.Sprintf("map %s", name), err)
	}
	if res.DeletedCount == 0 {
		return orm.NewError(orm.ErrorTypeNotFound, fmt.Sprintf("map %s not found", name))
	}
	return nil
}

// List returns the stored map names in order
func (s *Store) List(ctx context.Context) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, convertMongoError("map index", err)
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var rec struct {
			Name string `bson:"_id"`
		}
		if err := cursor.Decode(&rec); err != nil {
			return nil, orm.NewErrorWithCause(orm.ErrorTypeSerialization, "failed to decode map name", err)
		}
		names = append(names, rec.Name)
	}
	return names, convertMongoError("map index", cursor.Err())
}

// convertMongoError converts MongoDB errors to mapper errors
func convertMongoError(subject string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case err == mongo.ErrNoDocuments:
		return orm.NewErrorWithCause(orm.ErrorTypeNotFound, subject+" not found", err)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return orm.NewErrorWithCause(orm.ErrorTypeConnection, "mongo operation failed", err)
	}
	return orm.NewErrorWithCause(orm.ErrorTypeDataAccess, "mongo operation failed", err)
}
