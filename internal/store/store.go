// Package store implements the Database collaborator named in §6: a thin
// wrapper over the document-database driver exposing exactly the
// operations the gateway's components consume (ping, count, insert,
// replace, find, update, watch), grounded on the Mongodb singleton in
// original_source's MongoClient.py.
package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
)

// Collection names, matching §6.
const (
	Devices       = "Devices"
	Points        = "Points"
	Configuration = "Configuration"
	Logs          = "Logs"
)

// ChangeStream is the subset of *mongo.ChangeStream the Remote Config
// Reconciler depends on, kept as an interface so it can be faked in tests.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	ResumeToken() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// Database is the full operation set §6 names. Every periodic service
// (C6, C8, C9, C10) and the Mongo-backed logging sink depend on this
// interface rather than the driver directly, so tests can substitute a
// fake.
type Database interface {
	Ping(ctx context.Context) error
	CountDocuments(ctx context.Context, collection string) (int64, error)
	InsertOne(ctx context.Context, collection string, doc interface{}) error
	InsertMany(ctx context.Context, collection string, docs []interface{}) error
	FindOneAndReplace(ctx context.Context, collection string, id string, doc interface{}) error
	Find(ctx context.Context, collection string, query, projection interface{}) ([]bson.M, error)
	FindOne(ctx context.Context, collection string, query interface{}) (bson.M, error)
	UpdateOne(ctx context.Context, collection string, query, update interface{}) error
	Watch(ctx context.Context, collection string, pipeline interface{}, resumeAfter bson.Raw) (ChangeStream, error)
	Close(ctx context.Context) error
}

// MongoDatabase is the mongo-driver-backed Database implementation.
type MongoDatabase struct {
	client *mongo.Client
	dbname string
}

// Dial connects to connectionString using a mutual-TLS configuration built
// from certPath (a combined certificate+private-key PEM file, matching the
// source's tlsCertificateKeyFile convention) and selects dbname as the
// working database.
func Dial(ctx context.Context, connectionString, certPath, dbname string) (*MongoDatabase, error) {
	tlsConfig, err := loadTLSConfig(certPath)
	if err != nil {
		return nil, apperrors.New(apperrors.KindDB, "loading client certificate", err)
	}

	opts := options.Client().
		ApplyURI(connectionString).
		SetTLSConfig(tlsConfig).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, apperrors.New(apperrors.KindDB, "connecting to "+connectionString, err)
	}
	return &MongoDatabase{client: client, dbname: dbname}, nil
}

func loadTLSConfig(certPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, certPath)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	pem, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	pool.AppendCertsFromPEM(pem)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}, nil
}

func (m *MongoDatabase) collection(name string) *mongo.Collection {
	return m.client.Database(m.dbname).Collection(name)
}

// Ping implements the source's pingServer check.
func (m *MongoDatabase) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return apperrors.New(apperrors.KindDB, "ping", err)
	}
	return nil
}

func (m *MongoDatabase) CountDocuments(ctx context.Context, collection string) (int64, error) {
	n, err := m.collection(collection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, apperrors.New(apperrors.KindDB, "count "+collection, err)
	}
	return n, nil
}

func (m *MongoDatabase) InsertOne(ctx context.Context, collection string, doc interface{}) error {
	_, err := m.collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return apperrors.New(apperrors.KindDB, "insertOne "+collection, err)
	}
	return nil
}

func (m *MongoDatabase) InsertMany(ctx context.Context, collection string, docs []interface{}) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := m.collection(collection).InsertMany(ctx, docs)
	if err != nil {
		return apperrors.New(apperrors.KindDB, "insertMany "+collection, err)
	}
	return nil
}

func (m *MongoDatabase) FindOneAndReplace(ctx context.Context, collection string, id string, doc interface{}) error {
	result := m.collection(collection).FindOneAndReplace(ctx, bson.M{"id": id}, doc,
		options.FindOneAndReplace().SetUpsert(true))
	if err := result.Err(); err != nil && err != mongo.ErrNoDocuments {
		return apperrors.New(apperrors.KindDB, "findOneAndReplace "+collection, err)
	}
	return nil
}

func (m *MongoDatabase) Find(ctx context.Context, collection string, query, projection interface{}) ([]bson.M, error) {
	opts := options.Find()
	if projection != nil {
		opts.SetProjection(projection)
	}
	cursor, err := m.collection(collection).Find(ctx, query, opts)
	if err != nil {
		return nil, apperrors.New(apperrors.KindDB, "find "+collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperrors.New(apperrors.KindDB, "decoding find results "+collection, err)
	}
	return docs, nil
}

func (m *MongoDatabase) FindOne(ctx context.Context, collection string, query interface{}) (bson.M, error) {
	var doc bson.M
	err := m.collection(collection).FindOne(ctx, query).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindDB, "findOne "+collection, err)
	}
	return doc, nil
}

func (m *MongoDatabase) UpdateOne(ctx context.Context, collection string, query, update interface{}) error {
	_, err := m.collection(collection).UpdateOne(ctx, query, bson.M{"$set": update})
	if err != nil {
		return apperrors.New(apperrors.KindDB, "updateOne "+collection, err)
	}
	return nil
}

func (m *MongoDatabase) Watch(ctx context.Context, collection string, pipeline interface{}, resumeAfter bson.Raw) (ChangeStream, error) {
	opts := options.ChangeStream()
	if resumeAfter != nil {
		opts.SetResumeAfter(resumeAfter)
	}
	stream, err := m.collection(collection).Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, apperrors.New(apperrors.KindChangeStream, "watch "+collection, err)
	}
	return stream, nil
}

func (m *MongoDatabase) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// DocId extracts a string "id" field from a decoded document, used
// throughout the reconciliation path when reading projected id-only
// results.
func DocId(doc bson.M) (string, error) {
	id, ok := doc["id"]
	if !ok {
		return "", fmt.Errorf("document missing id field")
	}
	s, ok := id.(string)
	if !ok {
		return "", fmt.Errorf("document id is not a string: %v", id)
	}
	return s, nil
}
