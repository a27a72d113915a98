package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestFakeDatabaseInsertAndCount(t *testing.T) {
	db := NewFake()
	ctx := context.Background()

	n, err := db.CountDocuments(ctx, Devices)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, db.InsertOne(ctx, Devices, bson.M{"id": "device,1234", "address": "192.0.2.10"}))

	n, err = db.CountDocuments(ctx, Devices)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFakeDatabaseFindOneMatchesQuery(t *testing.T) {
	db := NewFake()
	ctx := context.Background()
	require.NoError(t, db.InsertOne(ctx, Configuration, bson.M{"id": "cfg-1", "device": bson.M{"nukid": "abc"}}))

	doc, err := db.FindOne(ctx, Configuration, bson.M{"id": "cfg-1"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "cfg-1", doc["id"])

	doc, err = db.FindOne(ctx, Configuration, bson.M{"id": "missing"})
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestFakeDatabaseWatchEmitsUpdateEvents(t *testing.T) {
	db := NewFake()
	ctx := context.Background()
	require.NoError(t, db.InsertOne(ctx, Configuration, bson.M{"id": "cfg-1"}))

	stream, err := db.Watch(ctx, Configuration, bson.A{}, nil)
	require.NoError(t, err)

	require.NoError(t, db.UpdateOne(ctx, Configuration, bson.M{"id": "cfg-1"}, bson.M{"device-discovery.interval": 30}))

	require.True(t, stream.Next(ctx))
	var event bson.M
	require.NoError(t, stream.Decode(&event))
	assert.Equal(t, "update", event["operationType"])
}
