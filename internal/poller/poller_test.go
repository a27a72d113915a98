package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kloudnuk/bacnet-gateway/internal/bacnetio"
	"github.com/kloudnuk/bacnet-gateway/internal/model"
	"github.com/kloudnuk/bacnet-gateway/internal/objectgraph"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

func seedGraphAndDevice(t *testing.T, db store.Database, graph *objectgraph.Store) {
	t.Helper()
	require.NoError(t, db.InsertOne(context.Background(), store.Points, bson.M{
		"id": "device,10", "name": "AHU-1", "address": "10.0.0.5", "points": bson.M{},
	}))
	require.NoError(t, graph.Write(model.ObjectGraph{
		"device,10": {
			"analog-input,1": model.ObjectGraphEntry{Id: "device,10", Name: "AHU-1", Address: "10.0.0.5", Point: "analog-input,1"},
		},
	}))
}

func newSim() *bacnetio.SimTransport {
	return bacnetio.NewSimTransport(&bacnetio.SimulatedDevice{
		Id:      model.DeviceId{Kind: "device", Instance: 10},
		Address: "10.0.0.5",
		Properties: map[string]interface{}{
			"presentValue": 68.2,
			"statusFlags":  "normal",
			"reliability":  "no-fault-detected",
		},
	})
}

func TestPollUpdatesPointsForEachDevice(t *testing.T) {
	db := store.NewFake()
	graph := objectgraph.New(t.TempDir())
	seedGraphAndDevice(t, db, graph)

	p := New(bacnetio.NewReader(newSim(), nil), db, graph)
	require.NoError(t, p.Poll(context.Background()))

	doc, err := db.FindOne(context.Background(), store.Points, bson.M{"id": "device,10"})
	require.NoError(t, err)
	require.NotNil(t, doc)

	points, ok := doc["points"].(bson.M)
	require.True(t, ok)
	point, ok := points["analog-input,1"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "68.2", point["value"])
	assert.Equal(t, "normal", point["status"])
}

func TestPollPreservesPriorFieldOnReadFailure(t *testing.T) {
	db := store.NewFake()
	graph := objectgraph.New(t.TempDir())
	require.NoError(t, db.InsertOne(context.Background(), store.Points, bson.M{
		"id": "device,10", "name": "AHU-1", "address": "10.0.0.5",
		"points": bson.M{
			"analog-input,1": bson.M{
				"id": "analog-input,1", "value": "68.2", "status": "normal", "reliability": "stale-but-prior",
			},
		},
	}))
	require.NoError(t, graph.Write(model.ObjectGraph{
		"device,10": {
			"analog-input,1": model.ObjectGraphEntry{Id: "device,10", Name: "AHU-1", Address: "10.0.0.5", Point: "analog-input,1"},
		},
	}))

	sim := bacnetio.NewSimTransport(&bacnetio.SimulatedDevice{
		Id:      model.DeviceId{Kind: "device", Instance: 10},
		Address: "10.0.0.5",
		Properties: map[string]interface{}{
			"presentValue": 70.1,
			"statusFlags":  "normal",
			// reliability intentionally omitted to force a read failure.
		},
	})
	p := New(bacnetio.NewReader(sim, nil), db, graph)
	require.NoError(t, p.Poll(context.Background()))

	doc, err := db.FindOne(context.Background(), store.Points, bson.M{"id": "device,10"})
	require.NoError(t, err)
	points := doc["points"].(bson.M)
	point := points["analog-input,1"].(bson.M)
	assert.Equal(t, "70.1", point["value"])
	assert.Equal(t, "stale-but-prior", point["reliability"])
}

func TestPollWithEmptyObjectGraphIsANoop(t *testing.T) {
	db := store.NewFake()
	graph := objectgraph.New(t.TempDir())
	p := New(bacnetio.NewReader(newSim(), nil), db, graph)

	require.NoError(t, p.Poll(context.Background()))

	n, err := db.CountDocuments(context.Background(), store.Points)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestNotifyUpdatesEnableAndInterval(t *testing.T) {
	p := New(bacnetio.NewReader(newSim(), nil), store.NewFake(), objectgraph.New(t.TempDir()))
	p.Notify(section, "enable", true)
	p.Notify(section, "interval", 60)
	assert.True(t, p.enable)
	assert.Equal(t, 60*time.Second, p.interval)
}
