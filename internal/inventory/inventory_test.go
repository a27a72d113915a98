package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloudnuk/bacnet-gateway/internal/bacnetio"
	"github.com/kloudnuk/bacnet-gateway/internal/model"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func newSim() *bacnetio.SimTransport {
	return bacnetio.NewSimTransport(&bacnetio.SimulatedDevice{
		Id:      model.DeviceId{Kind: "device", Instance: 10},
		Address: "10.0.0.5",
		Properties: map[string]interface{}{
			"objectName":   "AHU-1",
			"propertyList": []string{"object-list", "vendorIdentifier"},
			"object-list":  []string{"analog-input,1", "analog-input,2"},
			"vendorIdentifier": "260",
		},
	})
}

func TestDiscoverBuildsDeviceRecordWithLastSynced(t *testing.T) {
	reader := bacnetio.NewReader(newSim(), nil)
	db := store.NewFake()
	inv := New(reader, db, "UTC")
	inv.clock = fixedClock(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))

	err := inv.Discover(context.Background(), "*", time.Second)
	require.NoError(t, err)
	require.Len(t, inv.devices, 1)

	var record *model.DeviceRecord
	for _, r := range inv.devices {
		record = r
	}
	assert.Equal(t, model.DeviceId{Kind: "device", Instance: 10}, record.Id)
	assert.NotNil(t, record.LastSynced)
	assert.Equal(t, "2026-07-31T12:00:00+0000", *record.LastSynced)
	assert.Contains(t, record.Properties, "vendorIdentifier")
	assert.Contains(t, record.Properties, "object-list")
}

func TestCommitBulkInsertsOnEmptyCollection(t *testing.T) {
	reader := bacnetio.NewReader(newSim(), nil)
	db := store.NewFake()
	inv := New(reader, db, "UTC")

	require.NoError(t, inv.Discover(context.Background(), "*", time.Second))
	require.NoError(t, inv.Commit(context.Background()))

	n, err := db.CountDocuments(context.Background(), store.Devices)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, inv.devices, "in-memory set must be cleared after commit")
}

func TestCommitReplacesWhenCountsMatch(t *testing.T) {
	reader := bacnetio.NewReader(newSim(), nil)
	db := store.NewFake()
	inv := New(reader, db, "UTC")

	require.NoError(t, inv.Discover(context.Background(), "*", time.Second))
	require.NoError(t, inv.Commit(context.Background()))

	require.NoError(t, inv.Discover(context.Background(), "*", time.Second))
	require.NoError(t, inv.Commit(context.Background()))

	n, err := db.CountDocuments(context.Background(), store.Devices)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "replace must not duplicate the record")
}

func TestNotifyOnlyUpdatesMatchingSection(t *testing.T) {
	inv := New(bacnetio.NewReader(newSim(), nil), store.NewFake(), "UTC")
	inv.Notify("point-discovery", "enable", true)
	assert.False(t, inv.enable)

	inv.Notify(section, "enable", true)
	inv.Notify(section, "interval", 300)
	inv.Notify(section, "timeout", 5)
	assert.True(t, inv.enable)
	assert.Equal(t, 300*time.Second, inv.interval)
	assert.Equal(t, 5*time.Second, inv.timeout)
}
