package bacnetio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/model"
)

func TestReadPlainProperty(t *testing.T) {
	dev := &SimulatedDevice{
		Id:      model.DeviceId{Kind: "device", Instance: 1234},
		Address: "192.0.2.10",
		Properties: map[string]interface{}{
			"object-name": "Chiller-1",
		},
	}
	transport := NewSimTransport(dev)
	reader := NewReader(transport, nil)

	v, err := reader.Read(context.Background(), dev.Address, "device,1234", "object-name")
	require.NoError(t, err)
	assert.Equal(t, "Chiller-1", v)
}

func TestReadObjectListSegmentationFallback(t *testing.T) {
	dev := &SimulatedDevice{
		Id:             model.DeviceId{Kind: "device", Instance: 1234},
		Address:        "192.0.2.10",
		SegmentRefuses: true,
		Properties: map[string]interface{}{
			"object-list[0]": 3,
			"object-list[1]": "X",
			"object-list[2]": "Y",
			"object-list[3]": "Z",
		},
	}
	transport := NewSimTransport(dev)
	reader := NewReader(transport, nil)

	v, err := reader.Read(context.Background(), dev.Address, "device,1234", "object-list")
	require.NoError(t, err)
	list, ok := v.([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"X", "Y", "Z"}, list)
}

func TestReadPropagatesNonSegmentationErrors(t *testing.T) {
	dev := &SimulatedDevice{
		Id:         model.DeviceId{Kind: "device", Instance: 1234},
		Address:    "192.0.2.10",
		Properties: map[string]interface{}{},
	}
	transport := NewSimTransport(dev)
	reader := NewReader(transport, nil)

	_, err := reader.Read(context.Background(), dev.Address, "device,1234", "missing-property")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindReadFailure))
}

func TestWhoIsFiltersByRange(t *testing.T) {
	a := &SimulatedDevice{Id: model.DeviceId{Kind: "device", Instance: 100}, Address: "a"}
	b := &SimulatedDevice{Id: model.DeviceId{Kind: "device", Instance: 9000}, Address: "b"}
	transport := NewSimTransport(a, b)
	reader := NewReader(transport, nil)

	results, err := reader.WhoIs(context.Background(), 0, 1000, "*", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 100, results[0].Id.Instance)
}
