package bacnetio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kloudnuk/bacnet-gateway/internal/model"
)

// SimulatedDevice describes one device the SimTransport will answer for.
type SimulatedDevice struct {
	Id         model.DeviceId
	Address    model.Address
	Properties map[string]interface{}
	// SegmentRefuses, if true, makes every un-indexed read of "object-list"
	// return an AbortError, forcing the index-walk fallback; the
	// object-list value must then be reachable via "object-list[0]"
	// (length) and "object-list[N]" keys in Properties.
	SegmentRefuses bool
}

// SimTransport is an in-memory Transport used in tests and in the absence
// of a real BACnet stack. It never touches the network.
type SimTransport struct {
	mu      sync.Mutex
	devices map[model.DeviceId]*SimulatedDevice
}

// NewSimTransport builds a SimTransport seeded with devices.
func NewSimTransport(devices ...*SimulatedDevice) *SimTransport {
	t := &SimTransport{devices: make(map[model.DeviceId]*SimulatedDevice)}
	for _, d := range devices {
		t.devices[d.Id] = d
	}
	return t
}

// WhoIs returns every simulated device whose instance falls in [low, high].
func (t *SimTransport) WhoIs(ctx context.Context, low, high int, address string, timeout time.Duration) ([]WhoIsResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []WhoIsResult
	for id, dev := range t.devices {
		if id.Instance >= low && id.Instance <= high {
			out = append(out, WhoIsResult{Id: id, Address: dev.Address})
		}
	}
	return out, nil
}

// ReadProperty looks up a property value by name, optionally indexed. A
// device marked SegmentRefuses returns an AbortError for the un-indexed
// "object-list" read.
func (t *SimTransport) ReadProperty(ctx context.Context, address model.Address, objectId, property string, arrayIndex *int) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dev := t.findByAddress(address)
	if dev == nil {
		return nil, fmt.Errorf("no simulated device at %s", address)
	}

	if property == "object-list" {
		if arrayIndex == nil {
			if dev.SegmentRefuses {
				return nil, &AbortError{Reason: SegmentationNotSupported}
			}
			v, ok := dev.Properties["object-list"]
			if !ok {
				return nil, fmt.Errorf("object-list not set for %s", objectId)
			}
			return v, nil
		}
		key := fmt.Sprintf("object-list[%d]", *arrayIndex)
		v, ok := dev.Properties[key]
		if !ok {
			return nil, fmt.Errorf("%s not set for %s", key, objectId)
		}
		return v, nil
	}

	v, ok := dev.Properties[property]
	if !ok {
		return nil, fmt.Errorf("property %q not set for %s", property, objectId)
	}
	return v, nil
}

func (t *SimTransport) findByAddress(address model.Address) *SimulatedDevice {
	for _, d := range t.devices {
		if d.Address == address {
			return d
		}
	}
	return nil
}
