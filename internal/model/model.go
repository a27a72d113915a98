// Package model holds the shared data types that flow between the gateway's
// components: device and point identities, normalized property values, and
// the scheduling ticket used to gate periodic services.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DeviceId identifies a BACnet device by its object kind and instance
// number. Only "device" objects are ever represented by this type; kind is
// carried for symmetry with PointObjectId and for serialization.
type DeviceId struct {
	Kind     string
	Instance int
}

// MaxInstance is the largest legal BACnet device instance number.
const MaxInstance = 4_194_303

// String renders the canonical "device,<instance>" form used as the Mongo
// document id.
func (d DeviceId) String() string {
	return fmt.Sprintf("%s,%d", d.Kind, d.Instance)
}

// ParseDeviceId parses the canonical "device,<instance>" form.
func ParseDeviceId(s string) (DeviceId, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return DeviceId{}, fmt.Errorf("malformed device id %q", s)
	}
	instance, err := strconv.Atoi(parts[1])
	if err != nil {
		return DeviceId{}, fmt.Errorf("malformed device id %q: %w", s, err)
	}
	return DeviceId{Kind: parts[0], Instance: instance}, nil
}

// Less orders DeviceIds by instance, matching the ordering invariant tested
// against the in-memory device set.
func (d DeviceId) Less(other DeviceId) bool {
	return d.Instance < other.Instance
}

// Address is an opaque, routable endpoint string supplied by the BACnet
// transport. The gateway never interprets its contents.
type Address string

// NormalizedValue is the uniform shape every BACnet property is converted
// into before persistence: a value (scalar, list, or structured) plus a type
// tag describing its shape.
type NormalizedValue struct {
	Value interface{} `bson:"value" json:"value"`
	Type  string      `bson:"type" json:"type"`
}

// NotSupported is the sentinel NormalizedValue used whenever normalization
// of a property fails.
var NotSupported = NormalizedValue{Value: "not-supported", Type: "string"}

// DeviceRecord is one discovered device and its normalized property set.
type DeviceRecord struct {
	Id         DeviceId                   `bson:"id" json:"id"`
	Address    Address                    `bson:"address" json:"address"`
	LastSynced *string                    `bson:"lastSynced" json:"lastSynced"`
	Properties map[string]NormalizedValue `bson:"properties" json:"properties"`
}

// SortedPropertyNames returns property keys in stable lexicographic order,
// the serialization order required by the DeviceRecord invariant.
func (d *DeviceRecord) SortedPropertyNames() []string {
	names := make([]string, 0, len(d.Properties))
	for name := range d.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge combines another record's properties into this one, preferring the
// other record's values for any overlapping key. Ids must match.
func (d *DeviceRecord) Merge(other *DeviceRecord) error {
	if d.Id != other.Id {
		return fmt.Errorf("cannot merge device %s into %s", other.Id, d.Id)
	}
	if d.Properties == nil {
		d.Properties = make(map[string]NormalizedValue, len(other.Properties))
	}
	for k, v := range other.Properties {
		d.Properties[k] = v
	}
	if other.LastSynced != nil {
		d.LastSynced = other.LastSynced
	}
	return nil
}

// PointKinds lists the nine object kinds treated as "points" for
// enumeration purposes; anything else found in an object-list is ignored.
var PointKinds = []string{
	"analog-value", "analog-input", "analog-output",
	"binary-value", "binary-input", "binary-output",
	"multi-state-value", "multi-state-input", "multi-state-output",
}

// IsPointKind reports whether an object-list entry names one of the nine
// point kinds.
func IsPointKind(objectRef string) bool {
	for _, kind := range PointKinds {
		if strings.Contains(objectRef, kind) {
			return true
		}
	}
	return false
}

// PointObjectId identifies a BACnet object below the device level.
type PointObjectId struct {
	Kind     string
	Instance int
}

func (p PointObjectId) String() string {
	return fmt.Sprintf("%s,%d", p.Kind, p.Instance)
}

// ParsePointObjectId parses the "<kind>,<instance>" object-list form.
func ParsePointObjectId(s string) (PointObjectId, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return PointObjectId{}, fmt.Errorf("malformed object id %q", s)
	}
	instance, err := strconv.Atoi(parts[1])
	if err != nil {
		return PointObjectId{}, fmt.Errorf("malformed object id %q: %w", s, err)
	}
	return PointObjectId{Kind: parts[0], Instance: instance}, nil
}

// PointRecord is the persisted snapshot of one point object. Analog, binary,
// and multi-state kinds each carry kind-specific fields in addition to the
// base set; unused kind-specific fields are left at their zero value.
type PointRecord struct {
	Id           string   `bson:"id" json:"id"`
	DeviceName   string   `bson:"-" json:"-"`
	Device       []string `bson:"device" json:"device"`
	Name         string   `bson:"name" json:"name"`
	Value        string   `bson:"value" json:"value"`
	Status       string   `bson:"status" json:"status"`
	Reliability  string   `bson:"reliability" json:"reliability"`
	Description  string   `bson:"description" json:"description"`
	LastSynced   string   `bson:"lastSynced" json:"lastSynced"`

	// analog
	Units  string  `bson:"units,omitempty" json:"units,omitempty"`
	MaxVal float64 `bson:"maxVal,omitempty" json:"maxVal,omitempty"`
	MinVal float64 `bson:"minVal,omitempty" json:"minVal,omitempty"`

	// binary
	ActiveText         string `bson:"activeText,omitempty" json:"activeText,omitempty"`
	InactiveText       string `bson:"inactiveText,omitempty" json:"inactiveText,omitempty"`
	ElapsedActiveTime  int64  `bson:"elapsedActiveTime,omitempty" json:"elapsedActiveTime,omitempty"`

	// multi-state
	StateCount  int      `bson:"stateCount,omitempty" json:"stateCount,omitempty"`
	StateLabels []string `bson:"stateLabels,omitempty" json:"stateLabels,omitempty"`
}

// DeviceSpec is one device's persisted point collection, the unit of
// storage in the Points collection.
type DeviceSpec struct {
	Name    string                  `bson:"name" json:"name"`
	Id      string                  `bson:"id" json:"id"`
	Address Address                 `bson:"address" json:"address"`
	Points  map[string]*PointRecord `bson:"points" json:"points"`
	// PointOrder preserves insertion order for stable serialization; maps in
	// Go have no order, so callers needing a deterministic walk should use
	// this instead of ranging over Points.
	PointOrder []string `bson:"-" json:"-"`
}

// NewDeviceSpec builds an empty DeviceSpec ready to receive points.
func NewDeviceSpec(name, id string, address Address) *DeviceSpec {
	return &DeviceSpec{
		Name:    name,
		Id:      id,
		Address: address,
		Points:  make(map[string]*PointRecord),
	}
}

// AddPoint appends a point to the device, preserving discovery order.
func (s *DeviceSpec) AddPoint(id string, point *PointRecord) {
	if _, exists := s.Points[id]; !exists {
		s.PointOrder = append(s.PointOrder, id)
	}
	s.Points[id] = point
}

// ObjectGraphEntry is one point's addressing metadata as persisted in the
// object graph file, consumed by the Poller.
type ObjectGraphEntry struct {
	Id      string
	Name    string
	Address Address
	Point   string
}

// ObjectGraph is the persisted device-to-point map written by the Point
// Inventory and consumed by the Poller.
type ObjectGraph map[string]map[string]ObjectGraphEntry

// TicketStatus is the lifecycle state of a scheduling Ticket.
type TicketStatus string

const (
	TicketActive  TicketStatus = "active"
	TicketExpired TicketStatus = "expired"
)

// Ticket gates a periodic service's cadence; one exists per configuration
// section under scheduling.
type Ticket struct {
	Section   string
	CreatedAt int64 // unix seconds
	ExpiresAt int64 // unix seconds
	Status    TicketStatus
}
