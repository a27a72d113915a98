// Package points implements the Point Inventory (C8): for each device
// already on record, filters its object-list to point kinds, dispatches
// each point to a kind-specific builder, assembles a DeviceSpec, and
// rewrites the object graph. Grounded on PointManagement.py's
// PointManager.discover/commit and Point.py's BacnetPoint/AnalogPoint/
// BinaryPoint/MsvPoint hierarchy.
package points

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/bacnetio"
	"github.com/kloudnuk/bacnet-gateway/internal/config"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/metrics"
	"github.com/kloudnuk/bacnet-gateway/internal/model"
	"github.com/kloudnuk/bacnet-gateway/internal/objectgraph"
	"github.com/kloudnuk/bacnet-gateway/internal/reconcile"
	"github.com/kloudnuk/bacnet-gateway/internal/scheduler"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

const section = "point-discovery"

// TimeFormat matches the device inventory's lastSynced layout.
const TimeFormat = "2006-01-02T15:04:05-0700"

type Clock func() time.Time

// Inventory is the Point Inventory service (C8).
type Inventory struct {
	reader *bacnetio.Reader
	db     store.Database
	graph  *objectgraph.Store
	clock  Clock
	specs  []*model.DeviceSpec
	log    logging.Logger

	enable   bool
	interval time.Duration
}

// New builds an Inventory against reader, db, and the object graph store it
// rewrites every cycle.
func New(reader *bacnetio.Reader, db store.Database, graph *objectgraph.Store) *Inventory {
	return &Inventory{
		reader: reader,
		db:     db,
		graph:  graph,
		clock:  time.Now,
		log:    logging.GetLogger().WithField("log", "points"),
	}
}

// Notify implements config.Subscriber.
func (inv *Inventory) Notify(changedSection, option string, value interface{}) {
	if changedSection != section {
		return
	}
	switch option {
	case "enable":
		if b, ok := value.(bool); ok {
			inv.enable = b
		}
	case "interval":
		inv.interval = toDuration(value)
	}
}

func toDuration(v interface{}) time.Duration {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second
	case float64:
		return time.Duration(n * float64(time.Second))
	default:
		return 0
	}
}

// LoadSettings seeds enable/interval ahead of the first Sync.
func (inv *Inventory) LoadSettings(cfg *config.Store) error {
	enable, err := cfg.Read(section, "enable")
	if err != nil {
		return err
	}
	interval, err := cfg.Read(section, "interval")
	if err != nil {
		return err
	}
	inv.Notify(section, "enable", enable)
	inv.Notify(section, "interval", interval)
	return nil
}

// Tick runs one cooperative pass gated by the scheduler.
func (inv *Inventory) Tick(ctx context.Context, sched *scheduler.Scheduler, bootstrap bool) error {
	if !inv.enable {
		return nil
	}
	if !sched.CheckTicket(section, inv.interval) && !bootstrap {
		return nil
	}
	if err := inv.Discover(ctx); err != nil {
		return err
	}
	return inv.Commit(ctx)
}

// Discover implements the §4.8 discovery cycle. It runs only when the
// Devices collection is non-empty.
func (inv *Inventory) Discover(ctx context.Context) error {
	inv.log.Info("point discovery started")

	n, err := inv.db.CountDocuments(ctx, store.Devices)
	if err != nil {
		return apperrors.New(apperrors.KindDB, "counting devices", err)
	}
	if n == 0 {
		inv.log.Info("no devices on record, skipping point discovery")
		return nil
	}

	devices, err := inv.db.Find(ctx, store.Devices, bson.M{}, bson.M{"id": 1, "address": 1, "properties": 1, "_id": 0})
	if err != nil {
		return apperrors.New(apperrors.KindDB, "reading devices", err)
	}

	graph := model.ObjectGraph{}
	for _, doc := range devices {
		spec, entries, err := inv.discoverDevice(ctx, doc)
		if err != nil {
			inv.log.Error("object-list unavailable for device", logging.Err(err))
			continue
		}
		inv.specs = append(inv.specs, spec)
		graph[spec.Id] = entries
	}

	if err := inv.graph.Write(graph); err != nil {
		inv.log.Error("could not persist object graph", logging.Err(err))
	}

	inv.log.Info("point discovery completed")
	return nil
}

func (inv *Inventory) discoverDevice(ctx context.Context, doc bson.M) (*model.DeviceSpec, map[string]model.ObjectGraphEntry, error) {
	id, ok := doc["id"].(string)
	if !ok {
		return nil, nil, fmt.Errorf("device document missing id")
	}
	address, _ := doc["address"].(string)

	properties, ok := doc["properties"].(bson.M)
	if !ok {
		return nil, nil, fmt.Errorf("device %s has no properties", id)
	}
	nameProp, _ := properties["device-name"].(bson.M)
	name, _ := nameProp["value"].(string)

	objListProp, _ := properties["object-list"].(bson.M)
	objList, ok := objListProp["value"].([]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("device %s has no object-list", id)
	}

	spec := model.NewDeviceSpec(name, id, model.Address(address))
	entries := make(map[string]model.ObjectGraphEntry)

	for _, raw := range objList {
		objRef, ok := raw.(string)
		if !ok || !model.IsPointKind(objRef) {
			continue
		}
		entries[objRef] = model.ObjectGraphEntry{Id: id, Name: name, Address: model.Address(address), Point: objRef}

		point := inv.buildPoint(ctx, model.Address(address), name, id, objRef)
		spec.AddPoint(objRef, point)
	}

	return spec, entries, nil
}

// buildPoint dispatches by kind prefix to the analog/binary/multi-state
// builder, each reading the shared base fields plus its kind-specific set.
// A failed read leaves the corresponding field at its zero value. Failures
// of string-valued reads are logged and counted; failures of the numeric
// and list reads (maxVal, minVal, elapsedActiveTime, stateCount,
// stateLabels) are neither logged nor counted.
func (inv *Inventory) buildPoint(ctx context.Context, address model.Address, deviceName, deviceId, objRef string) *model.PointRecord {
	point := &model.PointRecord{Id: objRef, Device: []string{deviceName, deviceId}}

	point.Name = inv.readString(ctx, address, objRef, "objectName")
	point.Value = inv.readString(ctx, address, objRef, "presentValue")
	point.Status = inv.readString(ctx, address, objRef, "statusFlags")
	point.Reliability = inv.readString(ctx, address, objRef, "reliability")
	point.Description = inv.readString(ctx, address, objRef, "description")
	point.LastSynced = inv.clock().Format(TimeFormat)

	switch {
	case strings.Contains(objRef, "analog"):
		point.Units = inv.readString(ctx, address, objRef, "units")
		point.MaxVal = inv.readFloat(ctx, address, objRef, "maxPresValue")
		point.MinVal = inv.readFloat(ctx, address, objRef, "minPresValue")
	case strings.Contains(objRef, "binary"):
		point.ActiveText = inv.readString(ctx, address, objRef, "activeText")
		point.InactiveText = inv.readString(ctx, address, objRef, "inactiveText")
		point.ElapsedActiveTime = inv.readInt(ctx, address, objRef, "elapsedActiveTime")
	case strings.Contains(objRef, "multi-state"):
		point.StateCount = int(inv.readInt(ctx, address, objRef, "numberOfStates"))
		point.StateLabels = inv.readStringList(ctx, address, objRef, "stateText")
	}

	return point
}

func (inv *Inventory) readString(ctx context.Context, address model.Address, objRef, property string) string {
	v, err := inv.reader.Read(ctx, address, objRef, property)
	if err != nil {
		inv.log.Debug("point property read failed", logging.String("point", objRef), logging.String("property", property), logging.Err(err))
		metrics.ReadFailures.WithLabelValues("points").Inc()
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func (inv *Inventory) readFloat(ctx context.Context, address model.Address, objRef, property string) float64 {
	v, err := inv.reader.Read(ctx, address, objRef, property)
	if err != nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func (inv *Inventory) readInt(ctx context.Context, address model.Address, objRef, property string) int64 {
	v, err := inv.reader.Read(ctx, address, objRef, property)
	if err != nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func (inv *Inventory) readStringList(ctx context.Context, address model.Address, objRef, property string) []string {
	v, err := inv.reader.Read(ctx, address, objRef, property)
	if err != nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, len(list))
		for i, item := range list {
			out[i] = fmt.Sprintf("%v", item)
		}
		return out
	default:
		return nil
	}
}

// Commit implements the §4.8 commit cycle: the shared reconciliation table
// against the Points collection. Per the one stated addition over C6, the
// N_db < N_mem branch both inserts the new ids and replaces the
// intersection — reconcile.Commit already does this.
func (inv *Inventory) Commit(ctx context.Context) error {
	inv.log.Info("points commit started")
	defer func() {
		inv.specs = nil
	}()

	items := make([]reconcile.Item, 0, len(inv.specs))
	for _, spec := range inv.specs {
		items = append(items, reconcile.Item{Id: spec.Id, Doc: toDoc(spec)})
	}

	ops := reconcile.Ops{
		Count: func(ctx context.Context) (int, error) {
			n, err := inv.db.CountDocuments(ctx, store.Points)
			return int(n), err
		},
		ExistingIds: func(ctx context.Context) ([]string, error) {
			docs, err := inv.db.Find(ctx, store.Points, bson.M{}, bson.M{"id": 1, "_id": 0})
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(docs))
			for _, d := range docs {
				if id, err := store.DocId(d); err == nil {
					ids = append(ids, id)
				}
			}
			return ids, nil
		},
		InsertMany: func(ctx context.Context, docs []interface{}) error {
			return inv.db.InsertMany(ctx, store.Points, docs)
		},
		InsertOne: func(ctx context.Context, doc interface{}) error {
			return inv.db.InsertOne(ctx, store.Points, doc)
		},
		ReplaceOne: func(ctx context.Context, id string, doc interface{}) error {
			return inv.db.FindOneAndReplace(ctx, store.Points, id, doc)
		},
	}

	err := reconcile.Commit(ctx, ops, items)
	metrics.DiscoveryCycles.WithLabelValues(section).Inc()
	inv.log.Info("points commit completed")
	return err
}

func toDoc(spec *model.DeviceSpec) bson.M {
	pointsDoc := bson.M{}
	for _, id := range spec.PointOrder {
		p := spec.Points[id]
		pointsDoc[id] = bson.M{
			"id":          p.Id,
			"device":      p.Device,
			"name":        p.Name,
			"value":       p.Value,
			"status":      p.Status,
			"reliability": p.Reliability,
			"description": p.Description,
			"lastSynced":  p.LastSynced,
			"units":       p.Units,
			"maxVal":      p.MaxVal,
			"minVal":      p.MinVal,
			"activeText":        p.ActiveText,
			"inactiveText":      p.InactiveText,
			"elapsedActiveTime": p.ElapsedActiveTime,
			"stateCount":        p.StateCount,
			"stateLabels":       p.StateLabels,
		}
	}
	return bson.M{
		"name":    spec.Name,
		"id":      spec.Id,
		"address": string(spec.Address),
		"points":  pointsDoc,
	}
}
