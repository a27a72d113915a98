// Package inventory implements the Device Inventory (C6): a who-is
// broadcast across the configured instance range, a per-device property
// walk through the Reader/Normalizer, and commit against the Devices
// collection using the shared reconciliation table. Grounded on
// DeviceManagement.py's DeviceManager.discover/commit.
package inventory

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/bacnetio"
	"github.com/kloudnuk/bacnet-gateway/internal/config"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/metrics"
	"github.com/kloudnuk/bacnet-gateway/internal/model"
	"github.com/kloudnuk/bacnet-gateway/internal/normalize"
	"github.com/kloudnuk/bacnet-gateway/internal/reconcile"
	"github.com/kloudnuk/bacnet-gateway/internal/scheduler"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

const section = "device-discovery"

// TimeFormat is the ISO-8601-with-offset layout used for lastSynced, per §6.
const TimeFormat = "2006-01-02T15:04:05-0700"

// Clock supplies the current time for lastSynced stamping; tests substitute
// a fixed value.
type Clock func() time.Time

// Inventory is the Device Inventory service (C6). It is not safe for
// concurrent Discover/Commit calls; the scheduler runs each service on its
// own cooperative slot so this never happens in practice.
type Inventory struct {
	reader  *bacnetio.Reader
	db      store.Database
	clock   Clock
	tz      string
	devices map[string]*model.DeviceRecord
	log     logging.Logger

	enable  bool
	interval time.Duration
	timeout  time.Duration
}

// New builds an Inventory against reader and db. tz is the configured
// time zone name (as accepted by time.LoadLocation) used to format
// lastSynced timestamps; an unknown name leaves them in local time.
func New(reader *bacnetio.Reader, db store.Database, tz string) *Inventory {
	return &Inventory{
		reader:  reader,
		db:      db,
		clock:   time.Now,
		tz:      tz,
		devices: make(map[string]*model.DeviceRecord),
		log:     logging.GetLogger().WithField("log", "inventory"),
	}
}

// Notify implements config.Subscriber: the section's enable/interval/timeout
// settings are mirrored into the service as the Config Store observes
// changes on disk, matching DeviceManager.update.
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
	case "timeout":
		inv.timeout = toDuration(value)
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

// Tick runs one cooperative pass: if sched reports the device-discovery
// ticket expired (or this is the first call), run a full discover+commit
// cycle. It is a no-op when the section is disabled.
func (inv *Inventory) Tick(ctx context.Context, sched *scheduler.Scheduler, address string, bootstrap bool) error {
	if !inv.enable {
		return nil
	}
	if !sched.CheckTicket(section, inv.interval) && !bootstrap {
		return nil
	}
	if err := inv.Discover(ctx, address, inv.timeout); err != nil {
		return err
	}
	return inv.Commit(ctx)
}

// LoadSettings seeds the service's settings from cfg directly, for the
// initial read before the first Sync (mirrors the source's settings
// dict populated ahead of subscribing).
func (inv *Inventory) LoadSettings(cfg *config.Store) error {
	enable, err := cfg.Read(section, "enable")
	if err != nil {
		return err
	}
	interval, err := cfg.Read(section, "interval")
	if err != nil {
		return err
	}
	timeout, err := cfg.Read(section, "timeout")
	if err != nil {
		return err
	}
	inv.Notify(section, "enable", enable)
	inv.Notify(section, "interval", interval)
	inv.Notify(section, "timeout", timeout)
	return nil
}

// Discover implements the §4.6 discovery cycle: who-is across the full
// instance range, then for each responder read objectName and
// propertyList, and each named property in turn, normalizing as it goes.
func (inv *Inventory) Discover(ctx context.Context, address string, timeout time.Duration) error {
	inv.log.Info("device discovery started")

	results, err := inv.reader.WhoIs(ctx, 0, model.MaxInstance, address, timeout)
	if err != nil {
		return apperrors.New(apperrors.KindReadFailure, "who-is", err)
	}
	inv.log.Info("devices found", logging.Int("count", len(results)))

	for _, result := range results {
		record := inv.readDevice(ctx, result)
		key := fmt.Sprintf("%s,%s", record.Id.String(), record.Address)
		inv.devices[key] = record
	}

	metrics.DevicesKnown.Set(float64(len(inv.devices)))
	inv.log.Info("device discovery completed")
	return nil
}

func (inv *Inventory) readDevice(ctx context.Context, result bacnetio.WhoIsResult) *model.DeviceRecord {
	record := &model.DeviceRecord{
		Id:         result.Id,
		Address:    result.Address,
		Properties: make(map[string]model.NormalizedValue),
	}

	name, err := inv.reader.Read(ctx, result.Address, result.Id.String(), "objectName")
	if err != nil {
		inv.log.Debug("objectName read failed", logging.String("device", result.Id.String()), logging.Err(err))
	} else {
		record.Properties["device-name"] = normalize.Normalize("device-name", name)
	}

	propList, err := inv.reader.Read(ctx, result.Address, result.Id.String(), "propertyList")
	if err != nil {
		inv.log.Debug("propertyList read failed", logging.String("device", result.Id.String()), logging.Err(err))
		return inv.stamp(record)
	}

	names, ok := propList.([]string)
	if !ok {
		inv.log.Debug("propertyList not a string list", logging.String("device", result.Id.String()))
		return inv.stamp(record)
	}

	for _, prop := range names {
		raw, err := inv.reader.Read(ctx, result.Address, result.Id.String(), prop)
		if err != nil {
			inv.log.Debug("property read failed", logging.String("device", result.Id.String()), logging.String("property", prop), logging.Err(err))
			metrics.ReadFailures.WithLabelValues("inventory").Inc()
			continue
		}
		record.Properties[prop] = normalize.Normalize(prop, raw)
	}

	return inv.stamp(record)
}

func (inv *Inventory) stamp(record *model.DeviceRecord) *model.DeviceRecord {
	now := inv.clock()
	if loc, err := time.LoadLocation(inv.tz); err == nil {
		now = now.In(loc)
	}
	formatted := now.Format(TimeFormat)
	record.LastSynced = &formatted
	return record
}

// Commit implements the §4.6 commit cycle: reconcile the in-memory set
// against the Devices collection, then clear the in-memory set regardless
// of outcome.
func (inv *Inventory) Commit(ctx context.Context) error {
	inv.log.Info("device commit started")
	defer func() {
		inv.devices = make(map[string]*model.DeviceRecord)
	}()

	items := make([]reconcile.Item, 0, len(inv.devices))
	for _, record := range inv.devices {
		items = append(items, reconcile.Item{Id: record.Id.String(), Doc: toDoc(record)})
	}

	ops := reconcile.Ops{
		Count: func(ctx context.Context) (int, error) {
			n, err := inv.db.CountDocuments(ctx, store.Devices)
			return int(n), err
		},
		ExistingIds: func(ctx context.Context) ([]string, error) {
			docs, err := inv.db.Find(ctx, store.Devices, bson.M{}, bson.M{"id": 1, "_id": 0})
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
			return inv.db.InsertMany(ctx, store.Devices, docs)
		},
		InsertOne: func(ctx context.Context, doc interface{}) error {
			return inv.db.InsertOne(ctx, store.Devices, doc)
		},
		ReplaceOne: func(ctx context.Context, id string, doc interface{}) error {
			return inv.db.FindOneAndReplace(ctx, store.Devices, id, doc)
		},
	}

	err := reconcile.Commit(ctx, ops, items)
	metrics.DiscoveryCycles.WithLabelValues(section).Inc()
	inv.log.Info("device commit completed")
	return err
}

func toDoc(record *model.DeviceRecord) bson.M {
	properties := bson.M{}
	for name, value := range record.Properties {
		properties[name] = bson.M{"value": value.Value, "type": value.Type}
	}
	return bson.M{
		"id":         record.Id.String(),
		"address":    string(record.Address),
		"lastSynced": record.LastSynced,
		"properties": properties,
	}
}
