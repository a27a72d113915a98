// Package poller implements the Poller (C9): it loads the object graph
// written by the Point Inventory, refreshes each point's presentValue,
// statusFlags, and reliability only, and issues one update per device
// against the Points collection. Grounded on PointPolling.py's
// PollService.poll/load_pointLists.
package poller

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
	"github.com/kloudnuk/bacnet-gateway/internal/objectgraph"
	"github.com/kloudnuk/bacnet-gateway/internal/scheduler"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

const section = "point-polling"

type Clock func() time.Time

// Poller is the Poller service (C9).
type Poller struct {
	reader *bacnetio.Reader
	db     store.Database
	graph  *objectgraph.Store
	clock  Clock
	log    logging.Logger

	enable   bool
	interval time.Duration
}

// New builds a Poller reading points through reader and writing updates
// through db, using graph as its source of device/point addressing.
func New(reader *bacnetio.Reader, db store.Database, graph *objectgraph.Store) *Poller {
	return &Poller{
		reader: reader,
		db:     db,
		graph:  graph,
		clock:  time.Now,
		log:    logging.GetLogger().WithField("log", "poller"),
	}
}

// Notify implements config.Subscriber.
func (p *Poller) Notify(changedSection, option string, value interface{}) {
	if changedSection != section {
		return
	}
	switch option {
	case "enable":
		if b, ok := value.(bool); ok {
			p.enable = b
		}
	case "interval":
		p.interval = toDuration(value)
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
func (p *Poller) LoadSettings(cfg *config.Store) error {
	enable, err := cfg.Read(section, "enable")
	if err != nil {
		return err
	}
	interval, err := cfg.Read(section, "interval")
	if err != nil {
		return err
	}
	p.Notify(section, "enable", enable)
	p.Notify(section, "interval", interval)
	return nil
}

// Tick runs one cooperative poll pass gated by the scheduler.
func (p *Poller) Tick(ctx context.Context, sched *scheduler.Scheduler, bootstrap bool) error {
	if !p.enable {
		return nil
	}
	if !sched.CheckTicket(section, p.interval) && !bootstrap {
		return nil
	}
	return p.Poll(ctx)
}

// Poll implements §4.9: load the object graph, refresh each point's
// present-value/status-flags/reliability, and issue one $set update per
// device.
func (p *Poller) Poll(ctx context.Context) error {
	p.log.Info("point polling started")

	graph, err := p.graph.Read()
	if err != nil {
		return apperrors.New(apperrors.KindDB, "loading object graph", err)
	}

	for deviceId, points := range graph {
		existing, err := p.db.FindOne(ctx, store.Points, bson.M{"id": deviceId})
		if err != nil {
			p.log.Error("loading existing points document failed", logging.String("device", deviceId), logging.Err(err))
			metrics.DBErrors.WithLabelValues("findOne").Inc()
			continue
		}
		var priorPoints bson.M
		if existing != nil {
			priorPoints, _ = existing["points"].(bson.M)
		}

		fresh := make(bson.M, len(points))
		for objRef, entry := range points {
			var prior bson.M
			if priorPoints != nil {
				prior, _ = priorPoints[objRef].(bson.M)
			}
			fresh[objRef] = p.refresh(ctx, entry, prior)
		}
		p.log.Debug("committing poll to db", logging.String("device", deviceId))
		if err := p.db.UpdateOne(ctx, store.Points, bson.M{"id": deviceId}, bson.M{"points": fresh}); err != nil {
			p.log.Error("poll update failed", logging.String("device", deviceId), logging.Err(err))
			metrics.DBErrors.WithLabelValues("updateOne").Inc()
			continue
		}
	}

	p.log.Info("point polling completed")
	return nil
}

// refresh reads the three fields the Poller is allowed to touch, starting
// from prior (the point's existing document, if any) and overwriting only
// the fields whose read succeeded. A failed read leaves that field exactly
// as it was on the prior document, since the update $sets the whole points
// map wholesale.
func (p *Poller) refresh(ctx context.Context, entry model.ObjectGraphEntry, prior bson.M) bson.M {
	point := make(bson.M, len(prior)+2)
	for k, v := range prior {
		point[k] = v
	}
	point["id"] = entry.Point
	point["device"] = []string{entry.Name, entry.Id}

	if value, ok := p.readString(ctx, entry, "presentValue"); ok {
		point["value"] = value
		metrics.PointsPolled.Inc()
	}
	if status, ok := p.readString(ctx, entry, "statusFlags"); ok {
		point["status"] = status
		metrics.PointsPolled.Inc()
	}
	if reliability, ok := p.readString(ctx, entry, "reliability"); ok {
		point["reliability"] = reliability
		metrics.PointsPolled.Inc()
	}
	point["lastSynced"] = p.clock().Format("2006-01-02T15:04:05-0700")

	return point
}

func (p *Poller) readString(ctx context.Context, entry model.ObjectGraphEntry, property string) (string, bool) {
	v, err := p.reader.Read(ctx, entry.Address, entry.Point, property)
	if err != nil {
		p.log.Debug("poll read failed", logging.String("point", entry.Point), logging.String("property", property), logging.Err(err))
		metrics.ReadFailures.WithLabelValues("poller").Inc()
		return "", false
	}
	return fmt.Sprintf("%v", v), true
}
