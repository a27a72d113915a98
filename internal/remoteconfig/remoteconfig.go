// Package remoteconfig implements the Remote Config Reconciler (C10): a
// one-time bootstrap that mirrors the local .ini file into the
// Configuration collection keyed by nukid, followed by a long-lived
// change-stream subscription that drains queued update events and writes
// each changed (section, option) pair back to the Config Store and the
// .ini file. Grounded on RemoteManagement.py's ScheduledUpdateManager and
// EventManager.
package remoteconfig

import (
	"context"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/config"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

// Reconciler is the Remote Config Reconciler (C10).
type Reconciler struct {
	cfg   *config.Store
	db    store.Database
	nukid string
	log   logging.Logger

	mu          sync.Mutex
	queue       []bson.M
	resumeToken bson.Raw
}

// New builds a Reconciler mirroring cfg to db's Configuration collection
// under the device identified by nukid.
func New(cfg *config.Store, db store.Database, nukid string) *Reconciler {
	return &Reconciler{
		cfg:   cfg,
		db:    db,
		nukid: nukid,
		log:   logging.GetLogger().WithField("log", "remoteconfig"),
	}
}

// Bootstrap implements the one-time lookup/insert sequence: if no document
// matches device.nukid, the local config is inserted as the seed document;
// otherwise nothing is written; either way the caller proceeds to Watch.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	existing, err := r.db.FindOne(ctx, store.Configuration, bson.M{"device.nukid": r.nukid})
	if err != nil {
		return apperrors.New(apperrors.KindDB, "looking up remote configuration", err)
	}
	r.log.Debug("remote configuration lookup", logging.Any("found", existing != nil))

	if existing == nil {
		if err := r.db.InsertOne(ctx, store.Configuration, r.snapshotDoc()); err != nil {
			return apperrors.New(apperrors.KindDB, "seeding remote configuration", err)
		}
	}
	return nil
}

func (r *Reconciler) snapshotDoc() bson.M {
	doc := bson.M{}
	for section, options := range r.cfg.Snapshot() {
		opts := bson.M{}
		for k, v := range options {
			opts[k] = v
		}
		doc[section] = opts
	}
	return doc
}

// Watch opens a change stream filtered to operationType=="update" on the
// Configuration collection and processes events until ctx is cancelled.
// On a stream error it reopens using the last seen resume token, or from
// the current position if none has been seen yet.
func (r *Reconciler) Watch(ctx context.Context) error {
	pipeline := bson.A{bson.M{"$match": bson.M{"operationType": "update"}}}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		stream, err := r.db.Watch(ctx, store.Configuration, pipeline, r.resumeToken)
		if err != nil {
			r.log.Error("opening change stream failed", logging.Err(err))
			return apperrors.New(apperrors.KindChangeStream, "watch Configuration", err)
		}

		r.drain(ctx, stream)
		stream.Close(ctx)

		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn("change stream closed, reopening from last resume token")
	}
}

func (r *Reconciler) drain(ctx context.Context, stream store.ChangeStream) {
	for stream.Next(ctx) {
		var event bson.M
		if err := stream.Decode(&event); err != nil {
			r.log.Error("decoding change stream event failed", logging.Err(err))
			continue
		}
		r.resumeToken = stream.ResumeToken()
		r.ingest(event)
	}
	if err := stream.Err(); err != nil {
		r.log.Error("change stream error", logging.Err(err))
	}
}

// ingest queues an event and immediately processes the queue, mirroring
// EventManager.ingest's append-then-process-soon behavior without needing
// a separate scheduled callback since Go has no cooperative event loop to
// defer onto.
func (r *Reconciler) ingest(event bson.M) {
	r.mu.Lock()
	r.queue = append(r.queue, event)
	r.mu.Unlock()
	r.process()
}

// process drains every queued event, walking each one's
// updateDescription.updatedFields dotted paths and writing the resulting
// (section, option, value) triples to the Config Store and the .ini file.
func (r *Reconciler) process() {
	r.mu.Lock()
	events := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, event := range events {
		desc, ok := event["updateDescription"].(bson.M)
		if !ok {
			continue
		}
		updated, ok := desc["updatedFields"].(bson.M)
		if !ok {
			continue
		}
		r.log.Debug("update-fields", logging.Any("fields", updated))
		for path, value := range updated {
			section, option, ok := splitPath(path)
			if !ok {
				r.log.Debug("skipping malformed updated field path", logging.String("path", path))
				continue
			}
			if err := r.cfg.WriteOption(section, option, value); err != nil {
				r.log.Error("writing remote configuration change failed",
					logging.String("section", section), logging.String("option", option), logging.Err(err))
			}
		}
	}
}

func splitPath(path string) (section, option string, ok bool) {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
