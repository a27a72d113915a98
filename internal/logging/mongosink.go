package logging

import (
	"context"
	"time"

	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

// MongoSink posts log entries to the Logs collection (§6), matching the
// "each log record is a JSON document ... posted to the Logs collection"
// requirement without a second database client. Each entry is inserted
// synchronously, so a slow or unreachable Logs collection holds the calling
// task for at most the per-write timeout; failed posts are dropped.
type MongoSink struct {
	db      store.Database
	ctx     context.Context
	timeout time.Duration
}

// NewMongoSink builds a sink writing through db with a bounded per-write
// timeout.
func NewMongoSink(ctx context.Context, db store.Database) *MongoSink {
	return &MongoSink{db: db, ctx: ctx, timeout: 5 * time.Second}
}

// Accept implements Sink.
func (s *MongoSink) Accept(entry map[string]interface{}) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	_ = s.db.InsertOne(ctx, store.Logs, entry)
}
