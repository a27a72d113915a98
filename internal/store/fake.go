package store

import (
	"context"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// FakeDatabase is an in-memory Database used by component tests and by the
// --demo style bootstrap when no real document database is reachable. It
// implements the same reconciliation and watch semantics a real deployment
// relies on, just without a network round trip.
type FakeDatabase struct {
	mu          sync.Mutex
	collections map[string]map[string]bson.M
	watchers    map[string][]chan bson.M
}

// NewFake builds an empty FakeDatabase.
func NewFake() *FakeDatabase {
	return &FakeDatabase{
		collections: make(map[string]map[string]bson.M),
		watchers:    make(map[string][]chan bson.M),
	}
}

func (f *FakeDatabase) coll(name string) map[string]bson.M {
	c, ok := f.collections[name]
	if !ok {
		c = make(map[string]bson.M)
		f.collections[name] = c
	}
	return c
}

func (f *FakeDatabase) Ping(ctx context.Context) error { return nil }

func (f *FakeDatabase) CountDocuments(ctx context.Context, collection string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.coll(collection))), nil
}

func toDoc(v interface{}) bson.M {
	if m, ok := v.(bson.M); ok {
		return m
	}
	b, _ := bson.Marshal(v)
	var m bson.M
	bson.Unmarshal(b, &m)
	return m
}

func (f *FakeDatabase) InsertOne(ctx context.Context, collection string, doc interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := toDoc(doc)
	id, _ := DocId(d)
	f.coll(collection)[id] = d
	f.notify(collection, "insert", d)
	return nil
}

func (f *FakeDatabase) InsertMany(ctx context.Context, collection string, docs []interface{}) error {
	for _, d := range docs {
		if err := f.InsertOne(ctx, collection, d); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeDatabase) FindOneAndReplace(ctx context.Context, collection string, id string, doc interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coll(collection)[id] = toDoc(doc)
	return nil
}

func (f *FakeDatabase) Find(ctx context.Context, collection string, query, projection interface{}) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bson.M
	for _, doc := range f.coll(collection) {
		out = append(out, doc)
	}
	return out, nil
}

func (f *FakeDatabase) FindOne(ctx context.Context, collection string, query interface{}) (bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, _ := query.(bson.M)
	for _, doc := range f.coll(collection) {
		if matches(doc, q) {
			return doc, nil
		}
	}
	return nil, nil
}

func (f *FakeDatabase) UpdateOne(ctx context.Context, collection string, query, update interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, _ := query.(bson.M)
	updates := toDoc(update)
	for id, doc := range f.coll(collection) {
		if matches(doc, q) {
			for k, v := range updates {
				doc[k] = v
			}
			f.coll(collection)[id] = doc
			f.notifyLocked(collection, "update", doc, updates)
			return nil
		}
	}
	return nil
}

func matches(doc bson.M, query bson.M) bool {
	for k, v := range query {
		if fieldAt(doc, k) != v {
			return false
		}
	}
	return true
}

// fieldAt resolves a dotted path ("device.nukid") against nested bson.M
// values, matching the real driver's dot-notation query support.
func fieldAt(doc bson.M, path string) interface{} {
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for _, part := range parts {
		m, ok := cur.(bson.M)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func (f *FakeDatabase) Close(ctx context.Context) error { return nil }

// Watch returns a ChangeStream fed by subsequent InsertOne and UpdateOne
// calls against collection; it is a minimal stand-in for a real change
// stream. pipeline and resumeAfter are not applied, so "insert" events are
// emitted alongside "update" events.
func (f *FakeDatabase) Watch(ctx context.Context, collection string, pipeline interface{}, resumeAfter bson.Raw) (ChangeStream, error) {
	f.mu.Lock()
	ch := make(chan bson.M, 16)
	f.watchers[collection] = append(f.watchers[collection], ch)
	f.mu.Unlock()
	return &fakeChangeStream{ch: ch}, nil
}

func (f *FakeDatabase) notify(collection, op string, doc bson.M) {
	f.notifyLocked(collection, op, doc, nil)
}

func (f *FakeDatabase) notifyLocked(collection, op string, doc bson.M, updatedFields bson.M) {
	for _, ch := range f.watchers[collection] {
		event := bson.M{
			"operationType": op,
			"fullDocument":  doc,
		}
		if updatedFields != nil {
			event["updateDescription"] = bson.M{"updatedFields": updatedFields}
		}
		select {
		case ch <- event:
		default:
		}
	}
}

type fakeChangeStream struct {
	ch      chan bson.M
	current bson.M
}

func (s *fakeChangeStream) Next(ctx context.Context) bool {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return false
		}
		s.current = ev
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *fakeChangeStream) Decode(v interface{}) error {
	b, err := bson.Marshal(s.current)
	if err != nil {
		return err
	}
	return bson.Unmarshal(b, v)
}

func (s *fakeChangeStream) ResumeToken() bson.Raw { return nil }
func (s *fakeChangeStream) Err() error            { return nil }
func (s *fakeChangeStream) Close(ctx context.Context) error {
	return nil
}
