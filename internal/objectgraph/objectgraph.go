// Package objectgraph implements the Object Graph (C7): a persisted
// device-to-point map written atomically (temp file, then rename over the
// old file) by the Point Inventory and read by the Poller. The file format is implementation
// chosen (§4.7); this gateway uses gob rather than a bespoke text format,
// since no external consumer depends on the exact bytes. The decoded graph
// is held in an in-memory ristretto cache between writes so the Poller's
// every-cycle Read does not re-open and re-decode the file when nothing has
// changed since the last Point Inventory cycle.
package objectgraph

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/model"
)

// FileName is the object graph's file name under the resource directory.
const FileName = "object-graph.gob"

// cacheKey is the single entry this Store's cache ever holds; there is
// exactly one object graph per resource directory.
const cacheKey = "object-graph"

// Store owns the on-disk object graph file; Write is called only by the
// Point Inventory, Read only by the Poller, but both may run from any
// goroutine so access is serialized here regardless.
type Store struct {
	mu    sync.Mutex
	path  string
	log   logging.Logger
	cache *ristretto.Cache
}

// New builds a Store rooted at resourceDir.
func New(resourceDir string) *Store {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		cache = nil
	}
	return &Store{
		path:  filepath.Join(resourceDir, FileName),
		log:   logging.GetLogger().WithField("log", "objectgraph"),
		cache: cache,
	}
}

// Write replaces the object graph file with graph: it encodes graph into a
// temporary file beside it and renames that over the old file, so a reader
// never sees a partially written graph.
func (s *Store) Write(graph model.ObjectGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return apperrors.New(apperrors.KindDB, "creating object graph temp file", err)
	}
	if err := gob.NewEncoder(f).Encode(graph); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperrors.New(apperrors.KindDB, "encoding object graph", err)
	}
	if err := f.Close(); err != nil {
		return apperrors.New(apperrors.KindDB, "closing object graph temp file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperrors.New(apperrors.KindDB, "replacing object graph file", err)
	}

	if s.cache != nil {
		s.cache.Set(cacheKey, graph, 1)
		s.cache.Wait()
	}
	s.log.Debug("object graph written", logging.Int("devices", len(graph)))
	return nil
}

// Read returns the object graph, preferring the in-memory cache populated by
// the last Write and falling back to decoding the on-disk file on a cache
// miss (process start, or a cache eviction). A missing file is not an
// error: it returns an empty graph, matching the bootstrap case where C9
// runs before C8 has completed its first cycle.
func (s *Store) Read() (model.ObjectGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey); ok {
			return cached.(model.ObjectGraph), nil
		}
	}

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return model.ObjectGraph{}, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindDB, "opening object graph file", err)
	}
	defer f.Close()

	var graph model.ObjectGraph
	if err := gob.NewDecoder(f).Decode(&graph); err != nil {
		return nil, apperrors.New(apperrors.KindDB, "decoding object graph", err)
	}

	if s.cache != nil {
		s.cache.Set(cacheKey, graph, 1)
		s.cache.Wait()
	}
	return graph, nil
}
