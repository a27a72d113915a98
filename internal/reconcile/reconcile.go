// Package reconcile implements the commit-reconciliation table shared by
// the Device Inventory (C6) and the Point Inventory (C8): given the
// current database document count and the in-memory item set, decide
// whether to bulk-insert, replace-all, or split into insert/replace
// subsets, per §4.6. Stale database records are never deleted — absence
// from the network does not imply the record should be removed (§9).
package reconcile

import (
	"context"
	"sort"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
)

// Ops is the minimal set of database operations the reconciler needs,
// supplied by the caller so C6 and C8 can each bind it to their own
// collection without this package depending on internal/store directly.
type Ops struct {
	// Count returns the current document count for the collection. If it
	// errors, the reconciler falls through to a bulk insert (§7 DBError
	// (count) policy).
	Count func(ctx context.Context) (int, error)
	// ExistingIds returns the ids currently stored, used only when the two
	// sets diverge in size.
	ExistingIds func(ctx context.Context) ([]string, error)
	InsertMany  func(ctx context.Context, docs []interface{}) error
	InsertOne   func(ctx context.Context, doc interface{}) error
	ReplaceOne  func(ctx context.Context, id string, doc interface{}) error
}

// Item is one in-memory record awaiting commit.
type Item struct {
	Id  string
	Doc interface{}
}

var log = logging.GetLogger().WithField("log", "reconcile")

// Commit runs the §4.6 reconciliation table against items. Individual
// insert/replace failures are logged and skipped (§7 DBError
// (insert/replace) policy); they do not abort the remaining commits.
func Commit(ctx context.Context, ops Ops, items []Item) error {
	n, err := ops.Count(ctx)
	if err != nil {
		log.Error("document count failed, falling through to bulk insert", logging.Err(err))
		return bulkInsert(ctx, ops, items)
	}

	switch {
	case n == 0:
		return bulkInsert(ctx, ops, items)

	case n == len(items):
		for _, item := range items {
			replaceOne(ctx, ops, item)
		}
		return nil

	case n < len(items):
		existing, err := ops.ExistingIds(ctx)
		if err != nil {
			return apperrors.New(apperrors.KindDB, "listing existing ids", err)
		}
		existingSet := toSet(existing)
		for _, item := range items {
			if existingSet[item.Id] {
				replaceOne(ctx, ops, item)
			} else {
				insertOne(ctx, ops, item)
			}
		}
		return nil

	default: // n > len(items): replace the intersection only, delete nothing
		existing, err := ops.ExistingIds(ctx)
		if err != nil {
			return apperrors.New(apperrors.KindDB, "listing existing ids", err)
		}
		existingSet := toSet(existing)
		for _, item := range items {
			if existingSet[item.Id] {
				replaceOne(ctx, ops, item)
			}
		}
		return nil
	}
}

func bulkInsert(ctx context.Context, ops Ops, items []Item) error {
	docs := make([]interface{}, len(items))
	for i, item := range items {
		docs[i] = item.Doc
	}
	if err := ops.InsertMany(ctx, docs); err != nil {
		log.Error("bulk insert failed", logging.Err(err))
		return apperrors.New(apperrors.KindDB, "bulk insert", err)
	}
	return nil
}

func insertOne(ctx context.Context, ops Ops, item Item) {
	if err := ops.InsertOne(ctx, item.Doc); err != nil {
		log.Error("insert failed", logging.String("id", item.Id), logging.Err(err))
	}
}

func replaceOne(ctx context.Context, ops Ops, item Item) {
	if err := ops.ReplaceOne(ctx, item.Id, item.Doc); err != nil {
		log.Error("replace failed", logging.String("id", item.Id), logging.Err(err))
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// SortedIds returns item ids in sorted order; callers building
// deterministic test fixtures can use this instead of relying on map
// iteration order.
func SortedIds(items []Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.Id
	}
	sort.Strings(ids)
	return ids
}
