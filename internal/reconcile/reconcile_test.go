package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	docs map[string]interface{}
}

func newFakeDB(seed map[string]interface{}) *fakeDB {
	d := &fakeDB{docs: make(map[string]interface{})}
	for k, v := range seed {
		d.docs[k] = v
	}
	return d
}

func (f *fakeDB) ops() Ops {
	return Ops{
		Count: func(ctx context.Context) (int, error) {
			return len(f.docs), nil
		},
		ExistingIds: func(ctx context.Context) ([]string, error) {
			ids := make([]string, 0, len(f.docs))
			for id := range f.docs {
				ids = append(ids, id)
			}
			return ids, nil
		},
		InsertMany: func(ctx context.Context, docs []interface{}) error {
			for _, d := range docs {
				item := d.(Item)
				f.docs[item.Id] = item.Doc
			}
			return nil
		},
		InsertOne: func(ctx context.Context, doc interface{}) error {
			item := doc.(Item)
			f.docs[item.Id] = item.Doc
			return nil
		},
		ReplaceOne: func(ctx context.Context, id string, doc interface{}) error {
			item := doc.(Item)
			f.docs[id] = item.Doc
			return nil
		},
	}
}

func items(ids ...string) []Item {
	out := make([]Item, len(ids))
	for i, id := range ids {
		out[i] = Item{Id: id, Doc: Item{Id: id, Doc: id + "-doc"}}
	}
	return out
}

func TestEmptyDBBootstrap(t *testing.T) {
	// S1
	db := newFakeDB(nil)
	require.NoError(t, Commit(context.Background(), db.ops(), items("device,1234", "device,5678")))
	assert.Len(t, db.docs, 2)
	assert.Contains(t, db.docs, "device,1234")
	assert.Contains(t, db.docs, "device,5678")
}

func TestGrowDB(t *testing.T) {
	// S2
	db := newFakeDB(map[string]interface{}{"device,1234": "old"})
	require.NoError(t, Commit(context.Background(), db.ops(), items("device,1234", "device,5678")))
	assert.Len(t, db.docs, 2)
	assert.Equal(t, "device,1234-doc", db.docs["device,1234"])
	assert.Equal(t, "device,5678-doc", db.docs["device,5678"])
}

func TestShrinkNetworkNeverDeletes(t *testing.T) {
	// S3
	db := newFakeDB(map[string]interface{}{"device,1234": "old", "device,5678": "old"})
	require.NoError(t, Commit(context.Background(), db.ops(), items("device,1234")))
	assert.Len(t, db.docs, 2)
	assert.Equal(t, "device,1234-doc", db.docs["device,1234"])
	assert.Equal(t, "old", db.docs["device,5678"])
}

func TestCountErrorFallsThroughToBulkInsert(t *testing.T) {
	calledInsertMany := false
	ops := Ops{
		Count: func(ctx context.Context) (int, error) {
			return 0, assert.AnError
		},
		InsertMany: func(ctx context.Context, docs []interface{}) error {
			calledInsertMany = true
			return nil
		},
	}
	require.NoError(t, Commit(context.Background(), ops, items("device,1")))
	assert.True(t, calledInsertMany)
}

func TestReconciliationIsIdempotent(t *testing.T) {
	db := newFakeDB(nil)
	set := items("device,1234", "device,5678")
	require.NoError(t, Commit(context.Background(), db.ops(), set))
	first := map[string]interface{}{}
	for k, v := range db.docs {
		first[k] = v
	}
	require.NoError(t, Commit(context.Background(), db.ops(), set))
	assert.Equal(t, first, db.docs)
}
