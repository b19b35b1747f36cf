package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/synk/internal/client/client"
	"github.com/dmitrijs2005/synk/internal/client/models"
	"github.com/dmitrijs2005/synk/internal/client/store"
	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	id1 = "c4ca4238a0b923820dcc509a6f75849b"
	id2 = "c81e728d9d4c2f636f067f89cc14862c"
	id3 = "eccbc87e4b5ce2fe28308fd9f2a7baf3"
)

type fakeClient struct {
	remote     map[string]models.Item
	upserts    [][]models.Item
	deletes    [][]string
	sinces     []int64
	upsertErrs []error
	fetchErr   error
}

func newFakeClient(items ...models.Item) *fakeClient {
	f := &fakeClient{remote: map[string]models.Item{}}
	for _, it := range items {
		f.remote[it.ID] = it
	}
	return f
}

func (f *fakeClient) Register(context.Context, string, string) error { return nil }
func (f *fakeClient) Ping(context.Context) error                     { return nil }
func (f *fakeClient) Verify(context.Context) error                   { return nil }

func (f *fakeClient) Fetch(_ context.Context, since int64) ([]models.Item, error) {
	f.sinces = append(f.sinces, since)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]models.Item, 0)
	for _, it := range f.remote {
		if it.LastChanged >= since {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeClient) Upsert(_ context.Context, items []models.Item) (client.UpsertResult, error) {
	if len(f.upsertErrs) > 0 {
		err := f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		if err != nil {
			return client.UpsertResult{}, err
		}
	}
	f.upserts = append(f.upserts, items)
	var res client.UpsertResult
	for _, it := range items {
		cur, ok := f.remote[it.ID]
		switch {
		case !ok:
			res.Added++
		case it.LastChanged > cur.LastChanged:
			res.Updated++
		default:
			continue
		}
		f.remote[it.ID] = it
	}
	return res, nil
}

func (f *fakeClient) Delete(_ context.Context, ids []string) (int, error) {
	f.deletes = append(f.deletes, ids)
	n := 0
	for _, id := range ids {
		if _, ok := f.remote[id]; ok {
			delete(f.remote, id)
			n++
		}
	}
	return n, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "synk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPush_SendsChangesOnce(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	fc := newFakeClient(models.Item{ID: id3, Status: 0, LastChanged: 1})
	svc := NewSyncService(fc, st)

	require.NoError(t, st.Put(ctx, models.Item{ID: id1, Status: 1, LastChanged: 10}))
	_, err := st.Merge(ctx, []models.Item{{ID: id3, Status: 0, LastChanged: 1}})
	require.NoError(t, err)
	require.NoError(t, st.Remove(ctx, id3, 11))

	res, err := svc.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Added: 1, Deleted: 1}, res)
	assert.Equal(t, [][]string{{id3}}, fc.deletes)

	res, err = svc.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushResult{}, res)
	assert.Len(t, fc.upserts, 1)
}

func TestPush_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	fc := newFakeClient()
	fc.upsertErrs = []error{fmt.Errorf("%w: busy", common.ErrVersionConflict), nil}
	svc := &syncService{client: fc, store: st}

	require.NoError(t, st.Put(ctx, models.Item{ID: id1, Status: 1, LastChanged: 10}))

	res, err := svc.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
}

func TestPush_GivesUpOnSchemaError(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	fc := newFakeClient()
	fc.upsertErrs = []error{fmt.Errorf("%w: item 1", common.ErrorInvalidSchema)}
	svc := &syncService{client: fc, store: st}

	require.NoError(t, st.Put(ctx, models.Item{ID: id1, Status: 1, LastChanged: 10}))

	_, err := svc.Push(ctx)
	assert.ErrorIs(t, err, common.ErrorInvalidSchema)

	p, err := st.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, p.Upserts, 1)
}

func TestPull_IncrementalAfterFirst(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	fc := newFakeClient(
		models.Item{ID: id1, Status: 1, LastChanged: 100},
		models.Item{ID: id2, Status: 2, LastChanged: 200},
	)
	svc := NewSyncService(fc, st)

	res, err := svc.Pull(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Fetched: 2, Applied: 2, Marker: 200}, res)

	fc.remote[id1] = models.Item{ID: id1, Status: 5, LastChanged: 300}
	res, err = svc.Pull(ctx, false)
	require.NoError(t, err)
	// the boundary item comes back and is ignored by the merge
	assert.Equal(t, PullResult{Fetched: 2, Applied: 1, Marker: 300}, res)
	assert.Equal(t, []int64{0, 200}, fc.sinces)

	all, err := st.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Item{
		{ID: id1, Status: 5, LastChanged: 300},
		{ID: id2, Status: 2, LastChanged: 200},
	}, all)
}

func TestPull_FullPrunes(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	fc := newFakeClient(
		models.Item{ID: id1, Status: 1, LastChanged: 100},
		models.Item{ID: id2, Status: 2, LastChanged: 200},
	)
	svc := NewSyncService(fc, st)

	_, err := svc.Pull(ctx, false)
	require.NoError(t, err)

	// another device deleted id2
	delete(fc.remote, id2)

	res, err := svc.Pull(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pruned)
	assert.Equal(t, int64(200), res.Marker)

	all, err := st.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Item{{ID: id1, Status: 1, LastChanged: 100}}, all)
}

func TestPull_Unavailable(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	fc.fetchErr = client.ErrUnavailable
	svc := &syncService{client: fc, store: openStore(t)}

	_, err := svc.Pull(ctx, false)
	assert.ErrorIs(t, err, client.ErrUnavailable)
	assert.Len(t, fc.sinces, maxAttempts)
}

func TestSync_ConvergesTwoDevices(t *testing.T) {
	ctx := context.Background()
	fc := newFakeClient()
	a := NewSyncService(fc, openStore(t))
	b := NewSyncService(fc, openStore(t))
	storeA := a.(*syncService).store.(*store.Store)
	storeB := b.(*syncService).store.(*store.Store)

	require.NoError(t, storeA.Put(ctx, models.Item{ID: id1, Status: 1, LastChanged: 100}))
	require.NoError(t, storeB.Put(ctx, models.Item{ID: id1, Status: 2, LastChanged: 150}))

	for _, svc := range []SyncService{a, b, a} {
		_, _, err := svc.Sync(ctx, false)
		require.NoError(t, err)
	}

	wantItems := []models.Item{{ID: id1, Status: 2, LastChanged: 150}}
	for _, st := range []*store.Store{storeA, storeB} {
		all, err := st.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantItems, all)
	}
}
