package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/server/models"
)

// fakeBackend keeps shard records in memory and enforces versions the way
// the real repositories do.
type fakeBackend struct {
	mu      sync.Mutex
	shards  map[string]*models.Shard
	saveErr error
	getErr  error
	saves   int
	loads   int

	// afterRefs runs once, outside the lock, after the next Refs call.
	afterRefs func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{shards: make(map[string]*models.Shard)}
}

func cloneShard(s *models.Shard) *models.Shard {
	c := *s
	c.Items = slices.Clone(s.Items)
	return &c
}

func (f *fakeBackend) GetByPrefix(_ context.Context, owner, prefix string) ([]*models.Shard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.loads++
	var out []*models.Shard
	for _, s := range f.shards {
		if s.Owner == owner && s.Prefix == prefix {
			out = append(out, cloneShard(s))
		}
	}
	return out, nil
}

func (f *fakeBackend) ListByOwner(_ context.Context, owner string) ([]*models.Shard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.loads++
	var out []*models.Shard
	for _, s := range f.shards {
		if s.Owner == owner {
			out = append(out, cloneShard(s))
		}
	}
	return out, nil
}

func (f *fakeBackend) Refs(_ context.Context, owner string) ([]models.ShardRef, error) {
	f.mu.Lock()
	if f.getErr != nil {
		f.mu.Unlock()
		return nil, f.getErr
	}
	var out []models.ShardRef
	for _, s := range f.shards {
		if s.Owner == owner {
			out = append(out, models.ShardRef{ID: s.ID, Prefix: s.Prefix, Version: s.Version})
		}
	}
	hook := f.afterRefs
	f.afterRefs = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeBackend) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func (f *fakeBackend) Save(_ context.Context, shards ...*models.Shard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	for _, s := range shards {
		var current int64
		if stored, ok := f.shards[s.ID]; ok {
			current = stored.Version
		}
		if current != s.Version {
			return fmt.Errorf("shard %s: %w", s.ID, common.ErrVersionConflict)
		}
	}
	for _, s := range shards {
		s.Version++
		f.shards[s.ID] = cloneShard(s)
	}
	f.saves++
	return nil
}

func (f *fakeBackend) put(s *models.Shard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shards[s.ID] = cloneShard(s)
}
