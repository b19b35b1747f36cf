package shards

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/server/models"
)

// MemoryRepository keeps shards in process memory. Save is atomic across all
// shards passed to one call.
type MemoryRepository struct {
	mu     sync.RWMutex
	shards map[string]*models.Shard
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{shards: make(map[string]*models.Shard)}
}

func clone(s *models.Shard) *models.Shard {
	c := *s
	c.Items = slices.Clone(s.Items)
	return &c
}

func (r *MemoryRepository) GetByPrefix(_ context.Context, owner, prefix string) ([]*models.Shard, error) {
	return r.filter(func(s *models.Shard) bool { return s.Owner == owner && s.Prefix == prefix }), nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, owner string) ([]*models.Shard, error) {
	return r.filter(func(s *models.Shard) bool { return s.Owner == owner }), nil
}

func (r *MemoryRepository) Refs(_ context.Context, owner string) ([]models.ShardRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ShardRef
	for _, s := range r.shards {
		if s.Owner == owner {
			out = append(out, models.ShardRef{ID: s.ID, Prefix: s.Prefix, Version: s.Version})
		}
	}
	return out, nil
}

func (r *MemoryRepository) filter(keep func(*models.Shard) bool) []*models.Shard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Shard
	for _, s := range r.shards {
		if keep(s) {
			out = append(out, clone(s))
		}
	}
	slices.SortFunc(out, func(a, b *models.Shard) int {
		if c := cmp.Compare(a.Prefix, b.Prefix); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}

func (r *MemoryRepository) Save(_ context.Context, shards ...*models.Shard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range shards {
		var stored int64
		if cur, ok := r.shards[s.ID]; ok {
			stored = cur.Version
		}
		if stored != s.Version {
			return fmt.Errorf("shard %s at version %d, have %d: %w", s.ID, stored, s.Version, common.ErrVersionConflict)
		}
	}

	for _, s := range shards {
		s.Version++
		r.shards[s.ID] = clone(s)
	}
	return nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }
