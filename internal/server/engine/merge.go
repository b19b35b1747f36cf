package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/synk/internal/server/models"
)

var (
	// ErrCorruptGroup means an id was found in two shards of one group.
	ErrCorruptGroup = errors.New("shard group invariant violated")

	errNoCapacity = errors.New("no shard accepted the item")
)

// MergeStats counts what a merge changed.
type MergeStats struct {
	Added   int
	Updated int
}

// touched collects shards modified during one request, in first-touch order.
type touched struct {
	seen   map[*Shard]struct{}
	shards []*Shard
}

func newTouched() *touched {
	return &touched{seen: make(map[*Shard]struct{})}
}

func (t *touched) add(s *Shard) {
	if _, ok := t.seen[s]; ok {
		return
	}
	t.seen[s] = struct{}{}
	t.shards = append(t.shards, s)
}

// MergeEngine applies last-write-wins per item to a shard group.
type MergeEngine struct {
	index *ShardIndex
}

func NewMergeEngine(ix *ShardIndex) *MergeEngine {
	return &MergeEngine{index: ix}
}

// Merge folds items, all sharing prefix, into the owner's group. Items are
// applied in ascending (last_changed, status) order so duplicates within one
// batch settle on the same value whatever order they arrived in. An existing
// value is replaced only by a strictly newer last_changed.
func (m *MergeEngine) Merge(ctx context.Context, owner, prefix string, items []models.Item, t *touched) (MergeStats, error) {
	var stats MergeStats

	ordered := slices.Clone(items)
	slices.SortStableFunc(ordered, func(a, b models.Item) int {
		if c := cmp.Compare(a.LastChanged, b.LastChanged); c != 0 {
			return c
		}
		return cmp.Compare(a.Status, b.Status)
	})

	group, err := m.index.group(ctx, owner, prefix)
	if err != nil {
		return stats, err
	}

	for _, it := range ordered {
		holder, err := group.find(it.ID)
		if err != nil {
			return stats, err
		}

		if holder == nil {
			if err := m.insert(ctx, owner, prefix, group, it, t); err != nil {
				return stats, err
			}
			stats.Added++
			continue
		}

		existing, _ := holder.Get(it.ID)
		if it.LastChanged <= existing.LastChanged {
			continue
		}

		switch holder.Put(it) {
		case Updated:
			t.add(holder)
		case Full:
			// the grown value no longer fits; move it to a shard with room
			holder.Delete(it.ID)
			t.add(holder)
			if err := m.insert(ctx, owner, prefix, group, it, t); err != nil {
				return stats, err
			}
		default:
			return stats, fmt.Errorf("%w: overwrite of %s inserted", ErrCorruptGroup, it.ID)
		}
		stats.Updated++
	}

	return stats, nil
}

// insert places a new id into the group's insertion target. Every refusal
// makes the refusing shard full, so the index hands out a different shard
// next time; the number of attempts is bounded by the group size plus one.
func (m *MergeEngine) insert(ctx context.Context, owner, prefix string, g *ShardGroup, it models.Item, t *touched) error {
	for range g.Len() + 1 {
		target, err := m.index.InsertionTarget(ctx, owner, prefix)
		if err != nil {
			return err
		}
		if target.Put(it) == Inserted {
			t.add(target)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", errNoCapacity, it.ID)
}
