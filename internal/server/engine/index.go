package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/synk/internal/server/models"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zhangyunhao116/skipmap"
)

// Backend is the persistence collaborator the engine commits to.
type Backend interface {
	// GetByPrefix returns every shard of owner for prefix.
	GetByPrefix(ctx context.Context, owner, prefix string) ([]*models.Shard, error)
	// ListByOwner returns every shard of owner.
	ListByOwner(ctx context.Context, owner string) ([]*models.Shard, error)
	// Refs lists id and version of every shard of owner without items.
	Refs(ctx context.Context, owner string) ([]models.ShardRef, error)
	// Save persists shards, each one atomically, and bumps their Version.
	// A shard whose stored version moved on fails with common.ErrVersionConflict.
	Save(ctx context.Context, shards ...*models.Shard) error
}

// groupKey orders a ShardGroup by descending fill factor, then creation
// order, then shard id. The id makes the key unique within a group.
type groupKey struct {
	fill float64
	seq  int64
	id   string
}

func lessGroupKey(a, b groupKey) bool {
	if a.fill != b.fill {
		return a.fill > b.fill
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.id < b.id
}

// ShardGroup is every shard of one (owner, prefix), kept ordered by
// descending fill factor as of each shard's last commit. The tail is the
// least full shard.
type ShardGroup struct {
	Owner  string
	Prefix string

	shards  *skipmap.FuncMap[groupKey, *Shard]
	nextSeq int64
}

func newShardGroup(owner, prefix string) *ShardGroup {
	return &ShardGroup{
		Owner:  owner,
		Prefix: prefix,
		shards: skipmap.NewFunc[groupKey, *Shard](lessGroupKey),
	}
}

func (g *ShardGroup) Len() int { return g.shards.Len() }

// Shards returns the group in order, fullest first.
func (g *ShardGroup) Shards() []*Shard {
	out := make([]*Shard, 0, g.shards.Len())
	g.shards.Range(func(_ groupKey, s *Shard) bool {
		out = append(out, s)
		return true
	})
	return out
}

func (g *ShardGroup) add(s *Shard) error {
	if _, loaded := g.shards.LoadOrStore(s.key, s); loaded {
		return fmt.Errorf("%w: shard %s listed twice in %s/%s", ErrCorruptGroup, s.id, g.Owner, g.Prefix)
	}
	if s.seq >= g.nextSeq {
		g.nextSeq = s.seq + 1
	}
	return nil
}

// reposition moves s to the place its committed fill factor dictates.
func (g *ShardGroup) reposition(s *Shard) {
	next := groupKey{fill: s.fill, seq: s.seq, id: s.id}
	if next == s.key {
		return
	}
	g.shards.Delete(s.key)
	s.key = next
	g.shards.Store(next, s)
}

// find returns the shard holding id. At most one shard of a group may hold a
// given id; anything else means the group is corrupt.
func (g *ShardGroup) find(id string) (*Shard, error) {
	var found *Shard
	var err error
	g.shards.Range(func(_ groupKey, s *Shard) bool {
		if !s.Has(id) {
			return true
		}
		if found != nil {
			err = fmt.Errorf("%w: id %s in shards %s and %s", ErrCorruptGroup, id, found.id, s.id)
			return false
		}
		found = s
		return true
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// leastFull returns the last non-full shard in group order, or nil.
func (g *ShardGroup) leastFull() *Shard {
	var target *Shard
	g.shards.Range(func(_ groupKey, s *Shard) bool {
		if !s.IsFull() {
			target = s
		}
		return true
	})
	return target
}

// matches reports whether the cached group is the stored revision described
// by refs. Shards that were opened but never committed are not in storage
// and are ignored.
func (g *ShardGroup) matches(refs []models.ShardRef) bool {
	want := make(map[string]models.ShardRef, len(refs))
	for _, r := range refs {
		want[r.ID] = r
	}
	same := true
	seen := 0
	g.shards.Range(func(_ groupKey, s *Shard) bool {
		if s.version == 0 && s.etag == "" {
			return true
		}
		r, ok := want[s.id]
		if !ok || !s.matches(r) {
			same = false
			return false
		}
		seen++
		return true
	})
	return same && seen == len(want)
}

// ownerShards is the cached view of one owner's groups. mu serializes every
// request for the owner and guards the remaining fields.
type ownerShards struct {
	mu sync.Mutex
	// groups caches loaded groups; a prefix may be stored but not loaded yet.
	groups map[string]*ShardGroup
	// stored lists the committed shards per prefix as of the last refresh.
	stored map[string][]models.ShardRef
	// dropped is set when the owner left the cache while its lock was held.
	dropped atomic.Bool
}

func (o *ownerShards) reset() {
	o.groups = make(map[string]*ShardGroup)
	o.stored = nil
}

// ShardIndex resolves owners and prefixes to shard groups. Groups are kept
// current as shards commit and are checked against the backend's shard refs
// at the start of every request, so only groups another writer changed are
// read again. Callers must hold the owner's lock (see Lock) and call Refresh
// before any other method.
type ShardIndex struct {
	backend Backend
	limits  Limits
	newID   func() string

	// owners holds one entry per owner for the life of the index so that
	// the lock of an owner is never replaced. recent bounds how many of them
	// keep their groups cached.
	owners *skipmap.FuncMap[string, *ownerShards]
	recent *expirable.LRU[string, *ownerShards]
}

// CacheSettings bound the cached shard groups.
type CacheSettings struct {
	// Owners is the number of owners whose groups stay cached.
	Owners int
	// TTL drops the groups of an owner idle for this long. Zero keeps them
	// until evicted by Owners.
	TTL time.Duration
}

func NewShardIndex(b Backend, limits Limits, cache CacheSettings) *ShardIndex {
	ix := &ShardIndex{
		backend: b,
		limits:  limits,
		newID:   uuid.NewString,
		owners:  skipmap.NewFunc[string, *ownerShards](func(a, b string) bool { return a < b }),
	}
	ix.recent = expirable.NewLRU[string, *ownerShards](cache.Owners, dropOwner, cache.TTL)
	return ix
}

// dropOwner runs inside the LRU and must not block on an owner lock.
func dropOwner(_ string, o *ownerShards) {
	if o.mu.TryLock() {
		o.reset()
		o.mu.Unlock()
		return
	}
	o.dropped.Store(true)
}

func (ix *ShardIndex) owner(owner string) *ownerShards {
	o, _ := ix.owners.LoadOrStore(owner, &ownerShards{groups: make(map[string]*ShardGroup)})
	return o
}

// Lock acquires the owner's lock and returns its release function.
func (ix *ShardIndex) Lock(owner string) func() {
	o := ix.owner(owner)
	o.mu.Lock()
	return func() {
		ix.recent.Add(owner, o)
		o.mu.Unlock()
	}
}

// Evict drops the cached groups of owner so the next request reloads them.
func (ix *ShardIndex) Evict(owner string) {
	ix.owner(owner).reset()
}

// Refresh checks the cached groups of owner against the backend's shard refs
// and forgets every group whose stored shards moved on. Forgotten groups are
// read again when the request needs them; unchanged groups keep their order.
func (ix *ShardIndex) Refresh(ctx context.Context, owner string) error {
	o := ix.owner(owner)
	if o.dropped.Swap(false) {
		o.reset()
	}

	refs, err := ix.backend.Refs(ctx, owner)
	if err != nil {
		return fmt.Errorf("list shard refs: %w", err)
	}
	stored := make(map[string][]models.ShardRef)
	for _, r := range refs {
		stored[r.Prefix] = append(stored[r.Prefix], r)
	}

	for prefix, g := range o.groups {
		if !g.matches(stored[prefix]) {
			delete(o.groups, prefix)
		}
	}
	o.stored = stored
	return nil
}

// Lookup returns the existing groups for prefixes. Prefixes without shards
// are absent from the result.
func (ix *ShardIndex) Lookup(ctx context.Context, owner string, prefixes []string) (map[string]*ShardGroup, error) {
	out := make(map[string]*ShardGroup, len(prefixes))
	for _, prefix := range prefixes {
		g, err := ix.group(ctx, owner, prefix)
		if err != nil {
			return nil, err
		}
		if g.Len() > 0 {
			out[prefix] = g
		}
	}
	return out, nil
}

// All returns every non-empty group of owner ordered by prefix.
func (ix *ShardIndex) All(ctx context.Context, owner string) ([]*ShardGroup, error) {
	o := ix.owner(owner)
	if len(o.groups) == 0 && len(o.stored) > 0 {
		recs, err := ix.backend.ListByOwner(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("list shards: %w", err)
		}
		groups, err := ix.build(owner, recs)
		if err != nil {
			return nil, err
		}
		o.groups = groups
	}

	prefixes := slices.Collect(maps.Keys(o.stored))
	for prefix := range o.groups {
		if _, ok := o.stored[prefix]; !ok {
			prefixes = append(prefixes, prefix)
		}
	}
	slices.Sort(prefixes)

	out := make([]*ShardGroup, 0, len(prefixes))
	for _, prefix := range prefixes {
		g, err := ix.group(ctx, owner, prefix)
		if err != nil {
			return nil, err
		}
		if g.Len() > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

// InsertionTarget returns the least-full non-full shard of the group,
// opening a new empty shard at the tail when there is none.
func (ix *ShardIndex) InsertionTarget(ctx context.Context, owner, prefix string) (*Shard, error) {
	g, err := ix.group(ctx, owner, prefix)
	if err != nil {
		return nil, err
	}
	if s := g.leastFull(); s != nil {
		return s, nil
	}
	s := newShard(ix.newID(), owner, prefix, g.nextSeq, ix.limits)
	if err := g.add(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Committed re-orders the group of s after its fill factor changed.
func (ix *ShardIndex) Committed(owner string, s *Shard) {
	if g, ok := ix.owner(owner).groups[s.prefix]; ok {
		g.reposition(s)
	}
}

func (ix *ShardIndex) group(ctx context.Context, owner, prefix string) (*ShardGroup, error) {
	o := ix.owner(owner)
	if g, ok := o.groups[prefix]; ok {
		return g, nil
	}

	g := newShardGroup(owner, prefix)
	if _, ok := o.stored[prefix]; ok {
		recs, err := ix.backend.GetByPrefix(ctx, owner, prefix)
		if err != nil {
			return nil, fmt.Errorf("get shards %s/%s: %w", owner, prefix, err)
		}
		for _, rec := range recs {
			s, err := shardFromRecord(rec, ix.limits)
			if err != nil {
				return nil, err
			}
			if err := g.add(s); err != nil {
				return nil, err
			}
		}
	}
	o.groups[prefix] = g
	return g, nil
}

func (ix *ShardIndex) build(owner string, recs []*models.Shard) (map[string]*ShardGroup, error) {
	groups := make(map[string]*ShardGroup)
	for _, rec := range recs {
		s, err := shardFromRecord(rec, ix.limits)
		if err != nil {
			return nil, err
		}
		g, ok := groups[rec.Prefix]
		if !ok {
			g = newShardGroup(owner, rec.Prefix)
			groups[rec.Prefix] = g
		}
		if err := g.add(s); err != nil {
			return nil, err
		}
	}
	return groups, nil
}
