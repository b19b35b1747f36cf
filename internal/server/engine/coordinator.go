package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/logging"
	"github.com/dmitrijs2005/synk/internal/server/models"
)

// Default cache bounds used when Settings leaves them zero.
const (
	DefaultCacheOwners = 1024
	DefaultCacheTTL    = 10 * time.Minute
)

// Settings tune shard routing and capacity.
type Settings struct {
	PrefixLen int
	MaxItems  int
	MaxBytes  int

	// CacheOwners bounds how many owners keep their shards cached.
	CacheOwners int
	// CacheTTL drops the cached shards of an owner idle for this long.
	CacheTTL time.Duration
}

// Validate checks that the settings describe a usable deployment.
func (s Settings) Validate() error {
	if s.PrefixLen < 1 || s.PrefixLen > IDLength {
		return fmt.Errorf("prefix length must be in [1, %d], got %d", IDLength, s.PrefixLen)
	}
	if s.MaxItems < 1 {
		return fmt.Errorf("max items must be positive, got %d", s.MaxItems)
	}
	if floor := arrayOverhead + maxItemLen; s.MaxBytes < floor {
		return fmt.Errorf("max bytes must be at least %d, got %d", floor, s.MaxBytes)
	}
	if s.CacheOwners < 0 {
		return fmt.Errorf("cache owners must not be negative, got %d", s.CacheOwners)
	}
	if s.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative, got %s", s.CacheTTL)
	}
	return nil
}

func (s Settings) cache() CacheSettings {
	c := CacheSettings{Owners: s.CacheOwners, TTL: s.CacheTTL}
	if c.Owners == 0 {
		c.Owners = DefaultCacheOwners
	}
	if c.TTL == 0 {
		c.TTL = DefaultCacheTTL
	}
	return c
}

// Coordinator runs the sync protocol for authenticated owners.
type Coordinator struct {
	backend  Backend
	index    *ShardIndex
	merge    *MergeEngine
	settings Settings
	logger   logging.Logger
	now      func() time.Time
}

func NewCoordinator(b Backend, settings Settings, logger logging.Logger) (*Coordinator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	ix := NewShardIndex(b, Limits{MaxItems: settings.MaxItems, MaxBytes: settings.MaxBytes}, settings.cache())
	return &Coordinator{
		backend:  b,
		index:    ix,
		merge:    NewMergeEngine(ix),
		settings: settings,
		logger:   logger.With("module", "engine"),
		now:      time.Now,
	}, nil
}

// FetchAll returns every item of owner ordered by prefix, then shard, then id.
func (c *Coordinator) FetchAll(ctx context.Context, owner string) ([]models.Item, error) {
	unlock := c.index.Lock(owner)
	defer unlock()
	if err := c.index.Refresh(ctx, owner); err != nil {
		return nil, c.fail(ctx, owner, "fetch", err)
	}

	groups, err := c.index.All(ctx, owner)
	if err != nil {
		return nil, c.fail(ctx, owner, "fetch", err)
	}

	items := make([]models.Item, 0)
	for _, g := range groups {
		for _, s := range g.Shards() {
			items = append(items, s.Items()...)
		}
	}

	c.logger.Info(ctx, "fetch", "owner", owner, "items", len(items))
	return items, nil
}

// FetchSince returns the contents of every shard whose newest item changed at
// or after since. When no shard qualifies the most recently committed shard
// is returned instead, so the result is empty only for an owner without items.
func (c *Coordinator) FetchSince(ctx context.Context, owner string, since int64) ([]models.Item, error) {
	unlock := c.index.Lock(owner)
	defer unlock()
	if err := c.index.Refresh(ctx, owner); err != nil {
		return nil, c.fail(ctx, owner, "fetch", err)
	}

	groups, err := c.index.All(ctx, owner)
	if err != nil {
		return nil, c.fail(ctx, owner, "fetch", err)
	}

	var (
		items  = make([]models.Item, 0)
		hits   int
		latest *Shard
	)
	for _, g := range groups {
		for _, s := range g.Shards() {
			if s.MaxChanged() >= since {
				items = append(items, s.Items()...)
				hits++
			}
			if latest == nil || newer(s, latest) {
				latest = s
			}
		}
	}
	if hits == 0 && latest != nil {
		items = append(items, latest.Items()...)
	}

	c.logger.Info(ctx, "fetch", "owner", owner, "since", since, "shards", hits, "items", len(items))
	return items, nil
}

func newer(a, b *Shard) bool {
	if !a.UpdatedAt().Equal(b.UpdatedAt()) {
		return a.UpdatedAt().After(b.UpdatedAt())
	}
	if a.Prefix() != b.Prefix() {
		return a.Prefix() > b.Prefix()
	}
	return a.Seq() > b.Seq()
}

// UpsertBatch validates a raw upsert body and merges it. Nothing is applied
// unless every element is valid.
func (c *Coordinator) UpsertBatch(ctx context.Context, owner string, raw []byte) (added, updated int, err error) {
	items, err := ParseItems(raw)
	if err != nil {
		return 0, 0, err
	}
	return c.Upsert(ctx, owner, items)
}

// Upsert merges already decoded items.
func (c *Coordinator) Upsert(ctx context.Context, owner string, items []models.Item) (added, updated int, err error) {
	for i, it := range items {
		if err := ValidateItem(it); err != nil {
			return 0, 0, schemaErr(i+1, "%v", err)
		}
	}

	byPrefix := make(map[string][]models.Item)
	for _, it := range items {
		p := Prefix(it.ID, c.settings.PrefixLen)
		byPrefix[p] = append(byPrefix[p], it)
	}
	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	slices.Sort(prefixes)

	unlock := c.index.Lock(owner)
	defer unlock()
	if err := c.index.Refresh(ctx, owner); err != nil {
		return 0, 0, c.fail(ctx, owner, "upsert", err)
	}

	t := newTouched()
	for _, p := range prefixes {
		stats, err := c.merge.Merge(ctx, owner, p, byPrefix[p], t)
		if err != nil {
			return 0, 0, c.fail(ctx, owner, "upsert", err)
		}
		added += stats.Added
		updated += stats.Updated
	}

	if err := c.commit(ctx, owner, t); err != nil {
		return 0, 0, c.fail(ctx, owner, "upsert", err)
	}

	c.logger.Info(ctx, "upsert", "owner", owner, "items", len(items), "added", added, "updated", updated, "shards", len(t.shards))
	return added, updated, nil
}

// DeleteBatch validates a raw delete body and removes the listed ids.
func (c *Coordinator) DeleteBatch(ctx context.Context, owner string, raw []byte) (int, error) {
	ids, err := ParseIDs(raw)
	if err != nil {
		return 0, err
	}
	return c.Delete(ctx, owner, ids)
}

// Delete removes ids from whichever shard holds them. Unknown ids are skipped.
func (c *Coordinator) Delete(ctx context.Context, owner string, ids []string) (int, error) {
	for i, id := range ids {
		if !ValidID(id) {
			return 0, schemaErr(i+1, "id must be 32 characters in [0-9a-f]")
		}
	}

	prefixes := make([]string, 0, len(ids))
	for _, id := range ids {
		prefixes = append(prefixes, Prefix(id, c.settings.PrefixLen))
	}
	slices.Sort(prefixes)
	prefixes = slices.Compact(prefixes)

	unlock := c.index.Lock(owner)
	defer unlock()
	if err := c.index.Refresh(ctx, owner); err != nil {
		return 0, c.fail(ctx, owner, "delete", err)
	}

	groups, err := c.index.Lookup(ctx, owner, prefixes)
	if err != nil {
		return 0, c.fail(ctx, owner, "delete", err)
	}

	t := newTouched()
	deleted := 0
	for _, id := range ids {
		g, ok := groups[Prefix(id, c.settings.PrefixLen)]
		if !ok {
			continue
		}
		s, err := g.find(id)
		if err != nil {
			return 0, c.fail(ctx, owner, "delete", err)
		}
		if s != nil && s.Delete(id) {
			t.add(s)
			deleted++
		}
	}

	if err := c.commit(ctx, owner, t); err != nil {
		return 0, c.fail(ctx, owner, "delete", err)
	}

	c.logger.Info(ctx, "delete", "owner", owner, "ids", len(ids), "deleted", deleted)
	return deleted, nil
}

// commit persists every touched shard in one Save and, on success, moves the
// committed state into the cached shards.
func (c *Coordinator) commit(ctx context.Context, owner string, t *touched) error {
	if len(t.shards) == 0 {
		return nil
	}

	now := c.now().UTC()
	recs := make([]*models.Shard, 0, len(t.shards))
	for _, s := range t.shards {
		rec, err := s.PrepareCommit(now)
		if err != nil {
			return err
		}
		if rec.ItemCount > c.settings.MaxItems || rec.SizeBytes > c.settings.MaxBytes {
			return fmt.Errorf("%w: shard %s over capacity (%d items, %d bytes)",
				ErrCorruptGroup, s.ID(), rec.ItemCount, rec.SizeBytes)
		}
		recs = append(recs, rec)
	}

	if err := c.backend.Save(ctx, recs...); err != nil {
		if errors.Is(err, common.ErrVersionConflict) || errors.Is(err, common.ErrorPersistence) {
			return err
		}
		return fmt.Errorf("%w: %w", common.ErrorPersistence, err)
	}

	for i, s := range t.shards {
		s.FinishCommit(recs[i])
		c.index.Committed(owner, s)
	}
	return nil
}

// fail drops the owner's cached shards, which may hold uncommitted changes,
// and logs err.
func (c *Coordinator) fail(ctx context.Context, owner, op string, err error) error {
	c.index.Evict(owner)

	switch {
	case errors.Is(err, ErrCorruptGroup), errors.Is(err, errNoCapacity):
		c.logger.Error(ctx, op+" aborted", "owner", owner, "error", err)
	case errors.Is(err, common.ErrVersionConflict):
		c.logger.Warn(ctx, op+" conflict", "owner", owner, "error", err)
	default:
		if !errors.Is(err, common.ErrorPersistence) && !isSchema(err) {
			err = fmt.Errorf("%w: %w", common.ErrorPersistence, err)
		}
		c.logger.Error(ctx, op+" failed", "owner", owner, "error", err)
	}
	return err
}

func isSchema(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// ShardStat summarizes one committed shard.
type ShardStat struct {
	ID         string  `json:"id"`
	Prefix     string  `json:"prefix"`
	Seq        int64   `json:"seq"`
	Items      int     `json:"items"`
	SizeBytes  int     `json:"size_bytes"`
	FillFactor float64 `json:"fill_factor"`
}

// Stats describes the shard layout of owner, fullest shard of each group first.
func (c *Coordinator) Stats(ctx context.Context, owner string) ([]ShardStat, error) {
	unlock := c.index.Lock(owner)
	defer unlock()
	if err := c.index.Refresh(ctx, owner); err != nil {
		return nil, c.fail(ctx, owner, "stats", err)
	}

	groups, err := c.index.All(ctx, owner)
	if err != nil {
		return nil, c.fail(ctx, owner, "stats", err)
	}
	out := make([]ShardStat, 0)
	for _, g := range groups {
		for _, s := range g.Shards() {
			out = append(out, ShardStat{
				ID:         s.ID(),
				Prefix:     s.Prefix(),
				Seq:        s.Seq(),
				Items:      s.Len(),
				SizeBytes:  s.SizeBytes(),
				FillFactor: s.FillFactor(),
			})
		}
	}
	return out, nil
}
