package engine

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/synk/internal/server/models"
)

// Limits bound the size of a single shard.
type Limits struct {
	MaxItems int
	MaxBytes int
}

const (
	// encoded size of {"id":"<32>","status":,"last_changed":} without digits
	itemOverhead = 35 + IDLength

	// both integers at their widest (19 digits each)
	maxItemLen = itemOverhead + 2*19

	// "[" and "]"
	arrayOverhead = 2
)

// PutOutcome is the result of Shard.Put.
type PutOutcome int

const (
	Inserted PutOutcome = iota
	Updated
	// Full means the shard could not take the item; route it elsewhere.
	Full
)

func (o PutOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Full:
		return "full"
	default:
		return "PutOutcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Shard holds up to Limits.MaxItems items of one owner whose ids share a
// prefix. Its serialized size is tracked incrementally and always equals the
// length of what PrepareCommit would encode.
//
// A Shard is not safe for concurrent use; the Coordinator serializes access
// per owner.
type Shard struct {
	id     string
	owner  string
	prefix string
	seq    int64
	limits Limits

	items     map[string]models.Item
	itemBytes int

	// committed state
	fill       float64
	maxChanged int64
	version    int64
	etag       string
	updatedAt  time.Time

	key groupKey
}

func newShard(id, owner, prefix string, seq int64, limits Limits) *Shard {
	return &Shard{
		id:     id,
		owner:  owner,
		prefix: prefix,
		seq:    seq,
		limits: limits,
		items:  make(map[string]models.Item),
		key:    groupKey{seq: seq, id: id},
	}
}

// shardFromRecord decodes a persisted shard.
func shardFromRecord(rec *models.Shard, limits Limits) (*Shard, error) {
	s := newShard(rec.ID, rec.Owner, rec.Prefix, rec.Seq, limits)

	var items []models.Item
	if len(rec.Items) > 0 {
		if err := json.Unmarshal(rec.Items, &items); err != nil {
			return nil, fmt.Errorf("decode shard %s: %w", rec.ID, err)
		}
	}
	for _, it := range items {
		if _, dup := s.items[it.ID]; dup {
			return nil, fmt.Errorf("decode shard %s: duplicate id %s", rec.ID, it.ID)
		}
		s.items[it.ID] = it
		s.itemBytes += encodedLen(it)
	}

	s.fill = rec.FillFactor
	s.maxChanged = rec.MaxChanged
	s.version = rec.Version
	s.etag = rec.ETag
	s.updatedAt = rec.UpdatedAt
	s.key = groupKey{fill: s.fill, seq: s.seq, id: s.id}
	return s, nil
}

func (s *Shard) ID() string           { return s.id }
func (s *Shard) Prefix() string       { return s.prefix }
func (s *Shard) Seq() int64           { return s.seq }
func (s *Shard) Len() int             { return len(s.items) }
func (s *Shard) FillFactor() float64  { return s.fill }
func (s *Shard) MaxChanged() int64    { return s.maxChanged }
func (s *Shard) UpdatedAt() time.Time { return s.updatedAt }
func (s *Shard) Version() int64       { return s.version }

// SizeBytes is the serialized size of the current contents.
func (s *Shard) SizeBytes() int {
	n := arrayOverhead + s.itemBytes
	if len(s.items) > 1 {
		n += len(s.items) - 1
	}
	return n
}

func (s *Shard) Has(id string) bool {
	_, ok := s.items[id]
	return ok
}

func (s *Shard) Get(id string) (models.Item, bool) {
	it, ok := s.items[id]
	return it, ok
}

// IsFull reports whether a new id can no longer be accepted: the item count
// reached MaxItems, or an item of maximal size would not fit in MaxBytes.
func (s *Shard) IsFull() bool {
	if len(s.items) >= s.limits.MaxItems {
		return true
	}
	return s.SizeBytes()+1+maxItemLen > s.limits.MaxBytes
}

// Put stores it unconditionally. A new id is refused with Full when the shard
// IsFull; an overwrite is refused with Full when the grown value would not fit
// in MaxBytes, in which case the caller must move the item.
func (s *Shard) Put(it models.Item) PutOutcome {
	size := encodedLen(it)

	old, exists := s.items[it.ID]
	if !exists {
		if s.IsFull() {
			return Full
		}
		s.items[it.ID] = it
		s.itemBytes += size
		return Inserted
	}

	delta := size - encodedLen(old)
	if s.SizeBytes()+delta > s.limits.MaxBytes {
		return Full
	}
	s.items[it.ID] = it
	s.itemBytes += delta
	return Updated
}

// Delete removes id and reports whether it was present.
func (s *Shard) Delete(id string) bool {
	old, ok := s.items[id]
	if !ok {
		return false
	}
	delete(s.items, id)
	s.itemBytes -= encodedLen(old)
	return true
}

// Items returns the contents ordered by id.
func (s *Shard) Items() []models.Item {
	out := make([]models.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b models.Item) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// PrepareCommit re-serializes the shard and returns the record to persist,
// with size, fill factor and max timestamp recomputed. The shard itself is
// not changed until FinishCommit.
func (s *Shard) PrepareCommit(now time.Time) (*models.Shard, error) {
	items := s.Items()

	var maxChanged int64
	for _, it := range items {
		maxChanged = max(maxChanged, it.LastChanged)
	}

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode shard %s: %w", s.id, err)
	}

	return &models.Shard{
		ID:         s.id,
		Owner:      s.owner,
		Prefix:     s.prefix,
		Seq:        s.seq,
		Items:      data,
		ItemCount:  len(items),
		SizeBytes:  len(data),
		FillFactor: float64(len(data)) / float64(s.limits.MaxBytes),
		MaxChanged: maxChanged,
		Version:    s.version,
		UpdatedAt:  now,
		ETag:       s.etag,
	}, nil
}

// FinishCommit adopts the derived fields of a successfully saved record.
func (s *Shard) FinishCommit(rec *models.Shard) {
	s.fill = rec.FillFactor
	s.maxChanged = rec.MaxChanged
	s.version = rec.Version
	s.etag = rec.ETag
	s.updatedAt = rec.UpdatedAt
}

// matches reports whether ref names the revision this shard last committed.
func (s *Shard) matches(ref models.ShardRef) bool {
	if ref.ETag != "" {
		return ref.ETag == s.etag
	}
	return ref.Version == s.version
}

func encodedLen(it models.Item) int {
	return itemOverhead + digits(it.Status) + digits(it.LastChanged)
}

func digits(n int64) int {
	return len(strconv.FormatInt(n, 10))
}
