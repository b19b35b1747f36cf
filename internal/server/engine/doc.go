// Package engine is the synk storage engine.
//
// Every owner's items are routed by the first PrefixLen hex characters of
// their id into a ShardGroup: an ordered list of bounded Shards. A shard is
// full when it holds MaxItems items or when one more item of maximal encoded
// size would push its serialized form past MaxBytes; inserts that find the
// least-full shard full open a new shard instead of failing.
//
// Conflicts are resolved per item by last-write-wins on last_changed, with a
// strict comparison so ties keep the stored value. The merge is idempotent
// and commutative, which makes a whole batch safe to replay after a failed
// commit.
//
// The Coordinator serializes read-modify-write access per owner. Requests for
// different owners never contend on the same lock. Backends additionally
// reject stale writes through the shard version, so a second process writing
// the same owner surfaces as common.ErrVersionConflict instead of a lost
// update.
package engine
