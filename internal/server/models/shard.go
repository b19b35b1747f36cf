package models

import (
	"encoding/json"
	"time"
)

// Shard is the persisted form of one bounded container of an owner's items.
// Items holds the encoded item set; the remaining fields are derived from it
// at commit time so backends can filter and order without decoding.
type Shard struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Prefix string `json:"prefix"`
	// Seq is the creation order within the (Owner, Prefix) group.
	Seq int64 `json:"seq"`

	Items      json.RawMessage `json:"items"`
	ItemCount  int             `json:"item_count"`
	SizeBytes  int             `json:"size_bytes"`
	FillFactor float64         `json:"fill_factor"`
	// MaxChanged is the largest last_changed of the contained items.
	MaxChanged int64 `json:"max_changed"`

	// Version is bumped by every successful save; a save is only accepted
	// when the stored version still equals the one the shard was loaded with.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`

	// ETag is the object-store revision, unused by SQL backends.
	ETag string `json:"-"`
}

// ShardRef names one stored revision of a shard without its items. Backends
// list refs cheaply so cached shards can be checked against storage.
type ShardRef struct {
	ID      string
	Prefix  string
	Version int64
	// ETag is set by object stores and then takes precedence over Version.
	ETag string
}
