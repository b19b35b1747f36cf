// Package shards persists shard records for the sync engine.
//
// Every implementation enforces optimistic concurrency on the record's
// Version: Save only writes a shard whose stored version still equals
// rec.Version (zero for a shard that was never saved), and bumps rec.Version
// on success. A mismatch fails with common.ErrVersionConflict.
package shards

import (
	"context"

	"github.com/dmitrijs2005/synk/internal/server/models"
)

type Repository interface {
	GetByPrefix(ctx context.Context, owner, prefix string) ([]*models.Shard, error)
	ListByOwner(ctx context.Context, owner string) ([]*models.Shard, error)
	// Refs lists the shards of owner without their items.
	Refs(ctx context.Context, owner string) ([]models.ShardRef, error)
	Save(ctx context.Context, shards ...*models.Shard) error
	Ping(ctx context.Context) error
}
