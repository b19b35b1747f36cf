// Package items persists the local copy of a user's items in SQLite. Rows
// carry a dirty flag for changes not yet acknowledged by the server and a
// deleted flag for tombstones waiting to be pushed.
package items

import (
	"context"

	"github.com/dmitrijs2005/synk/internal/client/models"
)

type Repository interface {
	// Get returns the row for id, tombstones included, or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.LocalItem, error)

	// Upsert inserts or fully replaces the row for it.ID.
	Upsert(ctx context.Context, it models.LocalItem) error

	// List returns the live rows ordered by id.
	List(ctx context.Context) ([]models.Item, error)

	// Pending returns dirty rows, tombstones included, ordered by id.
	Pending(ctx context.Context) ([]models.LocalItem, error)

	// ClearDirty acknowledges a pushed value. Rows changed since the push,
	// i.e. with a different last_changed, stay dirty.
	ClearDirty(ctx context.Context, id string, lastChanged int64) error

	// DeleteTombstone drops the tombstone of id if it is still the one pushed.
	DeleteTombstone(ctx context.Context, id string, lastChanged int64) error

	// DeleteCleanExcept drops clean live rows whose id is not in keep and
	// returns how many were removed.
	DeleteCleanExcept(ctx context.Context, keep map[string]struct{}) (int, error)
}
