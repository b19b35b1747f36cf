// Package store is the local item database of the synk CLI. Items are kept
// in SQLite together with the changes not yet pushed and a sync marker.
// Remote values are merged with the same last-write-wins rule the server
// applies.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/synk/internal/client/migrations"
	"github.com/dmitrijs2005/synk/internal/client/models"
	"github.com/dmitrijs2005/synk/internal/client/repositories/items"
	"github.com/dmitrijs2005/synk/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/dbx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

type Store struct {
	db       *sql.DB
	items    items.Repository
	metadata metadata.Repository
}

// Pending is the set of local changes to push.
type Pending struct {
	Upserts []models.Item
	Deletes []models.Item
}

func (p Pending) Empty() bool { return len(p.Upserts) == 0 && len(p.Deletes) == 0 }

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps SQLite free of "database is locked"
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}

	return &Store{
		db:       db,
		items:    items.NewSQLiteRepository(db),
		metadata: metadata.NewSQLiteRepository(db),
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put records a local change of it.
func (s *Store) Put(ctx context.Context, it models.Item) error {
	if !models.ValidID(it.ID) {
		return fmt.Errorf("%w: id must be 32 characters in [0-9a-f]", common.ErrorInvalidSchema)
	}
	if it.Status < 0 || it.LastChanged < 0 {
		return fmt.Errorf("%w: status and last_changed must be non-negative", common.ErrorInvalidSchema)
	}
	return s.items.Upsert(ctx, models.LocalItem{Item: it, Dirty: true})
}

// Remove turns the item into a tombstone stamped at. It fails with
// common.ErrorNotFound when the item is not known locally.
func (s *Store) Remove(ctx context.Context, id string, at int64) error {
	cur, err := s.items.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Deleted {
		return common.ErrorNotFound
	}
	cur.LastChanged = at
	cur.Dirty, cur.Deleted = true, true
	return s.items.Upsert(ctx, *cur)
}

// All returns the live items ordered by id.
func (s *Store) All(ctx context.Context) ([]models.Item, error) {
	return s.items.List(ctx)
}

func (s *Store) Pending(ctx context.Context) (Pending, error) {
	rows, err := s.items.Pending(ctx)
	if err != nil {
		return Pending{}, err
	}

	var p Pending
	for _, r := range rows {
		if r.Deleted {
			p.Deletes = append(p.Deletes, r.Item)
		} else {
			p.Upserts = append(p.Upserts, r.Item)
		}
	}
	return p, nil
}

// Acknowledge marks pushed changes as synced. Rows changed again since the
// push keep their dirty flag.
func (s *Store) Acknowledge(ctx context.Context, p Pending) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := items.NewSQLiteRepository(tx)
		for _, it := range p.Upserts {
			if err := repo.ClearDirty(ctx, it.ID, it.LastChanged); err != nil {
				return err
			}
		}
		for _, it := range p.Deletes {
			if err := repo.DeleteTombstone(ctx, it.ID, it.LastChanged); err != nil {
				return err
			}
		}
		return nil
	})
}

// Merge applies remote items: a remote value replaces the local one only if
// it changed strictly later. It returns how many rows changed.
func (s *Store) Merge(ctx context.Context, remote []models.Item) (int, error) {
	applied := 0
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := items.NewSQLiteRepository(tx)
		for _, it := range remote {
			cur, err := repo.Get(ctx, it.ID)
			switch {
			case errors.Is(err, common.ErrorNotFound):
			case err != nil:
				return err
			case it.LastChanged <= cur.LastChanged:
				continue
			}
			if err := repo.Upsert(ctx, models.LocalItem{Item: it}); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// Prune drops clean local items missing from a full remote listing.
func (s *Store) Prune(ctx context.Context, remote []models.Item) (int, error) {
	keep := make(map[string]struct{}, len(remote))
	for _, it := range remote {
		keep[it.ID] = struct{}{}
	}

	var n int
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = items.NewSQLiteRepository(tx).DeleteCleanExcept(ctx, keep)
		return err
	})
	return n, err
}

// LastSync returns the sync marker; ok is false before the first pull.
func (s *Store) LastSync(ctx context.Context) (int64, bool, error) {
	return s.metadata.GetInt(ctx, metadata.KeyLastSync)
}

func (s *Store) SetLastSync(ctx context.Context, v int64) error {
	return s.metadata.SetInt(ctx, metadata.KeyLastSync, v)
}

// Bind records the user the store belongs to. A store bound to another user
// is refused so items never leak between accounts.
func (s *Store) Bind(ctx context.Context, user string) error {
	cur, ok, err := s.metadata.GetString(ctx, metadata.KeyUser)
	if err != nil {
		return err
	}
	if ok && cur != user {
		return fmt.Errorf("local store belongs to %q, not %q", cur, user)
	}
	if ok {
		return nil
	}
	return s.metadata.SetString(ctx, metadata.KeyUser, user)
}
