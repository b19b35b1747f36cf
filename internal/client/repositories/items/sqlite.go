package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/synk/internal/client/models"
	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.LocalItem, error) {
	query := `SELECT id, status, last_changed, dirty, deleted FROM items WHERE id = ?`

	it := &models.LocalItem{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&it.ID, &it.Status, &it.LastChanged, &it.Dirty, &it.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return it, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, it models.LocalItem) error {
	query := `INSERT INTO items (id, status, last_changed, dirty, deleted)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET status = excluded.status,
				last_changed = excluded.last_changed,
				dirty = excluded.dirty,
				deleted = excluded.deleted
	`
	_, err := r.db.ExecContext(ctx, query, it.ID, it.Status, it.LastChanged, it.Dirty, it.Deleted)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.Item, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, status, last_changed FROM items WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	result := make([]models.Item, 0)
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Status, &it.LastChanged); err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Pending(ctx context.Context) ([]models.LocalItem, error) {
	query := `SELECT id, status, last_changed, dirty, deleted FROM items WHERE dirty = 1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}
	defer rows.Close()

	var pending []models.LocalItem
	for rows.Next() {
		var it models.LocalItem
		if err := rows.Scan(&it.ID, &it.Status, &it.LastChanged, &it.Dirty, &it.Deleted); err != nil {
			return nil, err
		}
		pending = append(pending, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pending, nil
}

func (r *SQLiteRepository) ClearDirty(ctx context.Context, id string, lastChanged int64) error {
	query := `UPDATE items SET dirty = 0 WHERE id = ? AND last_changed = ? AND deleted = 0`
	if _, err := r.db.ExecContext(ctx, query, id, lastChanged); err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTombstone(ctx context.Context, id string, lastChanged int64) error {
	query := `DELETE FROM items WHERE id = ? AND last_changed = ? AND deleted = 1`
	if _, err := r.db.ExecContext(ctx, query, id, lastChanged); err != nil {
		return fmt.Errorf("failed to delete tombstone: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCleanExcept(ctx context.Context, keep map[string]struct{}) (int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM items WHERE dirty = 0 AND deleted = 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to select clean items: %w", err)
	}

	var drop []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := keep[id]; !ok {
			drop = append(drop, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range drop {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = ? AND dirty = 0`, id); err != nil {
			return 0, fmt.Errorf("failed to delete item %s: %w", id, err)
		}
	}
	return len(drop), nil
}
