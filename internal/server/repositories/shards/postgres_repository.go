package shards

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/dbx"
	"github.com/dmitrijs2005/synk/internal/server/models"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectShards = `SELECT id, owner, prefix, seq, items, item_count, size_bytes, fill_factor, max_changed, version, updated_at
		FROM shards
		`

func (r *PostgresRepository) GetByPrefix(ctx context.Context, owner, prefix string) ([]*models.Shard, error) {
	query := selectShards + `WHERE owner = $1 AND prefix = $2
		ORDER BY seq`

	return r.query(ctx, query, owner, prefix)
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, owner string) ([]*models.Shard, error) {
	query := selectShards + `WHERE owner = $1
		ORDER BY prefix, seq`

	return r.query(ctx, query, owner)
}

func (r *PostgresRepository) Refs(ctx context.Context, owner string) ([]models.ShardRef, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, prefix, version
		FROM shards
		WHERE owner = $1
		ORDER BY prefix, seq`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to select shard refs: %w", err)
	}
	defer rows.Close()

	var result []models.ShardRef
	for rows.Next() {
		var ref models.ShardRef
		if err := rows.Scan(&ref.ID, &ref.Prefix, &ref.Version); err != nil {
			return nil, fmt.Errorf("scan shard ref: %w", err)
		}
		result = append(result, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to select shard refs: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Shard, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select shards: %w", err)
	}
	defer rows.Close()

	var result []*models.Shard
	for rows.Next() {
		var (
			s     models.Shard
			items []byte
		)
		err := rows.Scan(&s.ID, &s.Owner, &s.Prefix, &s.Seq, &items, &s.ItemCount, &s.SizeBytes,
			&s.FillFactor, &s.MaxChanged, &s.Version, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan shard: %w", err)
		}
		s.Items = items
		result = append(result, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to select shards: %w", err)
	}

	return result, nil
}

// Save writes all shards in one transaction; either every shard is stored or
// none is.
func (r *PostgresRepository) Save(ctx context.Context, shards ...*models.Shard) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, s := range shards {
			if err := upsert(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, s := range shards {
		s.Version++
	}
	return nil
}

func upsert(ctx context.Context, db dbx.DBTX, s *models.Shard) error {

	query :=
		`INSERT INTO shards (id, owner, prefix, seq, items, item_count, size_bytes, fill_factor, max_changed, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id)
		DO UPDATE SET
			items = EXCLUDED.items,
			item_count = EXCLUDED.item_count,
			size_bytes = EXCLUDED.size_bytes,
			fill_factor = EXCLUDED.fill_factor,
			max_changed = EXCLUDED.max_changed,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
			WHERE shards.version = $12;
		`

	res, err := db.ExecContext(ctx, query, s.ID, s.Owner, s.Prefix, s.Seq, string(s.Items), s.ItemCount, s.SizeBytes,
		s.FillFactor, s.MaxChanged, s.Version+1, s.UpdatedAt, s.Version)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	switch n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("shard %s: %w", s.ID, common.ErrVersionConflict)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
