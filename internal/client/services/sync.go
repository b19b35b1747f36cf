// Package services holds the client-side use cases of the synk CLI: pushing
// local changes, pulling remote ones and merging them into the local store.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/synk/internal/client/client"
	"github.com/dmitrijs2005/synk/internal/client/models"
	"github.com/dmitrijs2005/synk/internal/client/store"
	"github.com/dmitrijs2005/synk/internal/common"
)

// Store is the part of the local store the sync service needs.
type Store interface {
	Pending(ctx context.Context) (store.Pending, error)
	Acknowledge(ctx context.Context, p store.Pending) error
	Merge(ctx context.Context, remote []models.Item) (int, error)
	Prune(ctx context.Context, remote []models.Item) (int, error)
	LastSync(ctx context.Context) (int64, bool, error)
	SetLastSync(ctx context.Context, v int64) error
}

type PushResult struct {
	Added   int
	Updated int
	Deleted int
}

type PullResult struct {
	Fetched int
	Applied int
	Pruned  int
	Marker  int64
}

type SyncService interface {
	Push(ctx context.Context) (PushResult, error)
	Pull(ctx context.Context, full bool) (PullResult, error)
	Sync(ctx context.Context, full bool) (PushResult, PullResult, error)
}

const (
	maxAttempts  = 3
	retryBackoff = 200 * time.Millisecond
)

type syncService struct {
	client  client.Client
	store   Store
	backoff time.Duration
}

func NewSyncService(c client.Client, s Store) SyncService {
	return &syncService{client: c, store: s, backoff: retryBackoff}
}

// retry repeats fn while the server reports a retryable failure.
func (s *syncService) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil || !retryable(err) || attempt == maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, common.ErrVersionConflict) || errors.Is(err, client.ErrUnavailable)
}

// Push sends dirty items and tombstones. Each half is acknowledged locally as
// soon as the server accepted it.
func (s *syncService) Push(ctx context.Context) (PushResult, error) {
	var res PushResult

	p, err := s.store.Pending(ctx)
	if err != nil {
		return res, fmt.Errorf("error retrieving pending items: %w", err)
	}

	if len(p.Upserts) > 0 {
		err := s.retry(ctx, func() error {
			r, err := s.client.Upsert(ctx, p.Upserts)
			res.Added, res.Updated = r.Added, r.Updated
			return err
		})
		if err != nil {
			return res, fmt.Errorf("push items: %w", err)
		}
		if err := s.store.Acknowledge(ctx, store.Pending{Upserts: p.Upserts}); err != nil {
			return res, err
		}
	}

	if len(p.Deletes) > 0 {
		ids := make([]string, 0, len(p.Deletes))
		for _, it := range p.Deletes {
			ids = append(ids, it.ID)
		}
		err := s.retry(ctx, func() error {
			n, err := s.client.Delete(ctx, ids)
			res.Deleted = n
			return err
		})
		if err != nil {
			return res, fmt.Errorf("push deletes: %w", err)
		}
		if err := s.store.Acknowledge(ctx, store.Pending{Deletes: p.Deletes}); err != nil {
			return res, err
		}
	}

	return res, nil
}

// Pull fetches items changed since the last marker, or everything when full
// is set or no marker exists yet, and merges them last-write-wins. A full
// pull also drops clean local items the server no longer has.
func (s *syncService) Pull(ctx context.Context, full bool) (PullResult, error) {
	var res PullResult

	marker, ok, err := s.store.LastSync(ctx)
	if err != nil {
		return res, err
	}
	since := marker
	if full || !ok {
		since = 0
	}

	var remote []models.Item
	err = s.retry(ctx, func() error {
		var err error
		remote, err = s.client.Fetch(ctx, since)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}
	res.Fetched = len(remote)

	if res.Applied, err = s.store.Merge(ctx, remote); err != nil {
		return res, err
	}
	if since == 0 {
		if res.Pruned, err = s.store.Prune(ctx, remote); err != nil {
			return res, err
		}
	}

	for _, it := range remote {
		marker = max(marker, it.LastChanged)
	}
	if err := s.store.SetLastSync(ctx, marker); err != nil {
		return res, err
	}
	res.Marker = marker

	return res, nil
}

func (s *syncService) Sync(ctx context.Context, full bool) (PushResult, PullResult, error) {
	push, err := s.Push(ctx)
	if err != nil {
		return push, PullResult{}, err
	}
	pull, err := s.Pull(ctx, full)
	return push, pull, err
}
