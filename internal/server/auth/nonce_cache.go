package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrReplay = fmt.Errorf("%w: nonce count reused", common.ErrorUnauthorized)

type seenNonce struct {
	nc     uint64
	issued time.Time
}

// NonceCache remembers the last nonce count seen for each nonce. It is
// bounded in size and entries expire with the nonce itself. One cache is
// created per process and shared by all requests.
//
// An evicted entry takes its count history with it, so eviction raises a
// floor to the evicted nonce's issue time. A nonce the cache does not know
// is accepted only if it was issued after the floor; older ones are answered
// with ErrStaleNonce and the client fetches a fresh nonce.
type NonceCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, seenNonce]

	// floorMu is taken inside the LRU's eviction callback and never held
	// while calling into the LRU.
	floorMu sync.Mutex
	floor   time.Time
}

func NewNonceCache(size int, ttl time.Duration) *NonceCache {
	c := &NonceCache{}
	c.lru = expirable.NewLRU[string, seenNonce](size, c.evicted, ttl)
	return c
}

func (c *NonceCache) evicted(_ string, v seenNonce) {
	c.floorMu.Lock()
	defer c.floorMu.Unlock()
	if v.issued.After(c.floor) {
		c.floor = v.issued
	}
}

func (c *NonceCache) Floor() time.Time {
	c.floorMu.Lock()
	defer c.floorMu.Unlock()
	return c.floor
}

// Accept records nc for a nonce issued at issued. A count not strictly
// greater than the last one seen is ErrReplay; an unknown nonce issued at or
// before the floor is ErrStaleNonce.
func (c *NonceCache) Accept(nonce string, issued time.Time, nc uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lru.Get(nonce)
	switch {
	case ok && nc <= last.nc:
		return ErrReplay
	case !ok && !issued.After(c.Floor()):
		return ErrStaleNonce
	}
	c.lru.Add(nonce, seenNonce{nc: nc, issued: issued})
	return nil
}

func (c *NonceCache) Len() int { return c.lru.Len() }

// Purge drops every entry. Purged entries raise the floor like evicted ones.
func (c *NonceCache) Purge() { c.lru.Purge() }
