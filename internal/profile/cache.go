package profile

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/hyperjump/hondana/internal/models"
)

// profileCache holds computed profiles per user until their TTL expires or the user is
// invalidated. Each entry costs 1, so capacity is a profile count.
//
// Every del bumps the user's generation. A profile built from interactions read under
// an older generation is not stored.
type profileCache struct {
	cache *ristretto.Cache[string, *models.UserBehaviorProfile]
	ttl   time.Duration

	mu   sync.Mutex
	gens map[string]uint64
}

func newProfileCache(capacity int, ttl time.Duration) (*profileCache, error) {
	if capacity <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *models.UserBehaviorProfile]{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}
	return &profileCache{cache: c, ttl: ttl, gens: make(map[string]uint64)}, nil
}

func (c *profileCache) get(userID string) (*models.UserBehaviorProfile, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(userID)
}

// generation must be read before the interactions a profile is built from.
func (c *profileCache) generation(userID string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID]
}

// set stores p unless the user was invalidated since gen was read.
func (c *profileCache) set(p *models.UserBehaviorProfile, gen uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[p.UserID] != gen {
		return
	}
	c.cache.SetWithTTL(p.UserID, p, 1, c.ttl)
	// Make the entry visible to the next get; sets are otherwise buffered.
	c.cache.Wait()
}

func (c *profileCache) del(userID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[userID]++
	c.cache.Del(userID)
}

func (c *profileCache) close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
