// Package cache provides the byte-level cache used to keep hot workflow
// versions out of the database: an in-memory implementation for tests and
// single-node deployments, and a Redis-backed one for shared deployments.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/relaydev/relay/common/logger"
)

// Cache is a TTL'd key-value store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Memory is an in-process cache.
type Memory struct {
	data map[string]*memoryEntry
	mu   sync.RWMutex
	log  *logger.Logger
	done chan struct{}
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates an in-process cache with background expiry.
func NewMemory(log *logger.Logger) *Memory {
	c := &Memory{
		data: make(map[string]*memoryEntry),
		log:  log,
		done: make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get retrieves a live value.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with a TTL.
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes a key.
func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Close stops the expiry loop and drops all entries.
func (c *Memory) Close() error {
	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*memoryEntry)
	return nil
}

func (c *Memory) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.data {
				if now.After(entry.expiresAt) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
