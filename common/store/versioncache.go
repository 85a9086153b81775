package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/relaydev/relay/common/cache"
	"github.com/relaydev/relay/common/logger"
	"github.com/relaydev/relay/common/models"
)

// versionCache decorates a Store with read-through caching of workflow
// versions by id. Versions are immutable, so cached rows never go stale;
// "latest" lookups intentionally bypass the cache.
type versionCache struct {
	Store
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// WithVersionCache wraps a store with a version-by-id cache.
func WithVersionCache(inner Store, c cache.Cache, ttl time.Duration, log *logger.Logger) Store {
	return &versionCache{
		Store: inner,
		cache: c,
		ttl:   ttl,
		log:   log,
	}
}

func versionCacheKey(id uuid.UUID) string {
	return "relay:wfv:" + id.String()
}

func (s *versionCache) GetWorkflowVersion(ctx context.Context, id uuid.UUID) (*models.WorkflowVersion, error) {
	key := versionCacheKey(id)

	if raw, found, err := s.cache.Get(ctx, key); err == nil && found {
		var version models.WorkflowVersion
		if err := json.Unmarshal(raw, &version); err == nil {
			return &version, nil
		}
		s.log.Warn("dropping undecodable cached version", "key", key)
		_ = s.cache.Delete(ctx, key)
	}

	version, err := s.Store.GetWorkflowVersion(ctx, id)
	if err != nil || version == nil {
		return version, err
	}

	if raw, err := json.Marshal(version); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.log.Warn("version cache write failed", "key", key, "error", err)
		}
	}
	return version, nil
}
