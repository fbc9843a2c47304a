package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/config"
	"github.com/fluxcart/delta/internal/metrics"
	"github.com/fluxcart/delta/pkg/models"
)

const (
	bucketKeyPrefix = "delta:bucket:"
	staleKeyPrefix  = "delta:stale:"
)

// DeltaCache stores one assembled bucket per customer in warm Redis.
// Entries are written with a single SET of the whole serialized
// bucket, so readers never observe a partial bucket and concurrent
// rebuilds converge last-writer-wins.
//
// Staleness policy: Invalidate sets a stale marker and publishes an
// invalidation message; the next plain Get rebuilds synchronously.
// GetStale is the explicit opt-in for serve-stale-while-revalidating
// callers and returns the last-known bucket flagged Stale.
type DeltaCache struct {
	redis     *redis.Client
	assembler BucketAssemblerInterface
	scores    ScoredProductWriter
	publisher InvalidationPublisher
	config    *config.Config
	logger    *logrus.Logger
}

func NewDeltaCache(
	redisClient *redis.Client,
	assembler BucketAssemblerInterface,
	scores ScoredProductWriter,
	publisher InvalidationPublisher,
	cfg *config.Config,
	logger *logrus.Logger,
) *DeltaCache {
	return &DeltaCache{
		redis:     redisClient,
		assembler: assembler,
		scores:    scores,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}
}

// Get returns the customer's bucket, rebuilding when the entry is
// absent or stale. A fresh cached entry is returned as stored.
func (c *DeltaCache) Get(ctx context.Context, customerKey string) (*models.CustomerBucket, error) {
	bucket, stale, err := c.load(ctx, customerKey)
	if err == nil && !stale {
		metrics.CacheHits.Inc()
		return bucket, nil
	}
	if err != nil && err != models.ErrCacheMiss {
		c.logger.WithError(err).WithField("customer_key", customerKey).
			Warn("Cache entry unreadable, forcing rebuild")
	}
	metrics.CacheMisses.Inc()
	return c.Rebuild(ctx, customerKey, 0)
}

// GetStale returns the last-known bucket even when it is owed a
// rebuild, flagged Stale so the caller can revalidate in the
// background. Misses still rebuild synchronously.
func (c *DeltaCache) GetStale(ctx context.Context, customerKey string) (*models.CustomerBucket, error) {
	bucket, stale, err := c.load(ctx, customerKey)
	if err != nil {
		if err != models.ErrCacheMiss {
			c.logger.WithError(err).WithField("customer_key", customerKey).
				Warn("Cache entry unreadable, forcing rebuild")
		}
		metrics.CacheMisses.Inc()
		return c.Rebuild(ctx, customerKey, 0)
	}
	if stale {
		metrics.StaleServes.Inc()
	} else {
		metrics.CacheHits.Inc()
	}
	bucket.Stale = stale
	return bucket, nil
}

// Rebuild always recomputes the bucket and replaces the cache entry.
// The score snapshot write is best-effort: the cache entry is the
// serving copy, the snapshot only feeds analytics.
func (c *DeltaCache) Rebuild(ctx context.Context, customerKey string, targetSize int) (*models.CustomerBucket, error) {
	start := time.Now()

	bucket, err := c.assembler.AssembleBucket(ctx, customerKey, targetSize)
	if err != nil {
		return nil, err
	}

	if err := c.store(ctx, bucket); err != nil {
		c.logger.WithError(err).WithField("customer_key", customerKey).
			Error("Failed to store rebuilt bucket")
	}

	if c.scores != nil {
		if err := c.scores.SaveBucketScores(ctx, bucket); err != nil {
			c.logger.WithError(err).WithField("customer_key", customerKey).
				Warn("Failed to snapshot bucket scores")
		}
	}

	metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	return bucket, nil
}

// Invalidate marks the entry stale and announces it on the
// invalidation channel. The entry itself is kept for GetStale
// readers; the next Get rebuilds.
func (c *DeltaCache) Invalidate(ctx context.Context, customerKey, reason string) error {
	if err := c.redis.Set(ctx, staleKeyPrefix+customerKey, reason, c.config.Cache.BucketTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark bucket stale: %w", err)
	}

	if c.publisher != nil {
		if err := c.publisher.PublishInvalidation(ctx, customerKey, reason); err != nil {
			c.logger.WithError(err).WithField("customer_key", customerKey).
				Warn("Failed to publish invalidation, relying on stale marker")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"customer_key": customerKey,
		"reason":       reason,
	}).Debug("Bucket invalidated")

	return nil
}

func (c *DeltaCache) load(ctx context.Context, customerKey string) (*models.CustomerBucket, bool, error) {
	data, err := c.redis.Get(ctx, bucketKeyPrefix+customerKey).Result()
	if err == redis.Nil {
		return nil, false, models.ErrCacheMiss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var bucket models.CustomerBucket
	if err := json.Unmarshal([]byte(data), &bucket); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	if err := c.checkEntry(&bucket); err != nil {
		return nil, false, err
	}

	stale, err := c.redis.Exists(ctx, staleKeyPrefix+customerKey).Result()
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read stale marker, treating entry as stale")
		return &bucket, true, nil
	}

	return &bucket, stale > 0, nil
}

func (c *DeltaCache) store(ctx context.Context, bucket *models.CustomerBucket) error {
	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("failed to encode bucket: %w", err)
	}

	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, bucketKeyPrefix+bucket.CustomerKey, data, c.config.Cache.BucketTTL)
	pipe.Del(ctx, staleKeyPrefix+bucket.CustomerKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// checkEntry guards against poisoned entries. An oversized bucket or
// a negative weight version means a bug wrote the entry; the caller
// forces a rebuild.
func (c *DeltaCache) checkEntry(bucket *models.CustomerBucket) error {
	if bucket.Len() > c.config.Scoring.BucketSize {
		return models.NewInvariantViolation("bucket size",
			fmt.Sprintf("cached bucket for %s holds %d candidates, cap is %d",
				bucket.CustomerKey, bucket.Len(), c.config.Scoring.BucketSize))
	}
	if bucket.Weights.Version < 0 {
		return models.NewInvariantViolation("weight version",
			fmt.Sprintf("cached bucket for %s carries negative weight version %d",
				bucket.CustomerKey, bucket.Weights.Version))
	}
	return nil
}
