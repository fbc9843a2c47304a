package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcart/delta/internal/config"
	"github.com/fluxcart/delta/internal/metrics"
	"github.com/fluxcart/delta/pkg/models"
)

type stubAssembler struct {
	builds  int
	bucket  *models.CustomerBucket
	failErr error
}

func (s *stubAssembler) AssembleBucket(ctx context.Context, customerKey string, targetSize int) (*models.CustomerBucket, error) {
	s.builds++
	if s.failErr != nil {
		return nil, s.failErr
	}
	b := *s.bucket
	b.CustomerKey = customerKey
	return &b, nil
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   2,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(context.Background()).Err())
	return client
}

func testCacheConfig() *config.Config {
	return &config.Config{
		Scoring: config.ScoringConfig{
			BucketSize:       500,
			OracleTimeout:    time.Second,
			FallbackPoolSize: 100,
		},
		Cache: config.CacheConfig{
			BucketTTL:  time.Hour,
			WeightsTTL: time.Minute,
		},
	}
}

func testBucket(customerKey string) *models.CustomerBucket {
	return &models.CustomerBucket{
		CustomerKey: customerKey,
		Weights:     models.DefaultScoringWeights(),
		BuiltAt:     time.Now().UTC().Truncate(time.Second),
		Candidates: []models.ScoredCandidate{
			{
				Product:          models.Product{SKU: "A", Name: "Alpha", Brand: "Acme", Price: 19.99},
				PersonalizeScore: 2,
				OrderScore:       1.5,
				OracleRank:       0,
			},
			{
				Product:       models.Product{SKU: "B", Name: "Beta", Brand: "Globex", Price: 9.99},
				QuestionScore: 3,
				OracleRank:    1,
				Fallback:      true,
			},
		},
	}
}

func TestDeltaCache_RoundTrip(t *testing.T) {
	client := testRedis(t)
	defer client.Close()

	assembler := &stubAssembler{bucket: testBucket("cust-1")}
	cache := NewDeltaCache(client, assembler, nil, nil, testCacheConfig(), testLogger())
	ctx := context.Background()

	built, err := cache.Rebuild(ctx, "cust-1", 0)
	require.NoError(t, err)
	require.Equal(t, 1, assembler.builds)

	hitsBefore := testutil.ToFloat64(metrics.CacheHits)

	got, err := cache.Get(ctx, "cust-1")
	require.NoError(t, err)

	// Served from cache, field for field identical to the build
	assert.Equal(t, 1, assembler.builds)
	assert.Equal(t, hitsBefore+1, testutil.ToFloat64(metrics.CacheHits))
	assert.Equal(t, built.CustomerKey, got.CustomerKey)
	assert.Equal(t, built.Weights, got.Weights)
	assert.True(t, built.BuiltAt.Equal(got.BuiltAt))
	require.Equal(t, len(built.Candidates), len(got.Candidates))
	for i := range built.Candidates {
		assert.Equal(t, built.Candidates[i], got.Candidates[i])
	}
}

func TestDeltaCache_MissRebuilds(t *testing.T) {
	client := testRedis(t)
	defer client.Close()

	assembler := &stubAssembler{bucket: testBucket("cust-1")}
	cache := NewDeltaCache(client, assembler, nil, nil, testCacheConfig(), testLogger())

	missesBefore := testutil.ToFloat64(metrics.CacheMisses)

	got, err := cache.Get(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, assembler.builds)
	assert.Equal(t, "cust-1", got.CustomerKey)
	assert.Equal(t, missesBefore+1, testutil.ToFloat64(metrics.CacheMisses))
}

func TestDeltaCache_InvalidateForcesRebuildOnGet(t *testing.T) {
	client := testRedis(t)
	defer client.Close()

	assembler := &stubAssembler{bucket: testBucket("cust-1")}
	cache := NewDeltaCache(client, assembler, nil, nil, testCacheConfig(), testLogger())
	ctx := context.Background()

	_, err := cache.Rebuild(ctx, "cust-1", 0)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, "cust-1", "weights changed"))

	_, err = cache.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 2, assembler.builds)

	// Rebuild cleared the stale marker, the next plain Get serves the
	// cached entry again
	_, err = cache.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 2, assembler.builds)
}

func TestDeltaCache_GetStaleServesMarkedEntry(t *testing.T) {
	client := testRedis(t)
	defer client.Close()

	assembler := &stubAssembler{bucket: testBucket("cust-1")}
	cache := NewDeltaCache(client, assembler, nil, nil, testCacheConfig(), testLogger())
	ctx := context.Background()

	_, err := cache.Rebuild(ctx, "cust-1", 0)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "cust-1", "product visited"))

	got, err := cache.GetStale(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.Equal(t, 1, assembler.builds)

	fresh, err := cache.GetStale(ctx, models.AnonymousCustomerKey)
	require.NoError(t, err)
	assert.False(t, fresh.Stale)
	assert.Equal(t, 2, assembler.builds)
}

func TestDeltaCache_PoisonedEntryForcesRebuild(t *testing.T) {
	client := testRedis(t)
	defer client.Close()

	cfg := testCacheConfig()
	cfg.Scoring.BucketSize = 1 // anything larger is poisoned

	assembler := &stubAssembler{bucket: testBucket("cust-1")}
	cache := NewDeltaCache(client, assembler, nil, nil, cfg, testLogger())
	ctx := context.Background()

	// Plant an oversized entry directly
	oversized := testBucket("cust-1")
	data, err := json.Marshal(oversized)
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, bucketKeyPrefix+"cust-1", data, time.Hour).Err())

	_, err = cache.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, assembler.builds)
}

func TestDeltaCache_AssemblyFailurePropagates(t *testing.T) {
	client := testRedis(t)
	defer client.Close()

	assembler := &stubAssembler{
		failErr: models.NewFatalDependencyError("catalog", fmt.Errorf("connection refused")),
	}
	cache := NewDeltaCache(client, assembler, nil, nil, testCacheConfig(), testLogger())

	_, err := cache.Get(context.Background(), "cust-1")
	var fatal *models.FatalDependencyError
	assert.ErrorAs(t, err, &fatal)
}
