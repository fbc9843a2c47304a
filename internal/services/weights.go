package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/pkg/models"
)

const weightsCacheKey = "delta:weights:current"

// WeightService owns the versioned scoring weights. Reads are served
// from a short-lived Redis cache in front of Postgres; a publish
// inserts a new version row and drops the cache so the next Rebuild
// picks it up. Already-cached buckets keep the version they were
// scored under.
type WeightService struct {
	db       DatabaseQuerier
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *logrus.Logger
}

func NewWeightService(db DatabaseQuerier, cache *redis.Client, cacheTTL time.Duration, logger *logrus.Logger) *WeightService {
	return &WeightService{db: db, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Current returns the newest published weight version, or the neutral
// defaults when none has ever been published.
func (s *WeightService) Current(ctx context.Context) (models.ScoringWeights, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, weightsCacheKey).Result(); err == nil {
			var w models.ScoringWeights
			if err := json.Unmarshal([]byte(cached), &w); err == nil {
				return w, nil
			}
		}
	}

	query := `
		SELECT version, personalize, question, order_weight, tracking,
		       updated_by, updated_at
		FROM scoring_weights
		ORDER BY version DESC
		LIMIT 1`

	var w models.ScoringWeights
	err := s.db.QueryRow(ctx, query).Scan(
		&w.Version, &w.Personalize, &w.Question, &w.Order, &w.Tracking,
		&w.UpdatedBy, &w.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return models.DefaultScoringWeights(), nil
	}
	if err != nil {
		return models.ScoringWeights{}, fmt.Errorf("failed to load scoring weights: %w", err)
	}

	s.cacheWeights(ctx, w)
	return w, nil
}

// Publish inserts a new weight version and returns it. The version is
// assigned by the store, so concurrent publishes never collide.
func (s *WeightService) Publish(ctx context.Context, update models.WeightsUpdate) (models.ScoringWeights, error) {
	query := `
		INSERT INTO scoring_weights (personalize, question, order_weight, tracking, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING version, personalize, question, order_weight, tracking, updated_by, updated_at`

	var w models.ScoringWeights
	err := s.db.QueryRow(ctx, query,
		update.Personalize, update.Question, update.Order, update.Tracking, update.UpdatedBy,
	).Scan(
		&w.Version, &w.Personalize, &w.Question, &w.Order, &w.Tracking,
		&w.UpdatedBy, &w.UpdatedAt,
	)
	if err != nil {
		return models.ScoringWeights{}, fmt.Errorf("failed to publish scoring weights: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, weightsCacheKey).Err(); err != nil {
			s.logger.WithError(err).Warn("Failed to drop weights cache after publish")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"version":    w.Version,
		"updated_by": w.UpdatedBy,
	}).Info("Scoring weights published")

	return w, nil
}

// History returns the most recent weight versions, newest first.
func (s *WeightService) History(ctx context.Context, limit int) ([]models.ScoringWeights, error) {
	query := `
		SELECT version, personalize, question, order_weight, tracking,
		       updated_by, updated_at
		FROM scoring_weights
		ORDER BY version DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load weight history: %w", err)
	}
	defer rows.Close()

	var history []models.ScoringWeights
	for rows.Next() {
		var w models.ScoringWeights
		if err := rows.Scan(
			&w.Version, &w.Personalize, &w.Question, &w.Order, &w.Tracking,
			&w.UpdatedBy, &w.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan weight version: %w", err)
		}
		history = append(history, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load weight history: %w", err)
	}
	return history, nil
}

func (s *WeightService) cacheWeights(ctx context.Context, w models.ScoringWeights) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, weightsCacheKey, data, s.cacheTTL).Err(); err != nil {
		s.logger.WithError(err).Debug("Failed to cache scoring weights")
	}
}
