package services

import (
	"github.com/fluxcart/delta/internal/config"
	"github.com/fluxcart/delta/internal/database"
	"github.com/fluxcart/delta/internal/messaging"
	"github.com/fluxcart/delta/internal/ranking"

	"github.com/sirupsen/logrus"
)

type Services struct {
	Auth       *AuthService
	Health     *HealthService
	RateLimit  *RateLimitService
	MessageBus *messaging.MessageBus
	Oracle     ranking.Oracle
	Catalog    *CatalogService
	History    *HistoryService
	Scored     *ScoredProductService
	Weights    *WeightService
	Assembler  *BucketAssembler
	Cache      *DeltaCache
	Tracker    *EngagementTracker
	Analytics  *AnalyticsService
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database) (*Services, error) {
	authService := NewAuthService(cfg, logger, db.Redis.Hot)
	rateLimitService := NewRateLimitService(cfg, logger, db.Redis.Hot)

	messageBus, err := messaging.NewMessageBus(cfg, logger)
	if err != nil {
		return nil, err
	}

	healthService := NewHealthService(cfg, logger, db, messageBus)

	oracle := ranking.NewGraphOracle(db.Neo4j, logger)

	catalog := NewCatalogService(db.PG, logger)
	history := NewHistoryService(db.PG, logger)
	scored := NewScoredProductService(db.PG, logger)
	weights := NewWeightService(db.PG, db.Redis.Hot, cfg.Cache.WeightsTTL, logger)

	assembler := NewBucketAssembler(
		oracle, catalog, history, scored, weights, &cfg.Scoring, logger,
	)

	cache := NewDeltaCache(db.Redis.Warm, assembler, scored, messageBus, cfg, logger)

	tracker := NewEngagementTracker(
		scored, scored, messageBus, oracle, cache, cfg.Cache.RebuildQueue, logger,
	)

	analytics := NewAnalyticsService(db.PG, logger)

	return &Services{
		Auth:       authService,
		Health:     healthService,
		RateLimit:  rateLimitService,
		MessageBus: messageBus,
		Oracle:     oracle,
		Catalog:    catalog,
		History:    history,
		Scored:     scored,
		Weights:    weights,
		Assembler:  assembler,
		Cache:      cache,
		Tracker:    tracker,
		Analytics:  analytics,
	}, nil
}

// Stop shuts down background workers in dependency order.
func (s *Services) Stop() {
	if s.Tracker != nil {
		s.Tracker.Stop()
	}
	if s.MessageBus != nil {
		if err := s.MessageBus.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close message bus")
		}
	}
}
