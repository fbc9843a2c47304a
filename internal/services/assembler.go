package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/config"
	"github.com/fluxcart/delta/internal/ranking"
	"github.com/fluxcart/delta/pkg/models"
)

// BucketAssembler builds the ranked candidate bucket for one
// customer: oracle candidates first, fallback pool to fill the gap,
// then the four signals and a deterministic sort. Personalization
// failures degrade; only a catalog failure aborts the assembly.
type BucketAssembler struct {
	oracle     ranking.Oracle
	catalog    CatalogReader
	history    HistoryReader
	engagement EngagementReader
	weights    WeightsProvider
	config     *config.ScoringConfig
	logger     *logrus.Logger
}

func NewBucketAssembler(
	oracle ranking.Oracle,
	catalog CatalogReader,
	history HistoryReader,
	engagement EngagementReader,
	weights WeightsProvider,
	cfg *config.ScoringConfig,
	logger *logrus.Logger,
) *BucketAssembler {
	return &BucketAssembler{
		oracle:     oracle,
		catalog:    catalog,
		history:    history,
		engagement: engagement,
		weights:    weights,
		config:     cfg,
		logger:     logger,
	}
}

// AssembleBucket produces the customer's bucket, at most targetSize
// candidates, sorted by composite score descending with oracle rank
// as the tie-break. targetSize is clamped to the configured cap; <= 0
// uses the configured default. The cap matters: a larger bucket would
// fail the cache's entry check on the next read.
func (a *BucketAssembler) AssembleBucket(ctx context.Context, customerKey string, targetSize int) (*models.CustomerBucket, error) {
	if targetSize <= 0 || targetSize > a.config.BucketSize {
		targetSize = a.config.BucketSize
	}

	rankedSKUs := a.rankedSKUs(ctx, customerKey, targetSize)

	products, err := a.catalog.ProductsBySKUs(ctx, rankedSKUs)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.ScoredCandidate, 0, targetSize)
	for i, p := range products {
		candidates = append(candidates, models.ScoredCandidate{
			Product:    p,
			OracleRank: i,
			// Earlier oracle positions always outrank later ones
			PersonalizeScore: float64(len(products) - i),
		})
	}

	if len(candidates) < targetSize {
		fallback, err := a.fallbackCandidates(ctx, customerKey, rankedSKUs, targetSize-len(candidates))
		if err != nil {
			return nil, err
		}
		for _, c := range fallback {
			c.OracleRank = len(candidates)
			candidates = append(candidates, c)
		}
	}

	if !anonymousCustomer(customerKey) {
		candidates = a.applyAggregates(ctx, customerKey, candidates)
	}

	weights := a.currentWeights(ctx)

	// Stable: composite ties keep assembly order, which preserves
	// oracle rank precedence
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Composite(weights) > candidates[j].Composite(weights)
	})

	if len(candidates) > targetSize {
		candidates = candidates[:targetSize]
	}

	bucket := &models.CustomerBucket{
		CustomerKey: customerKey,
		Candidates:  candidates,
		Weights:     weights,
		BuiltAt:     time.Now().UTC(),
	}

	a.logger.WithFields(logrus.Fields{
		"customer_key":   customerKey,
		"candidates":     len(candidates),
		"weight_version": weights.Version,
	}).Debug("Bucket assembled")

	return bucket, nil
}

// rankedSKUs consults the ranking oracle under a bounded timeout. Any
// failure degrades to an empty ranked list.
func (a *BucketAssembler) rankedSKUs(ctx context.Context, customerKey string, limit int) []string {
	if anonymousCustomer(customerKey) {
		return nil
	}

	oracleCtx, cancel := context.WithTimeout(ctx, a.config.OracleTimeout)
	defer cancel()

	skus, err := a.oracle.RankedSKUs(oracleCtx, customerKey, limit)
	if err != nil {
		upstream := models.NewUpstreamError("ranking oracle", err)
		a.logger.WithError(upstream).WithField("customer_key", customerKey).
			Warn("Ranking oracle unavailable, assembling without personalization")
		return nil
	}
	return skus
}

// fallbackCandidates fills the bucket from the general catalog pool,
// reordered by the oracle's relative ranking when it answers in time.
// Fallback candidates never carry a personalize score.
func (a *BucketAssembler) fallbackCandidates(ctx context.Context, customerKey string, excluding []string, needed int) ([]models.ScoredCandidate, error) {
	poolSize := a.config.FallbackPoolSize
	if poolSize < needed {
		poolSize = needed
	}

	pool, err := a.catalog.FallbackPool(ctx, excluding, poolSize)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, nil
	}

	bySKU := make(map[string]models.Product, len(pool))
	skus := make([]string, 0, len(pool))
	for _, p := range pool {
		bySKU[p.SKU] = p
		skus = append(skus, p.SKU)
	}

	if !anonymousCustomer(customerKey) {
		oracleCtx, cancel := context.WithTimeout(ctx, a.config.OracleTimeout)
		reranked, err := a.oracle.RerankPool(oracleCtx, customerKey, skus)
		cancel()
		if err != nil {
			a.logger.WithError(err).WithField("customer_key", customerKey).
				Warn("Relative ranking unavailable, using natural pool order")
		} else if len(reranked) > 0 {
			skus = reranked
		}
	}

	candidates := make([]models.ScoredCandidate, 0, needed)
	for _, sku := range skus {
		if len(candidates) == needed {
			break
		}
		p, ok := bySKU[sku]
		if !ok {
			continue
		}
		candidates = append(candidates, models.ScoredCandidate{
			Product:  p,
			Fallback: true,
		})
	}
	return candidates, nil
}

// applyAggregates builds the three history aggregates and applies
// them to every candidate. A failed aggregate scores zero and is
// logged, never aborts the assembly.
func (a *BucketAssembler) applyAggregates(ctx context.Context, customerKey string, candidates []models.ScoredCandidate) []models.ScoredCandidate {
	aggregates := make([]*SignalAggregate, 0, 3)

	if lines, err := a.history.OrderHistory(ctx, customerKey); err != nil {
		a.logOracleDegrade(customerKey, "order history", err)
	} else {
		aggregates = append(aggregates, BuildOrderAggregate(lines))
	}

	if answers, err := a.history.AnsweredQuestions(ctx, customerKey); err != nil {
		a.logOracleDegrade(customerKey, "question history", err)
	} else {
		aggregates = append(aggregates, BuildQuestionAggregate(answers, len(candidates)))
	}

	if engaged, err := a.engagement.EngagedProducts(ctx, customerKey); err != nil {
		a.logOracleDegrade(customerKey, "engagement history", err)
	} else {
		aggregates = append(aggregates, BuildTrackingAggregate(engaged))
	}

	for i, c := range candidates {
		for _, agg := range aggregates {
			c = agg.Apply(c)
		}
		candidates[i] = c
	}
	return candidates
}

func (a *BucketAssembler) logOracleDegrade(customerKey, source string, err error) {
	var upstream *models.UpstreamError
	if !errors.As(err, &upstream) {
		err = models.NewUpstreamError(source, err)
	}
	a.logger.WithError(err).WithFields(logrus.Fields{
		"customer_key": customerKey,
		"source":       source,
	}).Warn("Signal source unavailable, scoring without it")
}

func (a *BucketAssembler) currentWeights(ctx context.Context) models.ScoringWeights {
	weights, err := a.weights.Current(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to load scoring weights, using defaults")
		return models.DefaultScoringWeights()
	}
	return weights
}

func anonymousCustomer(customerKey string) bool {
	return customerKey == "" || customerKey == models.AnonymousCustomerKey
}
