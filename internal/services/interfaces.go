package services

import (
	"context"

	"github.com/fluxcart/delta/pkg/models"
)

// Collaborator contracts for bucket assembly, engagement tracking,
// and the HTTP layer. Kept narrow so tests mock exactly what a
// component consumes.

type CatalogReader interface {
	ProductsBySKUs(ctx context.Context, skus []string) ([]models.Product, error)
	FallbackPool(ctx context.Context, excluding []string, limit int) ([]models.Product, error)
	ProductBySKU(ctx context.Context, sku string) (*models.Product, error)
}

type HistoryReader interface {
	OrderHistory(ctx context.Context, customerKey string) ([]models.OrderLine, error)
	AnsweredQuestions(ctx context.Context, customerKey string) ([]models.QuestionAnswer, error)
}

type EngagementReader interface {
	EngagedProducts(ctx context.Context, customerKey string) ([]EngagedProduct, error)
}

type WeightsProvider interface {
	Current(ctx context.Context) (models.ScoringWeights, error)
}

type ScoredProductWriter interface {
	SaveBucketScores(ctx context.Context, bucket *models.CustomerBucket) error
	CommitAction(ctx context.Context, action *models.EngagementAction) (bool, error)
}

type BucketAssemblerInterface interface {
	AssembleBucket(ctx context.Context, customerKey string, targetSize int) (*models.CustomerBucket, error)
}

type DeltaCacheInterface interface {
	Get(ctx context.Context, customerKey string) (*models.CustomerBucket, error)
	GetStale(ctx context.Context, customerKey string) (*models.CustomerBucket, error)
	Rebuild(ctx context.Context, customerKey string, targetSize int) (*models.CustomerBucket, error)
	Invalidate(ctx context.Context, customerKey, reason string) error
}

type EngagementTrackerInterface interface {
	Record(ctx context.Context, action *models.EngagementAction) error
	RecordBatch(ctx context.Context, actions []*models.EngagementAction) error
	AdoptGuestActions(ctx context.Context, customerKey, sessionID string) (int64, error)
}

type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, customerKey, reason string) error
}

type ActionArchiver interface {
	PublishArchive(ctx context.Context, action *models.EngagementAction) error
}
