package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/pkg/models"
)

// ScoredProductService owns the per-customer-per-product scored
// documents: the score snapshot written at bucket build time plus the
// lifetime engagement counters maintained by the tracker. One row per
// (customer_key, sku).
type ScoredProductService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewScoredProductService(db DatabaseQuerier, logger *logrus.Logger) *ScoredProductService {
	return &ScoredProductService{db: db, logger: logger}
}

// ScoredProduct is one persisted scored document returned by reads.
type ScoredProduct struct {
	CustomerKey      string
	SKU              string
	PersonalizeScore float64
	QuestionScore    float64
	OrderScore       float64
	TrackingScore    float64
	Composite        float64
	WeightVersion    int64
	Counters         models.EngagementCounters
	UpdatedAt        time.Time
}

// SaveBucketScores snapshots every candidate of a freshly assembled
// bucket. Upsert keeps existing counters: scores are replaced on
// rebuild, engagement history is not.
func (s *ScoredProductService) SaveBucketScores(ctx context.Context, bucket *models.CustomerBucket) error {
	query := `
		INSERT INTO scored_products (
			customer_key, sku, personalize_score, question_score,
			order_score, tracking_score, composite_score, weight_version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (customer_key, sku) DO UPDATE SET
			personalize_score = EXCLUDED.personalize_score,
			question_score = EXCLUDED.question_score,
			order_score = EXCLUDED.order_score,
			tracking_score = EXCLUDED.tracking_score,
			composite_score = EXCLUDED.composite_score,
			weight_version = EXCLUDED.weight_version,
			updated_at = NOW()`

	for _, c := range bucket.Candidates {
		if _, err := s.db.Exec(ctx, query,
			bucket.CustomerKey, c.Product.SKU,
			c.PersonalizeScore, c.QuestionScore, c.OrderScore, c.TrackingScore,
			c.Composite(bucket.Weights), bucket.Weights.Version,
		); err != nil {
			return fmt.Errorf("failed to save scored product %s: %w", c.Product.SKU, err)
		}
	}
	return nil
}

// CommitAction durably records one delivery of an engagement action.
// The action-log insert and the matching counter bump ride a single
// statement: the counter only moves when the log row is new, so a
// redelivered action (same id) changes nothing and reports false.
// Counter updates run store-side so concurrent events for the same
// customer/product pair never lose increments.
func (s *ScoredProductService) CommitAction(ctx context.Context, action *models.EngagementAction) (bool, error) {
	column, err := counterColumn(action.Action)
	if err != nil {
		return false, err
	}

	var snapshot []byte
	if action.ScoreSnapshot != nil {
		b, err := json.Marshal(action.ScoreSnapshot)
		if err != nil {
			return false, fmt.Errorf("failed to marshal score snapshot: %w", err)
		}
		snapshot = b
	}

	query := fmt.Sprintf(`
		WITH logged AS (
			INSERT INTO engagement_actions (
				id, customer_key, session_id, sku, action,
				position_on_page, score_snapshot, occurred_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
			RETURNING customer_key, sku
		)
		INSERT INTO scored_products (customer_key, sku, %s, updated_at)
		SELECT customer_key, sku, 1, NOW() FROM logged
		ON CONFLICT (customer_key, sku) DO UPDATE SET
			%s = scored_products.%s + 1,
			updated_at = NOW()`, column, column, column)

	tag, err := s.db.Exec(ctx, query,
		action.ID, action.CustomerKey, action.SessionID, action.SKU,
		string(action.Action), action.PositionOnPage, snapshot, action.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to commit %s action: %w", column, err)
	}
	return tag.RowsAffected() > 0, nil
}

func counterColumn(action models.ActionType) (string, error) {
	switch action {
	case models.ActionView:
		return "views", nil
	case models.ActionClick:
		return "clicks", nil
	case models.ActionVisit:
		return "visits", nil
	default:
		return "", models.NewValidationError("action", fmt.Sprintf("unknown action type %q", action))
	}
}

// EngagedProducts joins every scored document carrying at least one
// counter with its catalog attributes, the raw material for the
// tracking aggregate.
func (s *ScoredProductService) EngagedProducts(ctx context.Context, customerKey string) ([]EngagedProduct, error) {
	query := `
		SELECT p.sku, p.name, p.brand, p.gender, p.product_type,
		       p.product_sub_type, p.color, p.sizes,
		       sp.views, sp.clicks, sp.visits
		FROM scored_products sp
		JOIN products p ON p.sku = sp.sku
		WHERE sp.customer_key = $1
		  AND (sp.views > 0 OR sp.clicks > 0 OR sp.visits > 0)`

	rows, err := s.db.Query(ctx, query, customerKey)
	if err != nil {
		return nil, models.NewUpstreamError("scored products", err)
	}
	defer rows.Close()

	var engaged []EngagedProduct
	for rows.Next() {
		var e EngagedProduct
		if err := rows.Scan(
			&e.Product.SKU, &e.Product.Name, &e.Product.Brand, &e.Product.Gender,
			&e.Product.ProductType, &e.Product.ProductSubType, &e.Product.Color,
			&e.Product.Sizes,
			&e.Counters.Views, &e.Counters.Clicks, &e.Counters.Visits,
		); err != nil {
			return nil, models.NewUpstreamError("scored products", err)
		}
		engaged = append(engaged, e)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("scored products", err)
	}
	return engaged, nil
}

// ListScored pages a customer's scored documents, best composite
// first.
func (s *ScoredProductService) ListScored(ctx context.Context, customerKey string, limit, offset int) ([]ScoredProduct, error) {
	query := `
		SELECT customer_key, sku, personalize_score, question_score,
		       order_score, tracking_score, composite_score, weight_version,
		       views, clicks, visits, updated_at
		FROM scored_products
		WHERE customer_key = $1
		ORDER BY composite_score DESC, sku ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, customerKey, limit, offset)
	if err != nil {
		return nil, models.NewUpstreamError("scored products", err)
	}
	defer rows.Close()

	var scored []ScoredProduct
	for rows.Next() {
		var sp ScoredProduct
		if err := rows.Scan(
			&sp.CustomerKey, &sp.SKU,
			&sp.PersonalizeScore, &sp.QuestionScore, &sp.OrderScore, &sp.TrackingScore,
			&sp.Composite, &sp.WeightVersion,
			&sp.Counters.Views, &sp.Counters.Clicks, &sp.Counters.Visits,
			&sp.UpdatedAt,
		); err != nil {
			return nil, models.NewUpstreamError("scored products", err)
		}
		scored = append(scored, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("scored products", err)
	}
	return scored, nil
}

// AdoptGuestActions reassigns a session's anonymous engagement to a
// real customer after sign-in. Both the action log and the counter
// rows move; counter rows merge additively into any the customer
// already has.
func (s *ScoredProductService) AdoptGuestActions(ctx context.Context, customerKey, sessionID string) (int64, error) {
	actionQuery := `
		UPDATE engagement_actions
		SET customer_key = $1
		WHERE session_id = $2 AND customer_key = $3`

	tag, err := s.db.Exec(ctx, actionQuery, customerKey, sessionID, models.AnonymousCustomerKey)
	if err != nil {
		return 0, fmt.Errorf("failed to adopt guest actions: %w", err)
	}
	adopted := tag.RowsAffected()

	if adopted == 0 {
		return 0, nil
	}

	mergeQuery := `
		INSERT INTO scored_products (customer_key, sku, views, clicks, visits, updated_at)
		SELECT $1, sku,
		       count(*) FILTER (WHERE action = 'view'),
		       count(*) FILTER (WHERE action = 'click'),
		       count(*) FILTER (WHERE action = 'visit'),
		       NOW()
		FROM engagement_actions
		WHERE customer_key = $1 AND session_id = $2
		GROUP BY sku
		ON CONFLICT (customer_key, sku) DO UPDATE SET
			views = scored_products.views + EXCLUDED.views,
			clicks = scored_products.clicks + EXCLUDED.clicks,
			visits = scored_products.visits + EXCLUDED.visits,
			updated_at = NOW()`

	if _, err := s.db.Exec(ctx, mergeQuery, customerKey, sessionID); err != nil {
		return adopted, fmt.Errorf("failed to merge guest counters: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"customer_key": customerKey,
		"session_id":   sessionID,
		"adopted":      adopted,
	}).Info("Guest engagement adopted")

	return adopted, nil
}
