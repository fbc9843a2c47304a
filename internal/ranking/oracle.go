package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/pkg/models"
)

// Oracle is the external ranking authority consulted during bucket
// assembly. Implementations must honor ctx deadlines; the assembler
// calls with a bounded timeout and degrades when the oracle is slow
// or empty.
type Oracle interface {
	// RankedSKUs returns up to limit product SKUs for the customer,
	// best first. An empty slice is a valid answer.
	RankedSKUs(ctx context.Context, customerKey string, limit int) ([]string, error)

	// RerankPool reorders an arbitrary pool of SKUs by relevance to
	// the customer. SKUs the oracle knows nothing about keep their
	// input order after the known ones.
	RerankPool(ctx context.Context, customerKey string, skus []string) ([]string, error)

	// RecordEvent forwards an engagement action so future rankings
	// reflect it. Best effort, never blocks tracking.
	RecordEvent(ctx context.Context, action *models.EngagementAction) error
}

// GraphOracle ranks products with personalized PageRank over the
// customer-product engagement graph.
type GraphOracle struct {
	driver neo4j.DriverWithContext
	logger *logrus.Logger
}

func NewGraphOracle(driver neo4j.DriverWithContext, logger *logrus.Logger) *GraphOracle {
	return &GraphOracle{driver: driver, logger: logger}
}

func (o *GraphOracle) RankedSKUs(ctx context.Context, customerKey string, limit int) ([]string, error) {
	session := o.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	graphName := "customer-centric-" + customerKey

	projectionQuery := `
		CALL gds.graph.project.cypher(
			$graphName,
			'MATCH (n) WHERE n:Customer OR n:Product RETURN id(n) AS id, labels(n) AS labels',
			'MATCH (c:Customer)-[r:VIEWED|CLICKED|VISITED]-(p:Product)
			 RETURN id(startNode(r)) AS source, id(endNode(r)) AS target,
			        coalesce(r.weight, 1.0) AS weight'
		) YIELD graphName
		RETURN graphName`

	result, err := session.Run(ctx, projectionQuery, map[string]any{
		"graphName": graphName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to project engagement graph: %w", err)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to project engagement graph: %w", err)
	}

	defer func() {
		// Projections are per-request, drop whatever we created
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cleanup := o.driver.NewSession(cleanupCtx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer cleanup.Close(cleanupCtx)
		if _, err := cleanup.Run(cleanupCtx, `CALL gds.graph.drop($graphName, false)`, map[string]any{
			"graphName": graphName,
		}); err != nil {
			o.logger.WithError(err).WithField("graph_name", graphName).
				Warn("Failed to cleanup graph projection")
		}
	}()

	pageRankQuery := `
		CALL gds.pageRank.stream($graphName, {
			dampingFactor: 0.85,
			maxIterations: 20,
			tolerance: 0.0001,
			sourceNodes: [id(c) | c IN [(cust:Customer) WHERE cust.customer_key = $customerKey | cust]]
		})
		YIELD nodeId, score
		MATCH (p:Product) WHERE id(p) = nodeId
		RETURN p.sku AS sku
		ORDER BY score DESC
		LIMIT $limit`

	ranked, err := session.Run(ctx, pageRankQuery, map[string]any{
		"graphName":   graphName,
		"customerKey": customerKey,
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run personalized pagerank: %w", err)
	}

	var skus []string
	for ranked.Next(ctx) {
		if sku, ok := ranked.Record().Get("sku"); ok {
			if s, ok := sku.(string); ok && s != "" {
				skus = append(skus, s)
			}
		}
	}
	if err := ranked.Err(); err != nil {
		return nil, fmt.Errorf("failed to stream pagerank results: %w", err)
	}

	return skus, nil
}

func (o *GraphOracle) RerankPool(ctx context.Context, customerKey string, skus []string) ([]string, error) {
	if len(skus) == 0 {
		return nil, nil
	}

	session := o.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	// Score pool members by engagement of customers similar to this
	// one; members the graph has never seen fall through unranked.
	query := `
		MATCH (me:Customer {customer_key: $customerKey})-[:VIEWED|CLICKED|VISITED]->(:Product)
		      <-[:VIEWED|CLICKED|VISITED]-(peer:Customer)
		WITH DISTINCT peer LIMIT 50
		MATCH (peer)-[r:VIEWED|CLICKED|VISITED]->(p:Product)
		WHERE p.sku IN $skus
		RETURN p.sku AS sku, sum(coalesce(r.weight, 1.0)) AS affinity
		ORDER BY affinity DESC`

	result, err := session.Run(ctx, query, map[string]any{
		"customerKey": customerKey,
		"skus":        skus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rerank fallback pool: %w", err)
	}

	seen := make(map[string]bool, len(skus))
	reranked := make([]string, 0, len(skus))
	for result.Next(ctx) {
		if sku, ok := result.Record().Get("sku"); ok {
			if s, ok := sku.(string); ok && !seen[s] {
				seen[s] = true
				reranked = append(reranked, s)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to stream rerank results: %w", err)
	}

	// Unknown members keep their natural order behind the ranked ones
	for _, sku := range skus {
		if !seen[sku] {
			reranked = append(reranked, sku)
		}
	}

	return reranked, nil
}

func (o *GraphOracle) RecordEvent(ctx context.Context, action *models.EngagementAction) error {
	session := o.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	rel := relationshipForAction(action.Action)
	query := fmt.Sprintf(`
		MERGE (c:Customer {customer_key: $customerKey})
		MERGE (p:Product {sku: $sku})
		MERGE (c)-[r:%s]->(p)
		ON CREATE SET r.weight = $weight, r.count = 1
		ON MATCH SET r.weight = r.weight + $weight, r.count = r.count + 1
		SET r.last_seen = datetime($occurredAt)`, rel)

	_, err := session.Run(ctx, query, map[string]any{
		"customerKey": action.CustomerKey,
		"sku":         action.SKU,
		"weight":      actionWeight(action.Action),
		"occurredAt":  action.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to record engagement event: %w", err)
	}
	return nil
}

func relationshipForAction(a models.ActionType) string {
	switch a {
	case models.ActionClick:
		return "CLICKED"
	case models.ActionVisit:
		return "VISITED"
	default:
		return "VIEWED"
	}
}

func actionWeight(a models.ActionType) float64 {
	switch a {
	case models.ActionClick:
		return 2.0
	case models.ActionVisit:
		return 3.0
	default:
		return 1.0
	}
}
