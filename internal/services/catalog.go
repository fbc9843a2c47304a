package services

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/pkg/models"
)

// DatabaseQuerier is the slice of pgxpool.Pool the stores need.
// Narrow on purpose so tests can substitute pgxmock.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const productColumns = `sku, name, description, brand, gender, product_type,
		product_sub_type, color, price, discount, sizes, image_url`

// CatalogService reads product records from the relational catalog.
// The catalog is the one dependency bucket assembly cannot survive
// without, so read failures surface as FatalDependencyError.
type CatalogService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewCatalogService(db DatabaseQuerier, logger *logrus.Logger) *CatalogService {
	return &CatalogService{db: db, logger: logger}
}

// ProductsBySKUs loads full product records for the given SKUs,
// returned in the order the SKUs were requested. SKUs the catalog no
// longer carries are silently dropped.
func (s *CatalogService) ProductsBySKUs(ctx context.Context, skus []string) ([]models.Product, error) {
	if len(skus) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM products WHERE sku = ANY($1)`, productColumns)

	rows, err := s.db.Query(ctx, query, skus)
	if err != nil {
		return nil, models.NewFatalDependencyError("catalog", err)
	}
	defer rows.Close()

	bySKU := make(map[string]models.Product, len(skus))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, models.NewFatalDependencyError("catalog", err)
		}
		bySKU[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewFatalDependencyError("catalog", err)
	}

	// Reassemble in request order; the store returns rows unordered
	ordered := make([]models.Product, 0, len(bySKU))
	for _, sku := range skus {
		if p, ok := bySKU[sku]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// FallbackPool returns up to limit products not in the excluded set,
// newest first. Used to pad buckets when the ranking oracle comes up
// short.
func (s *CatalogService) FallbackPool(ctx context.Context, excluding []string, limit int) ([]models.Product, error) {
	if excluding == nil {
		excluding = []string{}
	}

	query := fmt.Sprintf(`
		SELECT %s FROM products
		WHERE NOT (sku = ANY($1))
		ORDER BY created_at DESC
		LIMIT $2`, productColumns)

	rows, err := s.db.Query(ctx, query, excluding, limit)
	if err != nil {
		return nil, models.NewFatalDependencyError("catalog", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, models.NewFatalDependencyError("catalog", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewFatalDependencyError("catalog", err)
	}
	return products, nil
}

// ProductBySKU loads one product, or pgx.ErrNoRows wrapped as a
// validation error when the SKU is unknown.
func (s *CatalogService) ProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM products WHERE sku = $1`, productColumns)

	row := s.db.QueryRow(ctx, query, sku)
	p, err := scanProduct(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.NewValidationError("sku", fmt.Sprintf("unknown product %q", sku))
		}
		return nil, models.NewFatalDependencyError("catalog", err)
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	err := row.Scan(
		&p.SKU, &p.Name, &p.Description, &p.Brand, &p.Gender,
		&p.ProductType, &p.ProductSubType, &p.Color,
		&p.Price, &p.Discount, &p.Sizes, &p.ImageURL,
	)
	return p, err
}
