package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/pkg/models"
)

// HistoryService reads the durable per-customer history feeding the
// order and question aggregates. Read-only: orders and questionnaire
// answers are written by the commerce surfaces, not by this engine.
type HistoryService struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewHistoryService(db DatabaseQuerier, logger *logrus.Logger) *HistoryService {
	return &HistoryService{db: db, logger: logger}
}

// OrderHistory returns all order lines for a customer, newest first.
func (s *HistoryService) OrderHistory(ctx context.Context, customerKey string) ([]models.OrderLine, error) {
	query := `
		SELECT customer_key, sku, product_name, brand, gender,
		       product_type, product_sub_type, color, size, ordered_at
		FROM order_lines
		WHERE customer_key = $1
		ORDER BY ordered_at DESC`

	rows, err := s.db.Query(ctx, query, customerKey)
	if err != nil {
		return nil, models.NewUpstreamError("order history", err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		var l models.OrderLine
		if err := rows.Scan(
			&l.CustomerKey, &l.SKU, &l.ProductName, &l.Brand, &l.Gender,
			&l.ProductType, &l.ProductSubType, &l.Color, &l.Size, &l.OrderedAt,
		); err != nil {
			return nil, models.NewUpstreamError("order history", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("order history", err)
	}
	return lines, nil
}

// AnsweredQuestions returns the customer's questionnaire answers.
func (s *HistoryService) AnsweredQuestions(ctx context.Context, customerKey string) ([]models.QuestionAnswer, error) {
	query := `
		SELECT customer_key, question_id, target_attribute, answers, answered_at
		FROM question_answers
		WHERE customer_key = $1
		ORDER BY answered_at DESC`

	rows, err := s.db.Query(ctx, query, customerKey)
	if err != nil {
		return nil, models.NewUpstreamError("question history", err)
	}
	defer rows.Close()

	var answers []models.QuestionAnswer
	for rows.Next() {
		var qa models.QuestionAnswer
		if err := rows.Scan(
			&qa.CustomerKey, &qa.QuestionID, &qa.TargetAttribute,
			&qa.Answers, &qa.AnsweredAt,
		); err != nil {
			return nil, models.NewUpstreamError("question history", err)
		}
		answers = append(answers, qa)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("question history", err)
	}
	return answers, nil
}
