package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxcart/delta/pkg/models"
)

func TestNormalizeGender(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"male", "MENS"},
		{"MENS", "MENS"},
		{"Boys", "MENS"},
		{"man", "MENS"},
		{"female", "LADIES"},
		{"Womens", "LADIES"},
		{"Girls", "LADIES"},
		{"LADY", "LADIES"},
		{"unisex", "unisex"},
		{"  Men  ", "MENS"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeGender(tt.input))
		})
	}
}

func TestSignalAggregate_DimensionWeight(t *testing.T) {
	agg := NewSignalAggregate(models.SignalOrder)
	for i := 0; i < 10; i++ {
		agg.AddReference()
	}
	agg.Observe(DimBrand, "Acme")
	agg.Observe(DimBrand, "acme") // folds onto the same value
	agg.Observe(DimBrand, "Globex")

	// 10 references over 2 distinct brands
	assert.Equal(t, 5.0, agg.DimensionWeight(DimBrand))

	// No colors observed: falls back to total/1
	assert.Equal(t, 10.0, agg.DimensionWeight(DimColor))
}

func TestSignalAggregate_Score(t *testing.T) {
	agg := NewSignalAggregate(models.SignalOrder)
	for i := 0; i < 6; i++ {
		agg.AddReference()
	}
	agg.Observe(DimBrand, "Acme")
	agg.Observe(DimBrand, "Globex")
	agg.Observe(DimGender, "men")
	agg.Observe(DimSize, "M")
	agg.Observe(DimSize, "L")
	agg.Observe(DimSize, "XL")

	product := models.Product{
		SKU:    "SKU-1",
		Brand:  "ACME",
		Gender: "Mens",
		Color:  "Red",
		Sizes:  []string{"S", "L"},
	}

	// brand 6/2 + gender 6/1 + one size match 6/3; color unmatched
	assert.Equal(t, 3.0+6.0+2.0, agg.Score(product))

	// Size matches at most once even when several sizes overlap
	product.Sizes = []string{"M", "L", "XL"}
	assert.Equal(t, 3.0+6.0+2.0, agg.Score(product))
}

func TestSignalAggregate_EmptyScoresZero(t *testing.T) {
	agg := NewSignalAggregate(models.SignalOrder)
	assert.True(t, agg.Empty())
	assert.Zero(t, agg.Score(models.Product{Brand: "Acme", Gender: "men"}))
}

func TestBuildOrderAggregate(t *testing.T) {
	lines := []models.OrderLine{
		{SKU: "A", Brand: "Acme", Gender: "male", Color: "Red", Size: "M", ProductType: "Shirt"},
		{SKU: "B", Brand: "Acme", Gender: "female", Color: "Blue", Size: "M", ProductType: "Shirt"},
		{SKU: "C", Brand: "Globex", Gender: "male", Color: "Red", Size: "L", ProductType: "Pants"},
	}

	agg := BuildOrderAggregate(lines)

	assert.Equal(t, 3.0, agg.Total())
	assert.Equal(t, 1.5, agg.DimensionWeight(DimBrand))       // 2 brands
	assert.Equal(t, 1.5, agg.DimensionWeight(DimGender))      // MENS, LADIES
	assert.Equal(t, 1.5, agg.DimensionWeight(DimSize))        // M, L
	assert.Equal(t, 1.5, agg.DimensionWeight(DimProductType)) // Shirt, Pants
	assert.Equal(t, 3.0, agg.DimensionWeight(DimSubType))     // none observed
}

func TestBuildQuestionAggregate(t *testing.T) {
	answers := []models.QuestionAnswer{
		{TargetAttribute: "product.brand", Answers: []string{"Acme", "Globex"}},
		{TargetAttribute: "customer.gender", Answers: []string{"women"}},
		{TargetAttribute: "product.productType", Answers: []string{"Dress"}},
		{TargetAttribute: "favorite.movie", Answers: []string{"ignored"}},
	}

	agg := BuildQuestionAggregate(answers, 200)

	// Total is the candidate pool size, not the answer count
	assert.Equal(t, 200.0, agg.Total())
	assert.Equal(t, 100.0, agg.DimensionWeight(DimBrand))
	assert.Equal(t, 200.0, agg.DimensionWeight(DimGender))
	assert.Equal(t, 200.0, agg.DimensionWeight(DimProductType))

	product := models.Product{Brand: "acme", Gender: "Ladies", ProductType: "dress"}
	assert.Equal(t, 100.0+200.0+200.0, agg.Score(product))
}

func TestBuildQuestionAggregate_NoAnswers(t *testing.T) {
	agg := BuildQuestionAggregate(nil, 500)
	assert.True(t, agg.Empty())
	assert.Zero(t, agg.Score(models.Product{Brand: "Acme"}))

	// Blank answers count as unanswered
	blank := BuildQuestionAggregate([]models.QuestionAnswer{
		{TargetAttribute: "product.brand", Answers: []string{"  "}},
	}, 500)
	assert.True(t, blank.Empty())
}

func TestBuildTrackingAggregate(t *testing.T) {
	engaged := []EngagedProduct{
		{
			Product:  models.Product{SKU: "A", Brand: "Acme", Color: "Red"},
			Counters: models.EngagementCounters{Views: 3, Clicks: 1},
		},
		{
			Product:  models.Product{SKU: "B", Brand: "Globex", Color: "Red"},
			Counters: models.EngagementCounters{Visits: 2},
		},
		{
			// No recorded interactions: contributes nothing
			Product:  models.Product{SKU: "C", Brand: "Initech"},
			Counters: models.EngagementCounters{},
		},
	}

	agg := BuildTrackingAggregate(engaged)

	assert.Equal(t, 6.0, agg.Total())
	assert.Equal(t, 3.0, agg.DimensionWeight(DimBrand)) // Acme, Globex
	assert.Equal(t, 6.0, agg.DimensionWeight(DimColor)) // Red only

	assert.Equal(t, 3.0+6.0, agg.Score(models.Product{Brand: "Acme", Color: "red"}))
	assert.Zero(t, agg.Score(models.Product{Brand: "Initech"}))
}

func TestSignalAggregate_Apply(t *testing.T) {
	agg := BuildOrderAggregate([]models.OrderLine{
		{Brand: "Acme"},
	})

	candidate := models.ScoredCandidate{Product: models.Product{SKU: "A", Brand: "Acme"}}
	scored := agg.Apply(candidate)

	assert.Equal(t, 1.0, scored.OrderScore)
	assert.Zero(t, scored.PersonalizeScore)
	assert.Zero(t, candidate.OrderScore)
}
