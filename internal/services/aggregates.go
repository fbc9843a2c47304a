package services

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/fluxcart/delta/pkg/models"
)

// Dimension names one product attribute tracked by a signal
// aggregate.
type Dimension string

const (
	DimGender      Dimension = "gender"
	DimColor       Dimension = "color"
	DimSize        Dimension = "size"
	DimProductType Dimension = "product_type"
	DimSubType     Dimension = "product_sub_type"
	DimBrand       Dimension = "brand"
)

var allDimensions = []Dimension{
	DimGender, DimColor, DimSize, DimProductType, DimSubType, DimBrand,
}

const (
	genderMens   = "MENS"
	genderLadies = "LADIES"
)

var caseFolder = cases.Fold()

// foldValue canonicalizes an attribute value for case-insensitive
// matching across feeds with inconsistent casing.
func foldValue(v string) string {
	return caseFolder.String(strings.TrimSpace(v))
}

// NormalizeGender maps the small vocabulary of gender synonyms seen
// in catalog feeds and order history onto the two canonical tokens.
// Unrecognized values pass through folded, so novel values still
// match themselves.
func NormalizeGender(v string) string {
	switch foldValue(v) {
	case "male", "males", "men", "mens", "man", "boys":
		return genderMens
	case "female", "females", "ladies", "lady", "women", "womens", "woman", "girls":
		return genderLadies
	default:
		return foldValue(v)
	}
}

// SignalAggregate is a per-dimension set of values observed in one
// slice of a customer's history, plus the total reference count. The
// scoring weight of a dimension is total / max(1, distinct values):
// a narrow, specific history weighs more than a scattered one.
type SignalAggregate struct {
	signal models.Signal
	total  float64
	dims   map[Dimension]map[string]struct{}
}

func NewSignalAggregate(signal models.Signal) *SignalAggregate {
	dims := make(map[Dimension]map[string]struct{}, len(allDimensions))
	for _, d := range allDimensions {
		dims[d] = make(map[string]struct{})
	}
	return &SignalAggregate{signal: signal, dims: dims}
}

// Observe records one attribute value in a dimension. Empty values
// are ignored so sparse feeds do not pollute the distinct counts.
func (a *SignalAggregate) Observe(dim Dimension, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	if dim == DimGender {
		value = NormalizeGender(value)
	} else {
		value = foldValue(value)
	}
	a.dims[dim][value] = struct{}{}
}

// AddReference bumps the total reference count. Called once per
// history record, not per attribute.
func (a *SignalAggregate) AddReference() {
	a.total++
}

// Total reports the reference count backing the aggregate.
func (a *SignalAggregate) Total() float64 { return a.total }

// Empty reports whether the aggregate saw no history at all.
func (a *SignalAggregate) Empty() bool { return a.total == 0 }

// DimensionWeight is the scarcity weight for one dimension. A
// dimension with no observed values falls back to total/1.
func (a *SignalAggregate) DimensionWeight(dim Dimension) float64 {
	distinct := len(a.dims[dim])
	if distinct < 1 {
		distinct = 1
	}
	return a.total / float64(distinct)
}

func (a *SignalAggregate) matches(dim Dimension, value string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}
	if dim == DimGender {
		value = NormalizeGender(value)
	} else {
		value = foldValue(value)
	}
	_, ok := a.dims[dim][value]
	return ok
}

// Score sums the dimension weights for every dimension where the
// product's attribute matches a recorded value. Sizes match if any
// of the product's sizes was observed.
func (a *SignalAggregate) Score(p models.Product) float64 {
	if a.Empty() {
		return 0
	}

	var score float64
	if a.matches(DimGender, p.Gender) {
		score += a.DimensionWeight(DimGender)
	}
	if a.matches(DimColor, p.Color) {
		score += a.DimensionWeight(DimColor)
	}
	if a.matches(DimProductType, p.ProductType) {
		score += a.DimensionWeight(DimProductType)
	}
	if a.matches(DimSubType, p.ProductSubType) {
		score += a.DimensionWeight(DimSubType)
	}
	if a.matches(DimBrand, p.Brand) {
		score += a.DimensionWeight(DimBrand)
	}
	for _, size := range p.Sizes {
		if a.matches(DimSize, size) {
			score += a.DimensionWeight(DimSize)
			break
		}
	}
	return score
}

// Apply returns the candidate with the aggregate's signal replaced by
// the product's score under this aggregate.
func (a *SignalAggregate) Apply(c models.ScoredCandidate) models.ScoredCandidate {
	return c.WithSignal(a.signal, a.Score(c.Product))
}

// BuildOrderAggregate folds a customer's order history into an order
// signal aggregate. Each order line is one reference.
func BuildOrderAggregate(lines []models.OrderLine) *SignalAggregate {
	agg := NewSignalAggregate(models.SignalOrder)
	for _, line := range lines {
		agg.AddReference()
		agg.Observe(DimGender, line.Gender)
		agg.Observe(DimColor, line.Color)
		agg.Observe(DimSize, line.Size)
		agg.Observe(DimProductType, line.ProductType)
		agg.Observe(DimSubType, line.ProductSubType)
		agg.Observe(DimBrand, line.Brand)
	}
	return agg
}

// BuildQuestionAggregate folds answered profile questions into a
// question signal aggregate. The candidate pool size is the reference
// total, so answer specificity is weighed relative to the pool being
// scored rather than the handful of questions answered.
func BuildQuestionAggregate(answers []models.QuestionAnswer, candidatePoolSize int) *SignalAggregate {
	agg := NewSignalAggregate(models.SignalQuestion)
	if candidatePoolSize < 1 {
		candidatePoolSize = 1
	}

	observed := false
	for _, qa := range answers {
		dim, ok := dimensionForAttribute(qa.TargetAttribute)
		if !ok {
			continue
		}
		for _, answer := range qa.Answers {
			if strings.TrimSpace(answer) == "" {
				continue
			}
			agg.Observe(dim, answer)
			observed = true
		}
	}
	if observed {
		agg.total = float64(candidatePoolSize)
	}
	return agg
}

// dimensionForAttribute maps a question's target attribute onto the
// aggregate dimension it constrains.
func dimensionForAttribute(attr string) (Dimension, bool) {
	switch foldValue(attr) {
	case "product.brand", "product.manufacturer":
		return DimBrand, true
	case "customer.gender", "product.gender":
		return DimGender, true
	case "product.producttype", "product.product_type":
		return DimProductType, true
	case "product.productsubtype", "product.product_sub_type":
		return DimSubType, true
	case "product.color":
		return DimColor, true
	case "product.size":
		return DimSize, true
	default:
		return "", false
	}
}

// EngagedProduct joins lifetime engagement counters with the product
// attributes needed to build the tracking aggregate.
type EngagedProduct struct {
	Product  models.Product
	Counters models.EngagementCounters
}

// BuildTrackingAggregate folds engaged products into a tracking
// signal aggregate. Each engaged product contributes one reference
// per recorded interaction, so heavily revisited products sharpen the
// aggregate more than one-off views.
func BuildTrackingAggregate(engaged []EngagedProduct) *SignalAggregate {
	agg := NewSignalAggregate(models.SignalTracking)
	for _, e := range engaged {
		refs := e.Counters.Views + e.Counters.Clicks + e.Counters.Visits
		if refs <= 0 {
			continue
		}
		agg.total += float64(refs)
		agg.Observe(DimGender, e.Product.Gender)
		agg.Observe(DimColor, e.Product.Color)
		agg.Observe(DimProductType, e.Product.ProductType)
		agg.Observe(DimSubType, e.Product.ProductSubType)
		agg.Observe(DimBrand, e.Product.Brand)
		for _, size := range e.Product.Sizes {
			agg.Observe(DimSize, size)
		}
	}
	return agg
}
