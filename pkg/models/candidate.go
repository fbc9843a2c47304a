package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Signal names a scoring dimension on a candidate.
type Signal string

const (
	SignalPersonalize Signal = "personalize"
	SignalQuestion    Signal = "question"
	SignalOrder       Signal = "order"
	SignalTracking    Signal = "tracking"
)

// ScoredCandidate is one product inside a customer's bucket together
// with its four raw signal scores. OracleRank is the position the
// ranking oracle assigned (0 = best); fallback candidates carry the
// rank they received from relative re-ranking.
type ScoredCandidate struct {
	Product Product `json:"product"`

	PersonalizeScore float64 `json:"personalize_score"`
	QuestionScore    float64 `json:"question_score"`
	OrderScore       float64 `json:"order_score"`
	TrackingScore    float64 `json:"tracking_score"`

	OracleRank int  `json:"oracle_rank"`
	Fallback   bool `json:"fallback,omitempty"`
}

// WithSignal returns a copy of the candidate with the named signal
// replaced. Unknown signals leave the candidate unchanged.
func (c ScoredCandidate) WithSignal(s Signal, value float64) ScoredCandidate {
	switch s {
	case SignalPersonalize:
		c.PersonalizeScore = value
	case SignalQuestion:
		c.QuestionScore = value
	case SignalOrder:
		c.OrderScore = value
	case SignalTracking:
		c.TrackingScore = value
	}
	return c
}

// Composite computes the weighted sum of the four signals at full
// float64 precision. Ordering decisions must use this value, not the
// rounded display form, so that near ties stay deterministic.
func (c ScoredCandidate) Composite(w ScoringWeights) float64 {
	return c.PersonalizeScore*w.Personalize +
		c.QuestionScore*w.Question +
		c.OrderScore*w.Order +
		c.TrackingScore*w.Tracking
}

// CompositeDisplay is Composite rounded half-up to two decimal
// places, the form surfaced to API clients.
func (c ScoredCandidate) CompositeDisplay(w ScoringWeights) float64 {
	return math.Round(c.Composite(w)*100) / 100
}

// CustomerBucket is the assembled, ordered set of scored candidates
// for one customer, stamped with the weight version it was scored
// under and the time it was built.
type CustomerBucket struct {
	CustomerKey string            `json:"customer_key"`
	Candidates  []ScoredCandidate `json:"candidates"`
	Weights     ScoringWeights    `json:"weights"`
	BuiltAt     time.Time         `json:"built_at"`
	Stale       bool              `json:"stale,omitempty"`
}

// Len reports the number of candidates in the bucket.
func (b *CustomerBucket) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Candidates)
}

// CoerceToZero converts an arbitrary decoded value into a float64
// score. Malformed, missing, or non-finite input yields 0 rather than
// an error: upstream feeds routinely carry empty strings and nulls in
// numeric fields and a single bad value must never sink a bucket
// build.
func CoerceToZero(v any) float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
