package models

import "time"

// ScoringWeights is one immutable version of the multipliers applied
// to the four scoring signals when a composite score is computed.
// Versions only ever grow; a weight change is a new row, never an
// update in place, so every cached bucket can name the exact weights
// it was scored under.
type ScoringWeights struct {
	Version     int64     `json:"version" db:"version"`
	Personalize float64   `json:"personalize" db:"personalize"`
	Question    float64   `json:"question" db:"question"`
	Order       float64   `json:"order" db:"order_weight"`
	Tracking    float64   `json:"tracking" db:"tracking"`
	UpdatedBy   string    `json:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultScoringWeights returns the neutral weight set used before an
// operator has published any version. All multipliers are 1.0 so the
// composite degrades to a plain sum of the signals.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Version:     0,
		Personalize: 1.0,
		Question:    1.0,
		Order:       1.0,
		Tracking:    1.0,
	}
}

// WeightsUpdate is the payload accepted from the admin surface when
// publishing a new weight version.
type WeightsUpdate struct {
	Personalize float64 `json:"personalize" validate:"gte=0"`
	Question    float64 `json:"question" validate:"gte=0"`
	Order       float64 `json:"order" validate:"gte=0"`
	Tracking    float64 `json:"tracking" validate:"gte=0"`
	UpdatedBy   string  `json:"updated_by,omitempty"`
}
