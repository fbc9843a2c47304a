package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType is one kind of product engagement a storefront session
// can report.
type ActionType string

const (
	ActionView  ActionType = "view"
	ActionClick ActionType = "click"
	ActionVisit ActionType = "visit"
)

// AnonymousCustomerKey is the shared key under which signed-out
// sessions are tracked until their actions are adopted by a real
// account.
const AnonymousCustomerKey = "BLANK"

// EngagementAction is a single tracked interaction between a session
// and a product. PositionOnPage is the 1-based slot the product
// occupied when the action happened and is required for view and
// click actions, where slot bias matters; visits carry no position.
type EngagementAction struct {
	ID             uuid.UUID  `json:"id"`
	CustomerKey    string     `json:"customer_key"`
	SessionID      string     `json:"session_id" validate:"required"`
	SKU            string     `json:"sku" validate:"required"`
	Action         ActionType `json:"action" validate:"required,oneof=view click visit"`
	PositionOnPage int        `json:"position_on_page,omitempty"`
	ScoreSnapshot  *ScoreTier `json:"score_snapshot,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// ScoreTier captures the candidate's scores at the moment of the
// action, so click-through analysis can correlate engagement with the
// scores the customer actually saw.
type ScoreTier struct {
	Composite   float64 `json:"composite"`
	Personalize float64 `json:"personalize"`
	Question    float64 `json:"question"`
	Order       float64 `json:"order"`
	Tracking    float64 `json:"tracking"`
	Version     int64   `json:"version"`
}

// Validate enforces the synchronous acceptance rules for a tracked
// action. A session identifier is always mandatory; view and click
// actions additionally require a positive page position. Failures are
// ValidationErrors so handlers surface them as 400s.
func (a *EngagementAction) Validate() error {
	if a.SessionID == "" {
		return NewValidationError("session_id", "session identifier is required")
	}
	if a.SKU == "" {
		return NewValidationError("sku", "product sku is required")
	}
	switch a.Action {
	case ActionView, ActionClick:
		if a.PositionOnPage <= 0 {
			return NewValidationError("position_on_page",
				fmt.Sprintf("%s actions require a positive page position", a.Action))
		}
	case ActionVisit:
	default:
		return NewValidationError("action", fmt.Sprintf("unknown action type %q", a.Action))
	}
	return nil
}

// Anonymous reports whether the action belongs to a signed-out
// session.
func (a *EngagementAction) Anonymous() bool {
	return a.CustomerKey == "" || a.CustomerKey == AnonymousCustomerKey
}
