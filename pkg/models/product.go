package models

import (
	"time"
)

// Product is a single sellable item from the catalog store. Attribute
// fields mirror the catalog feed and are the inputs to signal
// aggregation, so they are kept as plain strings and normalized at
// aggregation time rather than on ingest.
type Product struct {
	SKU            string    `json:"sku" db:"sku"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description,omitempty" db:"description"`
	Brand          string    `json:"brand" db:"brand"`
	Gender         string    `json:"gender" db:"gender"`
	ProductType    string    `json:"product_type" db:"product_type"`
	ProductSubType string    `json:"product_sub_type" db:"product_sub_type"`
	Color          string    `json:"color" db:"color"`
	Price          float64   `json:"price" db:"price"`
	Discount       float64   `json:"discount,omitempty" db:"discount"`
	Sizes          []string  `json:"sizes,omitempty" db:"sizes"`
	ImageURL       string    `json:"image_url,omitempty" db:"image_url"`
	CreatedAt      time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// OrderLine is one purchased item from a customer's order history.
// Lines are denormalized at write time so history queries never join
// back into the catalog.
type OrderLine struct {
	CustomerKey    string    `json:"customer_key" db:"customer_key"`
	SKU            string    `json:"sku" db:"sku"`
	ProductName    string    `json:"product_name" db:"product_name"`
	Brand          string    `json:"brand" db:"brand"`
	Gender         string    `json:"gender" db:"gender"`
	ProductType    string    `json:"product_type" db:"product_type"`
	ProductSubType string    `json:"product_sub_type" db:"product_sub_type"`
	Color          string    `json:"color" db:"color"`
	Size           string    `json:"size" db:"size"`
	OrderedAt      time.Time `json:"ordered_at" db:"ordered_at"`
}

// QuestionAnswer is one answered profile question. TargetAttribute
// identifies which product or customer attribute the question is
// about (for example "product.brand"); Answers holds the selected
// values verbatim.
type QuestionAnswer struct {
	CustomerKey     string    `json:"customer_key" db:"customer_key"`
	QuestionID      string    `json:"question_id" db:"question_id"`
	TargetAttribute string    `json:"target_attribute" db:"target_attribute"`
	Answers         []string  `json:"answers" db:"answers"`
	AnsweredAt      time.Time `json:"answered_at" db:"answered_at"`
}

// EngagementCounters are the lifetime per-product counters maintained
// by the engagement tracker for one customer and SKU.
type EngagementCounters struct {
	Views  int64 `json:"views" db:"views"`
	Clicks int64 `json:"clicks" db:"clicks"`
	Visits int64 `json:"visits" db:"visits"`
}
