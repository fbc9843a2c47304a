package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/services"
	"github.com/fluxcart/delta/internal/validation"
	"github.com/fluxcart/delta/pkg/models"
)

type TrackingHandler struct {
	logger    *logrus.Logger
	tracker   services.EngagementTrackerInterface
	validator *validator.Validate
	schemas   *validation.SchemaValidator
}

func NewTrackingHandler(logger *logrus.Logger, tracker services.EngagementTrackerInterface, schemas *validation.SchemaValidator) *TrackingHandler {
	return &TrackingHandler{
		logger:    logger,
		tracker:   tracker,
		validator: validator.New(),
		schemas:   schemas,
	}
}

type trackActionRequest struct {
	CustomerKey    string                `json:"customer_key"`
	SessionID      string                `json:"session_id" validate:"required"`
	SKU            string                `json:"sku" validate:"required"`
	PositionOnPage int                   `json:"position_on_page"`
	ScoreSnapshot  *scoreSnapshotPayload `json:"score_snapshot,omitempty"`
}

// scoreSnapshotPayload accepts the snapshot numerics untyped. Clients
// echo back whatever the bucket response carried, and storefront
// pipelines are known to stringify or null these fields in transit;
// malformed values coerce to zero instead of rejecting the action.
type scoreSnapshotPayload struct {
	Composite   any   `json:"composite"`
	Personalize any   `json:"personalize"`
	Question    any   `json:"question"`
	Order       any   `json:"order"`
	Tracking    any   `json:"tracking"`
	Version     int64 `json:"version"`
}

func (p *scoreSnapshotPayload) toModel() *models.ScoreTier {
	if p == nil {
		return nil
	}
	return &models.ScoreTier{
		Composite:   models.CoerceToZero(p.Composite),
		Personalize: models.CoerceToZero(p.Personalize),
		Question:    models.CoerceToZero(p.Question),
		Order:       models.CoerceToZero(p.Order),
		Tracking:    models.CoerceToZero(p.Tracking),
		Version:     p.Version,
	}
}

type trackBatchRequest struct {
	Actions []trackBatchItem `json:"actions" validate:"required,min=1,max=100,dive"`
}

type trackBatchItem struct {
	trackActionRequest
	Action string `json:"action" validate:"required,oneof=view click visit"`
}

type adoptRequest struct {
	CustomerKey string `json:"customer_key" validate:"required"`
	SessionID   string `json:"session_id" validate:"required"`
}

func (h *TrackingHandler) TrackView(c *gin.Context) {
	h.trackSingle(c, models.ActionView)
}

func (h *TrackingHandler) TrackClick(c *gin.Context) {
	h.trackSingle(c, models.ActionClick)
}

func (h *TrackingHandler) TrackVisit(c *gin.Context) {
	h.trackSingle(c, models.ActionVisit)
}

func (h *TrackingHandler) trackSingle(c *gin.Context, actionType models.ActionType) {
	body, err := c.GetRawData()
	if err != nil {
		h.respondBindError(c, err)
		return
	}

	if result := h.schemas.ValidatePayload("track_action", body); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "SCHEMA_VALIDATION_FAILED",
				"message": "Request payload failed schema validation",
				"details": result.Errors,
			},
		})
		return
	}

	var req trackActionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondBindError(c, err)
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		h.respondValidatorError(c, err)
		return
	}

	action := &models.EngagementAction{
		CustomerKey:    req.CustomerKey,
		SessionID:      req.SessionID,
		SKU:            req.SKU,
		Action:         actionType,
		PositionOnPage: req.PositionOnPage,
		ScoreSnapshot:  req.ScoreSnapshot.toModel(),
	}

	if err := h.tracker.Record(c.Request.Context(), action); err != nil {
		h.respondTrackingError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data": gin.H{
			"id":     action.ID,
			"action": action.Action,
			"sku":    action.SKU,
		},
		"message": "Action recorded",
	})
}

func (h *TrackingHandler) TrackBatch(c *gin.Context) {
	var req trackBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		h.respondValidatorError(c, err)
		return
	}

	actions := make([]*models.EngagementAction, 0, len(req.Actions))
	for _, item := range req.Actions {
		actions = append(actions, &models.EngagementAction{
			CustomerKey:    item.CustomerKey,
			SessionID:      item.SessionID,
			SKU:            item.SKU,
			Action:         models.ActionType(item.Action),
			PositionOnPage: item.PositionOnPage,
			ScoreSnapshot:  item.ScoreSnapshot.toModel(),
		})
	}

	if err := h.tracker.RecordBatch(c.Request.Context(), actions); err != nil {
		h.respondTrackingError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":    gin.H{"recorded": len(actions)},
		"message": "Batch recorded",
	})
}

// AdoptGuest moves a signed-out session's engagement onto the
// authenticated customer.
func (h *TrackingHandler) AdoptGuest(c *gin.Context) {
	var req adoptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		h.respondValidatorError(c, err)
		return
	}

	adopted, err := h.tracker.AdoptGuestActions(c.Request.Context(), req.CustomerKey, req.SessionID)
	if err != nil {
		h.respondTrackingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    gin.H{"adopted": adopted},
		"message": "Guest actions adopted",
	})
}

func (h *TrackingHandler) respondBindError(c *gin.Context, err error) {
	h.logger.WithError(err).Debug("Failed to bind tracking request")
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    "INVALID_REQUEST",
			"message": "Invalid request format",
			"details": err.Error(),
		},
	})
}

func (h *TrackingHandler) respondValidatorError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    "VALIDATION_FAILED",
			"message": "Request validation failed",
			"details": err.Error(),
		},
	})
}

func (h *TrackingHandler) respondTrackingError(c *gin.Context, err error) {
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": validation.Error(),
				"field":   validation.Field,
			},
		})
		return
	}

	h.logger.WithError(err).Error("Failed to record engagement")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "TRACKING_FAILED",
			"message": "Failed to record action",
		},
	})
}
