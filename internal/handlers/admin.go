package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/services"
	"github.com/fluxcart/delta/internal/validation"
	"github.com/fluxcart/delta/pkg/models"
)

type AdminHandler struct {
	logger    *logrus.Logger
	weights   *services.WeightService
	analytics *services.AnalyticsService
	bus       kafkaMetricsSource
	validator *validator.Validate
	schemas   *validation.SchemaValidator
}

type kafkaMetricsSource interface {
	GetMetrics() map[string]interface{}
}

func NewAdminHandler(
	logger *logrus.Logger,
	weights *services.WeightService,
	analytics *services.AnalyticsService,
	bus kafkaMetricsSource,
	schemas *validation.SchemaValidator,
) *AdminHandler {
	return &AdminHandler{
		logger:    logger,
		weights:   weights,
		analytics: analytics,
		bus:       bus,
		validator: validator.New(),
		schemas:   schemas,
	}
}

// GetWeights returns the weight version currently applied to
// rebuilds.
func (h *AdminHandler) GetWeights(c *gin.Context) {
	weights, err := h.weights.Current(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load scoring weights")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "WEIGHTS_UNAVAILABLE",
				"message": "Failed to load scoring weights",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": weights})
}

// PutWeights publishes a new weight version. Cached buckets keep the
// version they were scored under; the new weights apply from the next
// rebuild.
func (h *AdminHandler) PutWeights(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
				"details": err.Error(),
			},
		})
		return
	}

	if result := h.schemas.ValidatePayload("weights_update", body); !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "SCHEMA_VALIDATION_FAILED",
				"message": "Request payload failed schema validation",
				"details": result.Errors,
			},
		})
		return
	}

	var update models.WeightsUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
				"details": err.Error(),
			},
		})
		return
	}

	if err := h.validator.Struct(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	weights, err := h.weights.Publish(c.Request.Context(), update)
	if err != nil {
		h.logger.WithError(err).Error("Failed to publish scoring weights")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "WEIGHTS_PUBLISH_FAILED",
				"message": "Failed to publish scoring weights",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    weights,
		"message": "Weights published",
	})
}

// WeightHistory lists recent weight versions, newest first.
func (h *AdminHandler) WeightHistory(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)
	if limit < 1 || limit > 200 {
		limit = 20
	}

	history, err := h.weights.History(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load weight history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "WEIGHTS_UNAVAILABLE",
				"message": "Failed to load weight history",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

// ClickThroughReport aggregates the engagement log over a window,
// defaulting to the last seven days.
func (h *AdminHandler) ClickThroughReport(c *gin.Context) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_WINDOW",
					"message": "from must be RFC3339",
				},
			})
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_WINDOW",
					"message": "to must be RFC3339",
				},
			})
			return
		}
		to = parsed
	}

	report, err := h.analytics.ClickThrough(c.Request.Context(), from, to)
	if err != nil {
		h.logger.WithError(err).Error("Failed to build click-through report")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "REPORT_FAILED",
				"message": "Failed to build click-through report",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

// QueueMetrics exposes the invalidation consumer's Kafka statistics.
func (h *AdminHandler) QueueMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.bus.GetMetrics()})
}
