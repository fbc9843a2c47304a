package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/services"
	"github.com/fluxcart/delta/pkg/models"
)

type BucketHandler struct {
	logger *logrus.Logger
	cache  services.DeltaCacheInterface
	scored *services.ScoredProductService
}

func NewBucketHandler(logger *logrus.Logger, cache services.DeltaCacheInterface, scored *services.ScoredProductService) *BucketHandler {
	return &BucketHandler{
		logger: logger,
		cache:  cache,
		scored: scored,
	}
}

type candidateResponse struct {
	SKU              string  `json:"sku"`
	Name             string  `json:"name"`
	Brand            string  `json:"brand"`
	Price            float64 `json:"price"`
	ImageURL         string  `json:"image_url,omitempty"`
	PersonalizeScore float64 `json:"personalize_score"`
	QuestionScore    float64 `json:"question_score"`
	OrderScore       float64 `json:"order_score"`
	TrackingScore    float64 `json:"tracking_score"`
	Composite        float64 `json:"composite"`
	Fallback         bool    `json:"fallback,omitempty"`
}

type bucketResponse struct {
	CustomerKey   string              `json:"customer_key"`
	Candidates    []candidateResponse `json:"candidates"`
	WeightVersion int64               `json:"weight_version"`
	BuiltAt       string              `json:"built_at"`
	Stale         bool                `json:"stale,omitempty"`
}

// Get serves a customer's bucket from the cache, rebuilding on miss.
// ?stale=true opts into serve-stale-while-revalidating semantics and
// may return a bucket flagged stale instead of waiting for a rebuild.
func (h *BucketHandler) Get(c *gin.Context) {
	customerKey := c.Param("customerKey")
	if customerKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_CUSTOMER_KEY",
				"message": "A customer key is required",
			},
		})
		return
	}

	var bucket *models.CustomerBucket
	var err error
	if c.Query("stale") == "true" {
		bucket, err = h.cache.GetStale(c.Request.Context(), customerKey)
	} else {
		bucket, err = h.cache.Get(c.Request.Context(), customerKey)
	}
	if err != nil {
		h.respondBucketError(c, customerKey, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.renderBucket(bucket)})
}

// Rebuild forces a synchronous recompute, bypassing whatever the
// cache holds.
func (h *BucketHandler) Rebuild(c *gin.Context) {
	customerKey := c.Param("customerKey")

	targetSize := 0
	if raw := c.Query("target_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_TARGET_SIZE",
					"message": "target_size must be a positive integer",
				},
			})
			return
		}
		targetSize = parsed
	}

	bucket, err := h.cache.Rebuild(c.Request.Context(), customerKey, targetSize)
	if err != nil {
		h.respondBucketError(c, customerKey, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    h.renderBucket(bucket),
		"message": "Bucket rebuilt",
	})
}

// Scored pages the customer's persisted scored documents, best
// composite first.
func (h *BucketHandler) Scored(c *gin.Context) {
	customerKey := c.Param("customerKey")

	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	scored, err := h.scored.ListScored(c.Request.Context(), customerKey, limit, offset)
	if err != nil {
		h.respondBucketError(c, customerKey, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"customer_key": customerKey,
			"products":     scored,
			"limit":        limit,
			"offset":       offset,
		},
	})
}

func (h *BucketHandler) renderBucket(bucket *models.CustomerBucket) bucketResponse {
	resp := bucketResponse{
		CustomerKey:   bucket.CustomerKey,
		Candidates:    make([]candidateResponse, 0, len(bucket.Candidates)),
		WeightVersion: bucket.Weights.Version,
		BuiltAt:       bucket.BuiltAt.Format("2006-01-02T15:04:05Z07:00"),
		Stale:         bucket.Stale,
	}
	for _, cand := range bucket.Candidates {
		resp.Candidates = append(resp.Candidates, candidateResponse{
			SKU:              cand.Product.SKU,
			Name:             cand.Product.Name,
			Brand:            cand.Product.Brand,
			Price:            cand.Product.Price,
			ImageURL:         cand.Product.ImageURL,
			PersonalizeScore: cand.PersonalizeScore,
			QuestionScore:    cand.QuestionScore,
			OrderScore:       cand.OrderScore,
			TrackingScore:    cand.TrackingScore,
			Composite:        cand.CompositeDisplay(bucket.Weights),
			Fallback:         cand.Fallback,
		})
	}
	return resp
}

func (h *BucketHandler) respondBucketError(c *gin.Context, customerKey string, err error) {
	var fatal *models.FatalDependencyError
	if errors.As(err, &fatal) {
		h.logger.WithError(err).WithField("customer_key", customerKey).
			Error("Bucket request failed on a fatal dependency")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "A required dependency is unavailable",
			},
		})
		return
	}

	var validation *models.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": validation.Error(),
			},
		})
		return
	}

	h.logger.WithError(err).WithField("customer_key", customerKey).
		Error("Bucket request failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "BUCKET_FAILED",
			"message": "Failed to produce bucket",
		},
	})
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
