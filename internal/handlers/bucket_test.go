package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fluxcart/delta/internal/services"
	"github.com/fluxcart/delta/pkg/models"
)

type mockBucketCache struct {
	mock.Mock
}

func (m *mockBucketCache) Get(ctx context.Context, customerKey string) (*models.CustomerBucket, error) {
	args := m.Called(ctx, customerKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomerBucket), args.Error(1)
}

func (m *mockBucketCache) GetStale(ctx context.Context, customerKey string) (*models.CustomerBucket, error) {
	args := m.Called(ctx, customerKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomerBucket), args.Error(1)
}

func (m *mockBucketCache) Rebuild(ctx context.Context, customerKey string, targetSize int) (*models.CustomerBucket, error) {
	args := m.Called(ctx, customerKey, targetSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomerBucket), args.Error(1)
}

func (m *mockBucketCache) Invalidate(ctx context.Context, customerKey, reason string) error {
	args := m.Called(ctx, customerKey, reason)
	return args.Error(0)
}

func testBucketRouter(t *testing.T, scored *services.ScoredProductService) (*gin.Engine, *mockBucketCache) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cache := &mockBucketCache{}
	handler := NewBucketHandler(logger, cache, scored)

	router := gin.New()
	router.GET("/bucket/:customerKey", handler.Get)
	router.POST("/bucket/:customerKey/rebuild", handler.Rebuild)
	router.GET("/bucket/:customerKey/scored", handler.Scored)
	return router, cache
}

func sampleBucket() *models.CustomerBucket {
	return &models.CustomerBucket{
		CustomerKey: "cust-1",
		Weights:     models.DefaultScoringWeights(),
		BuiltAt:     time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
		Candidates: []models.ScoredCandidate{
			{
				Product:          models.Product{SKU: "A", Name: "Alpha", Brand: "Acme", Price: 19.99},
				PersonalizeScore: 10,
				OrderScore:       5,
			},
			{
				Product:       models.Product{SKU: "B", Name: "Beta", Brand: "Globex", Price: 9.99},
				QuestionScore: 8,
				TrackingScore: 6,
				Fallback:      true,
			},
		},
	}
}

func TestBucketHandler_Get(t *testing.T) {
	router, cache := testBucketRouter(t, nil)

	cache.On("Get", mock.Anything, "cust-1").Return(sampleBucket(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bucket/cust-1", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			CustomerKey string `json:"customer_key"`
			Candidates  []struct {
				SKU       string  `json:"sku"`
				Composite float64 `json:"composite"`
				Fallback  bool    `json:"fallback"`
			} `json:"candidates"`
			WeightVersion int64 `json:"weight_version"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "cust-1", resp.Data.CustomerKey)
	require.Len(t, resp.Data.Candidates, 2)
	assert.Equal(t, "A", resp.Data.Candidates[0].SKU)
	assert.Equal(t, 15.00, resp.Data.Candidates[0].Composite)
	assert.Equal(t, "B", resp.Data.Candidates[1].SKU)
	assert.Equal(t, 14.00, resp.Data.Candidates[1].Composite)
	assert.True(t, resp.Data.Candidates[1].Fallback)

	cache.AssertNotCalled(t, "GetStale", mock.Anything, mock.Anything)
}

func TestBucketHandler_GetStaleOptIn(t *testing.T) {
	router, cache := testBucketRouter(t, nil)

	stale := sampleBucket()
	stale.Stale = true
	cache.On("GetStale", mock.Anything, "cust-1").Return(stale, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bucket/cust-1?stale=true", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stale":true`)
	cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestBucketHandler_Rebuild(t *testing.T) {
	router, cache := testBucketRouter(t, nil)

	cache.On("Rebuild", mock.Anything, "cust-1", 100).Return(sampleBucket(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bucket/cust-1/rebuild?target_size=100", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	cache.AssertExpectations(t)
}

func TestBucketHandler_RebuildRejectsBadTargetSize(t *testing.T) {
	router, cache := testBucketRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bucket/cust-1/rebuild?target_size=-5", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	cache.AssertNotCalled(t, "Rebuild", mock.Anything, mock.Anything, mock.Anything)
}

func TestBucketHandler_FatalDependencyMapsTo503(t *testing.T) {
	router, cache := testBucketRouter(t, nil)

	cache.On("Get", mock.Anything, "cust-1").
		Return(nil, models.NewFatalDependencyError("catalog", assert.AnError))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bucket/cust-1", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBucketHandler_Scored(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	scored := services.NewScoredProductService(mockDB, logger)

	router, _ := testBucketRouter(t, scored)

	rows := pgxmock.NewRows([]string{
		"customer_key", "sku", "personalize_score", "question_score",
		"order_score", "tracking_score", "composite_score", "weight_version",
		"views", "clicks", "visits", "updated_at",
	}).AddRow(
		"cust-1", "A", 10.0, 0.0, 5.0, 0.0, 15.0, int64(3),
		int64(4), int64(1), int64(0), time.Now().UTC(),
	)

	mockDB.ExpectQuery("SELECT").WithArgs("cust-1", 50, 0).WillReturnRows(rows)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bucket/cust-1/scored", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"customer_key":"cust-1"`)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}
