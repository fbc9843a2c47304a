package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fluxcart/delta/internal/validation"
	"github.com/fluxcart/delta/pkg/models"
)

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) Record(ctx context.Context, action *models.EngagementAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *mockTracker) RecordBatch(ctx context.Context, actions []*models.EngagementAction) error {
	args := m.Called(ctx, actions)
	return args.Error(0)
}

func (m *mockTracker) AdoptGuestActions(ctx context.Context, customerKey, sessionID string) (int64, error) {
	args := m.Called(ctx, customerKey, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func testTrackingRouter(t *testing.T) (*gin.Engine, *mockTracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	schemas, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	tracker := &mockTracker{}
	handler := NewTrackingHandler(logger, tracker, schemas)

	router := gin.New()
	router.POST("/track/view", handler.TrackView)
	router.POST("/track/click", handler.TrackClick)
	router.POST("/track/visit", handler.TrackVisit)
	router.POST("/track/batch", handler.TrackBatch)
	router.POST("/track/adopt", handler.AdoptGuest)
	return router, tracker
}

func postJSON(router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTrackingHandler_TrackView(t *testing.T) {
	router, tracker := testTrackingRouter(t)

	tracker.On("Record", mock.Anything, mock.MatchedBy(func(a *models.EngagementAction) bool {
		return a.Action == models.ActionView && a.SKU == "SKU-1" && a.PositionOnPage == 3
	})).Return(nil)

	w := postJSON(router, "/track/view", gin.H{
		"customer_key":     "cust-1",
		"session_id":       "sess-1",
		"sku":              "SKU-1",
		"position_on_page": 3,
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	tracker.AssertExpectations(t)
}

func TestTrackingHandler_SnapshotCoercesMalformedNumerics(t *testing.T) {
	router, tracker := testTrackingRouter(t)

	tracker.On("Record", mock.Anything, mock.MatchedBy(func(a *models.EngagementAction) bool {
		s := a.ScoreSnapshot
		return s != nil &&
			s.Composite == 3.5 && // stringified number parses
			s.Personalize == 0 && // null coerces to zero
			s.Question == 0 && // junk coerces to zero
			s.Order == 2 &&
			s.Tracking == 1.5 &&
			s.Version == 3
	})).Return(nil)

	w := postJSON(router, "/track/click", gin.H{
		"session_id":       "sess-1",
		"sku":              "SKU-1",
		"position_on_page": 1,
		"score_snapshot": gin.H{
			"composite":   "3.5",
			"personalize": nil,
			"question":    "n/a",
			"order":       2,
			"tracking":    1.5,
			"version":     3,
		},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	tracker.AssertExpectations(t)
}

func TestTrackingHandler_MissingSessionRejected(t *testing.T) {
	router, tracker := testTrackingRouter(t)

	w := postJSON(router, "/track/visit", gin.H{
		"customer_key": "cust-1",
		"sku":          "SKU-1",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	tracker.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestTrackingHandler_UnknownFieldRejected(t *testing.T) {
	router, tracker := testTrackingRouter(t)

	w := postJSON(router, "/track/click", gin.H{
		"session_id":       "sess-1",
		"sku":              "SKU-1",
		"position_on_page": 1,
		"rating":           5,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	tracker.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestTrackingHandler_ValidationErrorMapsTo400(t *testing.T) {
	router, tracker := testTrackingRouter(t)

	tracker.On("Record", mock.Anything, mock.Anything).
		Return(models.NewValidationError("position_on_page", "view actions require a positive page position"))

	w := postJSON(router, "/track/view", gin.H{
		"session_id": "sess-1",
		"sku":        "SKU-1",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackingHandler_TrackBatch(t *testing.T) {
	router, tracker := testTrackingRouter(t)

	tracker.On("RecordBatch", mock.Anything, mock.MatchedBy(func(actions []*models.EngagementAction) bool {
		return len(actions) == 2 &&
			actions[0].Action == models.ActionView &&
			actions[1].Action == models.ActionVisit
	})).Return(nil)

	w := postJSON(router, "/track/batch", gin.H{
		"actions": []gin.H{
			{"session_id": "sess-1", "sku": "A", "action": "view", "position_on_page": 1},
			{"session_id": "sess-1", "sku": "B", "action": "visit"},
		},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	tracker.AssertExpectations(t)
}

func TestTrackingHandler_TrackBatchRejectsUnknownAction(t *testing.T) {
	router, tracker := testTrackingRouter(t)

	w := postJSON(router, "/track/batch", gin.H{
		"actions": []gin.H{
			{"session_id": "sess-1", "sku": "A", "action": "purchase", "position_on_page": 1},
		},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	tracker.AssertNotCalled(t, "RecordBatch", mock.Anything, mock.Anything)
}

func TestTrackingHandler_AdoptGuest(t *testing.T) {
	router, tracker := testTrackingRouter(t)

	tracker.On("AdoptGuestActions", mock.Anything, "cust-1", "sess-guest").Return(int64(7), nil)

	w := postJSON(router, "/track/adopt", gin.H{
		"customer_key": "cust-1",
		"session_id":   "sess-guest",
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Adopted int64 `json:"adopted"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.Data.Adopted)
}
