package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fluxcart/delta/internal/metrics"
	"github.com/fluxcart/delta/pkg/models"
)

type mockScoredWriter struct {
	mock.Mock
}

func (m *mockScoredWriter) SaveBucketScores(ctx context.Context, bucket *models.CustomerBucket) error {
	args := m.Called(ctx, bucket)
	return args.Error(0)
}

func (m *mockScoredWriter) CommitAction(ctx context.Context, action *models.EngagementAction) (bool, error) {
	args := m.Called(ctx, action)
	return args.Bool(0), args.Error(1)
}

type mockAdopter struct {
	mock.Mock
}

func (m *mockAdopter) AdoptGuestActions(ctx context.Context, customerKey, sessionID string) (int64, error) {
	args := m.Called(ctx, customerKey, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) PublishArchive(ctx context.Context, action *models.EngagementAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, customerKey string) (*models.CustomerBucket, error) {
	args := m.Called(ctx, customerKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomerBucket), args.Error(1)
}

func (m *mockCache) GetStale(ctx context.Context, customerKey string) (*models.CustomerBucket, error) {
	args := m.Called(ctx, customerKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomerBucket), args.Error(1)
}

func (m *mockCache) Rebuild(ctx context.Context, customerKey string, targetSize int) (*models.CustomerBucket, error) {
	args := m.Called(ctx, customerKey, targetSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CustomerBucket), args.Error(1)
}

func (m *mockCache) Invalidate(ctx context.Context, customerKey, reason string) error {
	args := m.Called(ctx, customerKey, reason)
	return args.Error(0)
}

func newTestTracker(t *testing.T) (*EngagementTracker, *mockScoredWriter, *mockAdopter, *mockArchiver, *mockOracle, *mockCache) {
	t.Helper()
	scores := &mockScoredWriter{}
	adopter := &mockAdopter{}
	archiver := &mockArchiver{}
	oracle := &mockOracle{}
	cache := &mockCache{}
	tracker := NewEngagementTracker(scores, adopter, archiver, oracle, cache, 10, testLogger())
	return tracker, scores, adopter, archiver, oracle, cache
}

func TestEngagementTracker_RecordRejectsInvalid(t *testing.T) {
	tracker, scores, _, _, _, _ := newTestTracker(t)
	defer tracker.Stop()

	err := tracker.Record(context.Background(), &models.EngagementAction{
		SKU:    "SKU-1",
		Action: models.ActionVisit,
	})

	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "session_id", ve.Field)

	// Nothing commits on a rejected action
	scores.AssertNotCalled(t, "CommitAction", mock.Anything, mock.Anything)
}

func TestEngagementTracker_RecordDefaultsAndPersists(t *testing.T) {
	tracker, scores, _, archiver, oracle, cache := newTestTracker(t)

	scores.On("CommitAction", mock.Anything, mock.Anything).Return(true, nil)
	archiver.On("PublishArchive", mock.Anything, mock.Anything).Return(nil)
	oracle.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)

	action := &models.EngagementAction{
		CustomerKey:    "cust-1",
		SessionID:      "sess-1",
		SKU:            "SKU-1",
		Action:         models.ActionClick,
		PositionOnPage: 4,
	}

	before := testutil.ToFloat64(metrics.ActionsTracked.WithLabelValues("click"))

	err := tracker.Record(context.Background(), action)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, action.ID)
	assert.False(t, action.OccurredAt.IsZero())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ActionsTracked.WithLabelValues("click")))

	tracker.Stop() // drain side effects

	scores.AssertCalled(t, "CommitAction", mock.Anything, action)
	archiver.AssertCalled(t, "PublishArchive", mock.Anything, action)
	oracle.AssertCalled(t, "RecordEvent", mock.Anything, action)
	cache.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngagementTracker_RedeliveredActionCountsOnce(t *testing.T) {
	tracker, scores, _, archiver, oracle, _ := newTestTracker(t)

	scores.On("CommitAction", mock.Anything, mock.Anything).Return(true, nil).Once()
	scores.On("CommitAction", mock.Anything, mock.Anything).Return(false, nil).Once()
	archiver.On("PublishArchive", mock.Anything, mock.Anything).Return(nil)
	oracle.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)

	action := &models.EngagementAction{
		ID:             uuid.New(),
		CustomerKey:    "cust-1",
		SessionID:      "sess-1",
		SKU:            "SKU-1",
		Action:         models.ActionClick,
		PositionOnPage: 2,
	}

	require.NoError(t, tracker.Record(context.Background(), action))
	// Same delivery key again, as an at-least-once transport would
	require.NoError(t, tracker.Record(context.Background(), action))

	tracker.Stop()

	// The second delivery is acknowledged but produces no side effects
	scores.AssertNumberOfCalls(t, "CommitAction", 2)
	archiver.AssertNumberOfCalls(t, "PublishArchive", 1)
	oracle.AssertNumberOfCalls(t, "RecordEvent", 1)
}

func TestEngagementTracker_AnonymousDefaultsToBlank(t *testing.T) {
	tracker, scores, _, archiver, oracle, _ := newTestTracker(t)

	scores.On("CommitAction", mock.Anything, mock.Anything).Return(true, nil)
	archiver.On("PublishArchive", mock.Anything, mock.Anything).Return(nil)

	action := &models.EngagementAction{
		SessionID:      "sess-guest",
		SKU:            "SKU-1",
		Action:         models.ActionView,
		PositionOnPage: 1,
	}

	err := tracker.Record(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, models.AnonymousCustomerKey, action.CustomerKey)

	tracker.Stop()

	// Anonymous sessions never reach the ranking oracle
	oracle.AssertNotCalled(t, "RecordEvent", mock.Anything, mock.Anything)
}

func TestEngagementTracker_VisitInvalidatesBucket(t *testing.T) {
	tracker, scores, _, archiver, oracle, cache := newTestTracker(t)

	scores.On("CommitAction", mock.Anything, mock.Anything).Return(true, nil)
	archiver.On("PublishArchive", mock.Anything, mock.Anything).Return(nil)
	oracle.On("RecordEvent", mock.Anything, mock.Anything).Return(nil)
	cache.On("Invalidate", mock.Anything, "cust-1", mock.Anything).Return(nil)

	err := tracker.Record(context.Background(), &models.EngagementAction{
		CustomerKey: "cust-1",
		SessionID:   "sess-1",
		SKU:         "SKU-1",
		Action:      models.ActionVisit,
	})
	require.NoError(t, err)

	tracker.Stop()

	cache.AssertCalled(t, "Invalidate", mock.Anything, "cust-1", mock.Anything)
}

func TestEngagementTracker_CommitFailureSurfaces(t *testing.T) {
	tracker, scores, _, archiver, _, _ := newTestTracker(t)
	defer tracker.Stop()

	scores.On("CommitAction", mock.Anything, mock.Anything).
		Return(false, errors.New("pg down"))

	err := tracker.Record(context.Background(), &models.EngagementAction{
		CustomerKey: "cust-1",
		SessionID:   "sess-1",
		SKU:         "SKU-1",
		Action:      models.ActionVisit,
	})
	assert.Error(t, err)

	// No side effects for an uncommitted action
	archiver.AssertNotCalled(t, "PublishArchive", mock.Anything, mock.Anything)
}

func TestEngagementTracker_RecordBatchValidatesUpFront(t *testing.T) {
	tracker, scores, _, _, _, _ := newTestTracker(t)
	defer tracker.Stop()

	batch := []*models.EngagementAction{
		{CustomerKey: "cust-1", SessionID: "sess-1", SKU: "A", Action: models.ActionView, PositionOnPage: 1},
		{CustomerKey: "cust-1", SKU: "B", Action: models.ActionView, PositionOnPage: 2}, // missing session
	}

	err := tracker.RecordBatch(context.Background(), batch)
	assert.True(t, models.IsValidation(err))

	// The valid first action must not have been recorded either
	scores.AssertNotCalled(t, "CommitAction", mock.Anything, mock.Anything)
}

func TestEngagementTracker_AdoptGuestActions(t *testing.T) {
	tracker, _, adopter, _, _, cache := newTestTracker(t)
	defer tracker.Stop()

	adopter.On("AdoptGuestActions", mock.Anything, "cust-1", "sess-guest").Return(int64(5), nil)
	cache.On("Invalidate", mock.Anything, "cust-1", mock.Anything).Return(nil)

	adopted, err := tracker.AdoptGuestActions(context.Background(), "cust-1", "sess-guest")
	require.NoError(t, err)
	assert.Equal(t, int64(5), adopted)
	cache.AssertCalled(t, "Invalidate", mock.Anything, "cust-1", mock.Anything)
}

func TestEngagementTracker_AdoptGuestActionsNothingToAdopt(t *testing.T) {
	tracker, _, adopter, _, _, cache := newTestTracker(t)
	defer tracker.Stop()

	adopter.On("AdoptGuestActions", mock.Anything, "cust-1", "sess-guest").Return(int64(0), nil)

	adopted, err := tracker.AdoptGuestActions(context.Background(), "cust-1", "sess-guest")
	require.NoError(t, err)
	assert.Zero(t, adopted)
	cache.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngagementTracker_AdoptGuestActionsRejectsAnonymousTarget(t *testing.T) {
	tracker, _, adopter, _, _, _ := newTestTracker(t)
	defer tracker.Stop()

	_, err := tracker.AdoptGuestActions(context.Background(), models.AnonymousCustomerKey, "sess-guest")
	assert.True(t, models.IsValidation(err))

	_, err = tracker.AdoptGuestActions(context.Background(), "cust-1", "")
	assert.True(t, models.IsValidation(err))

	adopter.AssertNotCalled(t, "AdoptGuestActions", mock.Anything, mock.Anything, mock.Anything)
}
