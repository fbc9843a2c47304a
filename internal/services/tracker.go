package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/metrics"
	"github.com/fluxcart/delta/internal/ranking"
	"github.com/fluxcart/delta/pkg/models"
)

// EngagementTracker turns raw view/click/visit reports into durable
// counters and downstream signals. The action commit is the only
// synchronous write and is idempotent per delivery key; archival,
// oracle forwarding, and cache invalidation run on background workers
// and never roll back a committed action.
type EngagementTracker struct {
	scores    ScoredProductWriter
	adopter   guestAdopter
	archiver  ActionArchiver
	oracle    ranking.Oracle
	cache     DeltaCacheInterface
	logger    *logrus.Logger
	queue     chan *models.EngagementAction
	stopChan  chan struct{}
	waitGroup sync.WaitGroup
}

type guestAdopter interface {
	AdoptGuestActions(ctx context.Context, customerKey, sessionID string) (int64, error)
}

func NewEngagementTracker(
	scores ScoredProductWriter,
	adopter guestAdopter,
	archiver ActionArchiver,
	oracle ranking.Oracle,
	cache DeltaCacheInterface,
	queueSize int,
	logger *logrus.Logger,
) *EngagementTracker {
	if queueSize <= 0 {
		queueSize = 1000
	}
	t := &EngagementTracker{
		scores:   scores,
		adopter:  adopter,
		archiver: archiver,
		oracle:   oracle,
		cache:    cache,
		logger:   logger,
		queue:    make(chan *models.EngagementAction, queueSize),
		stopChan: make(chan struct{}),
	}

	for i := 0; i < 3; i++ {
		t.waitGroup.Add(1)
		go t.worker()
	}

	return t
}

// Record validates and persists one engagement action. Validation
// failures surface synchronously before any state changes; a commit
// failure is returned so an at-least-once transport can redeliver. A
// redelivered action (same id) is acknowledged without moving a
// counter or re-running side effects.
func (t *EngagementTracker) Record(ctx context.Context, action *models.EngagementAction) error {
	if err := action.Validate(); err != nil {
		return err
	}

	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.OccurredAt.IsZero() {
		action.OccurredAt = time.Now().UTC()
	}
	if action.CustomerKey == "" {
		action.CustomerKey = models.AnonymousCustomerKey
	}

	committed, err := t.scores.CommitAction(ctx, action)
	if err != nil {
		return err
	}
	if !committed {
		metrics.DuplicateDeliveries.Inc()
		t.logger.WithFields(logrus.Fields{
			"action_id": action.ID,
			"sku":       action.SKU,
		}).Debug("Duplicate delivery ignored")
		return nil
	}

	metrics.ActionsTracked.WithLabelValues(string(action.Action)).Inc()
	t.enqueue(action)
	return nil
}

// RecordBatch records every action in order. All actions are
// validated up front so one malformed report rejects the whole batch
// before any counters move.
func (t *EngagementTracker) RecordBatch(ctx context.Context, actions []*models.EngagementAction) error {
	for _, action := range actions {
		if err := action.Validate(); err != nil {
			return err
		}
	}
	for _, action := range actions {
		if err := t.Record(ctx, action); err != nil {
			return err
		}
	}
	return nil
}

// AdoptGuestActions moves a signed-out session's engagement onto the
// customer who just authenticated, then invalidates their bucket so
// the adopted signals take effect on the next rebuild.
func (t *EngagementTracker) AdoptGuestActions(ctx context.Context, customerKey, sessionID string) (int64, error) {
	if customerKey == "" || customerKey == models.AnonymousCustomerKey {
		return 0, models.NewValidationError("customer_key", "a signed-in customer is required")
	}
	if sessionID == "" {
		return 0, models.NewValidationError("session_id", "session identifier is required")
	}

	adopted, err := t.adopter.AdoptGuestActions(ctx, customerKey, sessionID)
	if err != nil {
		return 0, err
	}

	if adopted > 0 && t.cache != nil {
		if err := t.cache.Invalidate(ctx, customerKey, "guest actions adopted"); err != nil {
			t.logger.WithError(err).WithField("customer_key", customerKey).
				Warn("Failed to invalidate bucket after guest adoption")
		}
	}

	return adopted, nil
}

// Stop drains the background workers. Queued side effects finish
// before Stop returns.
func (t *EngagementTracker) Stop() {
	close(t.stopChan)
	t.waitGroup.Wait()
}

func (t *EngagementTracker) enqueue(action *models.EngagementAction) {
	select {
	case t.queue <- action:
	default:
		// Queue full: run the side effects inline rather than drop a
		// visit invalidation
		t.logger.WithField("session_id", action.SessionID).
			Warn("Engagement queue full, processing side effects inline")
		t.sideEffects(action)
	}
}

func (t *EngagementTracker) worker() {
	defer t.waitGroup.Done()
	for {
		select {
		case action := <-t.queue:
			t.sideEffects(action)
		case <-t.stopChan:
			// Drain remaining actions before exiting
			for {
				select {
				case action := <-t.queue:
					t.sideEffects(action)
				default:
					return
				}
			}
		}
	}
}

// sideEffects runs the best-effort consumers of a committed action.
// Each failure is logged independently; none affects the others.
func (t *EngagementTracker) sideEffects(action *models.EngagementAction) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fields := logrus.Fields{
		"customer_key": action.CustomerKey,
		"sku":          action.SKU,
		"action":       action.Action,
	}

	if t.archiver != nil {
		if err := t.archiver.PublishArchive(ctx, action); err != nil {
			t.logger.WithError(err).WithFields(fields).Warn("Failed to publish action to archive topic")
		}
	}

	if t.oracle != nil && !action.Anonymous() {
		if err := t.oracle.RecordEvent(ctx, action); err != nil {
			t.logger.WithError(err).WithFields(fields).Warn("Failed to forward action to ranking oracle")
		}
	}

	// A visit is the strongest behavioral signal; refresh the
	// customer's bucket soon
	if action.Action == models.ActionVisit && !action.Anonymous() && t.cache != nil {
		if err := t.cache.Invalidate(ctx, action.CustomerKey, "product visited"); err != nil {
			t.logger.WithError(err).WithFields(fields).Warn("Failed to invalidate bucket after visit")
		}
	}
}
