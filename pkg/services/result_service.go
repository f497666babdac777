package services

import (
	"context"
	"sync"
	"time"

	"github.com/backsoul/leadquiz/pkg/event"
	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store"
	"github.com/backsoul/leadquiz/pkg/websocket"
	"github.com/google/uuid"
)

const (
	maxRecentFailures = 50
	enqueueTimeout    = 5 * time.Second
)

// RetryQueue takes attempts the store refused and writes them again later
type RetryQueue interface {
	EnqueueAttempt(ctx context.Context, a models.Attempt) error
}

// Broadcaster pushes a typed message to websocket subscribers of a topic
type Broadcaster interface {
	Publish(topic, msgType string, data interface{})
}

// ResultService writes users and attempts to the record store. Store
// failures never reach the respondent: they are logged, pushed to
// operators and kept for the dashboard.
type ResultService struct {
	store     store.Store
	publisher event.Publisher
	hub       Broadcaster
	log       *logger.Logger
	timeout   time.Duration
	now       func() time.Time
	retries   RetryQueue

	mu       sync.Mutex
	failures []models.PersistenceFailure
	wg       sync.WaitGroup
}

func NewResultService(st store.Store, publisher event.Publisher, hub Broadcaster, timeout time.Duration, log *logger.Logger) *ResultService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ResultService{
		store:     st,
		publisher: publisher,
		hub:       hub,
		log:       log.With("service", "ResultService"),
		timeout:   timeout,
		now:       time.Now,
	}
}

// UseRetryQueue sends attempts that fail to save to q. Call before any
// session completes.
func (s *ResultService) UseRetryQueue(q RetryQueue) {
	s.retries = q
}

// PersistUser upserts the respondent by email. When the store fails the
// returned user carries models.TempUserID and the quiz goes on.
func (s *ResultService) PersistUser(ctx context.Context, in models.UserInput) models.User {
	user, err := s.store.UpsertUser(ctx, in)
	if err != nil {
		s.log.Error("failed to save user", "email", in.Email, "error", err)
		s.recordFailure(models.PersistenceFailure{
			Kind:   "user",
			UserID: models.TempUserID,
			Email:  in.Email,
			Error:  err.Error(),
		})
		return models.User{
			ID:         models.TempUserID,
			Name:       in.Name,
			Email:      in.Email,
			ProfileURL: in.ProfileURL,
			CreatedAt:  s.now().UTC(),
		}
	}

	s.publish(ctx, event.Event{Type: event.UserRegistered, UserID: user.ID, Payload: user})
	return user
}

// PersistAttempt stores the attempt and returns it with its id. The id is
// fixed before the first write so a queued retry can never store a second
// copy. A failed write is recorded and, when a retry queue is set, queued.
func (s *ResultService) PersistAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	stored, err := s.insertAttempt(ctx, a)
	if err == nil {
		return stored, nil
	}

	s.log.Error("failed to save quiz attempt", "attempt_id", a.ID, "attempt_user_id", a.UserID, "error", err)
	f := models.PersistenceFailure{
		Kind:      "attempt",
		AttemptID: a.ID,
		UserID:    a.UserID,
		Error:     err.Error(),
	}
	if s.retries != nil {
		// the write may have failed on ctx's own deadline
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		qerr := s.retries.EnqueueAttempt(qctx, a)
		cancel()
		if qerr != nil {
			s.log.Error("failed to queue attempt retry", "attempt_user_id", a.UserID, "error", qerr)
		} else {
			f.Queued = true
		}
	}
	s.recordFailure(f)
	return models.Attempt{}, err
}

// RetryAttempt is the retry queue worker. Errors go back to the queue.
func (s *ResultService) RetryAttempt(ctx context.Context, a models.Attempt) error {
	stored, err := s.insertAttempt(ctx, a)
	if err != nil {
		return err
	}
	s.log.Info("queued quiz attempt saved", "attempt_id", stored.ID)
	return nil
}

func (s *ResultService) insertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	stored, err := s.store.InsertAttempt(ctx, a)
	if err != nil {
		return models.Attempt{}, err
	}

	s.log.Info("quiz attempt saved", "attempt_id", stored.ID, "attempt_user_id", stored.UserID, "score_percentage", stored.ScorePercentage)
	s.publish(ctx, event.Event{Type: event.AttemptCompleted, UserID: stored.UserID, AttemptID: stored.ID, Payload: stored})
	s.hub.Publish(websocket.OperatorsTopic, "attempt_saved", map[string]interface{}{
		"attemptId":       stored.ID,
		"userId":          stored.UserID,
		"scorePercentage": stored.ScorePercentage,
	})
	return stored, nil
}

// PersistAttemptAsync stores the attempt in the background with its own timeout
func (s *ResultService) PersistAttemptAsync(a models.Attempt) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.PersistAttempt(ctx, a)
	}()
}

// Wait blocks until background writes finish
func (s *ResultService) Wait() {
	s.wg.Wait()
}

// Failures returns recent persistence failures, newest first
func (s *ResultService) Failures() []models.PersistenceFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PersistenceFailure, len(s.failures))
	for i, f := range s.failures {
		out[len(s.failures)-1-i] = f
	}
	return out
}

func (s *ResultService) recordFailure(f models.PersistenceFailure) {
	f.OccurredAt = s.now().UTC()
	s.mu.Lock()
	s.failures = append(s.failures, f)
	if len(s.failures) > maxRecentFailures {
		s.failures = s.failures[len(s.failures)-maxRecentFailures:]
	}
	s.mu.Unlock()
	s.hub.Publish(websocket.OperatorsTopic, "persistence_failed", f)
}

func (s *ResultService) publish(ctx context.Context, e event.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("failed to publish event", "event_type", e.Type, "error", err)
	}
}
