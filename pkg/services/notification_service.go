package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/notify"
	"github.com/backsoul/leadquiz/pkg/store"
)

var ErrNotificationInFlight = errors.New("notification already being sent for this attempt")

const successDisplay = 3 * time.Second

// Notifier delivers an attempt notification
type Notifier interface {
	Configured() bool
	Notify(ctx context.Context, n models.AttemptNotification) error
}

// NotificationService sends operator-triggered attempt notifications and
// tracks their status per attempt
type NotificationService struct {
	store      store.Store
	notifier   Notifier
	log        *logger.Logger
	clearAfter time.Duration

	mu     sync.Mutex
	status map[string]string
	timers map[string]*time.Timer
}

func NewNotificationService(st store.Store, notifier Notifier, log *logger.Logger) *NotificationService {
	return &NotificationService{
		store:      st,
		notifier:   notifier,
		log:        log.With("service", "NotificationService"),
		clearAfter: successDisplay,
		status:     make(map[string]string),
		timers:     make(map[string]*time.Timer),
	}
}

// Send posts the attempt and its respondent to the webhook. A success
// status clears itself after a few seconds; an error stays until retried.
func (s *NotificationService) Send(ctx context.Context, attemptID string) error {
	if !s.notifier.Configured() {
		return notify.ErrNotConfigured
	}

	s.mu.Lock()
	if s.status[attemptID] == models.NotificationSending {
		s.mu.Unlock()
		return ErrNotificationInFlight
	}
	if t, ok := s.timers[attemptID]; ok {
		t.Stop()
		delete(s.timers, attemptID)
	}
	s.status[attemptID] = models.NotificationSending
	s.mu.Unlock()

	err := s.deliver(ctx, attemptID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status[attemptID] = models.NotificationError
		s.log.Error("error sending notification", "attempt_id", attemptID, "error", err)
		return err
	}
	s.status[attemptID] = models.NotificationSuccess
	var timer *time.Timer
	timer = time.AfterFunc(s.clearAfter, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.timers[attemptID] == timer && s.status[attemptID] == models.NotificationSuccess {
			delete(s.status, attemptID)
			delete(s.timers, attemptID)
		}
	})
	s.timers[attemptID] = timer
	s.log.Info("notification sent", "attempt_id", attemptID)
	return nil
}

func (s *NotificationService) deliver(ctx context.Context, attemptID string) error {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("loading attempt: %w", err)
	}
	user, err := s.store.GetUser(ctx, attempt.UserID)
	if err != nil {
		return fmt.Errorf("loading user %s: %w", attempt.UserID, err)
	}
	return s.notifier.Notify(ctx, models.NewAttemptNotification(attempt, user))
}

// Status is the current notification status of an attempt, empty when idle
func (s *NotificationService) Status(attemptID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[attemptID]
}

// Statuses copies every non-idle status
func (s *NotificationService) Statuses() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}
