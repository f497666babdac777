package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backsoul/leadquiz/pkg/event"
	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store"
)

type fakeRetryQueue struct {
	mu      sync.Mutex
	err     error
	queued  []models.Attempt
	ctxErrs []error
}

func (q *fakeRetryQueue) EnqueueAttempt(ctx context.Context, a models.Attempt) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctxErrs = append(q.ctxErrs, ctx.Err())
	if q.err != nil {
		return q.err
	}
	q.queued = append(q.queued, a)
	return nil
}

// hangingStore never answers an insert before the caller gives up
type hangingStore struct {
	*store.Memory
}

func (h hangingStore) InsertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	<-ctx.Done()
	return models.Attempt{}, ctx.Err()
}

// lostReplyStore commits the insert and then reports a failure, like a
// timeout on the reply
type lostReplyStore struct {
	*store.Memory
	mu   sync.Mutex
	lose bool
}

func (l *lostReplyStore) InsertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	stored, err := l.Memory.InsertAttempt(ctx, a)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lose {
		l.lose = false
		return models.Attempt{}, errors.New("i/o timeout")
	}
	return stored, err
}

func newResults(t *testing.T) (*ResultService, *flakyStore, *recordingHub) {
	t.Helper()
	st := newFlakyStore()
	hub := &recordingHub{}
	return NewResultService(st, event.NewRecorder(), hub, time.Second, logger.Nop()), st, hub
}

func TestPersistAttemptQueuesRetry(t *testing.T) {
	results, st, hub := newResults(t)
	queue := &fakeRetryQueue{}
	results.UseRetryQueue(queue)
	st.set(nil, errors.New("connection refused"), nil)

	ctx := context.Background()
	if _, err := results.PersistAttempt(ctx, models.Attempt{UserID: "u1", ScorePercentage: 70}); err == nil {
		t.Fatal("expected the insert error")
	}
	if len(queue.queued) != 1 || queue.queued[0].UserID != "u1" {
		t.Fatalf("queued = %+v", queue.queued)
	}
	failures := results.Failures()
	if len(failures) != 1 || !failures[0].Queued {
		t.Errorf("failures = %+v", failures)
	}

	// the worker runs once the store is back
	st.set(nil, nil, nil)
	if err := results.RetryAttempt(ctx, queue.queued[0]); err != nil {
		t.Fatalf("RetryAttempt: %v", err)
	}
	attempts, err := st.ListAttempts(ctx)
	if err != nil || len(attempts) != 1 || attempts[0].ScorePercentage != 70 {
		t.Errorf("attempts = %+v, err = %v", attempts, err)
	}
	if got := len(hub.ofKind("attempt_saved")); got != 1 {
		t.Errorf("attempt_saved messages = %d", got)
	}
	if got := len(results.Failures()); got != 1 {
		t.Errorf("a successful retry must not add failures, got %d", got)
	}
}

func TestRetryAttemptReturnsStoreError(t *testing.T) {
	results, st, _ := newResults(t)
	st.set(nil, errors.New("still down"), nil)

	if err := results.RetryAttempt(context.Background(), models.Attempt{UserID: "u1"}); err == nil {
		t.Fatal("expected an error so the queue tries again")
	}
	if got := len(results.Failures()); got != 0 {
		t.Errorf("retries are not listed as new failures, got %d", got)
	}
}

func TestPersistAttemptQueueDown(t *testing.T) {
	results, st, _ := newResults(t)
	results.UseRetryQueue(&fakeRetryQueue{err: errors.New("redis down")})
	st.set(nil, errors.New("connection refused"), nil)

	_, _ = results.PersistAttempt(context.Background(), models.Attempt{UserID: "u1"})
	failures := results.Failures()
	if len(failures) != 1 || failures[0].Queued {
		t.Errorf("failures = %+v", failures)
	}
}

func TestPersistAttemptWithoutQueue(t *testing.T) {
	results, st, hub := newResults(t)
	st.set(nil, errors.New("connection refused"), nil)

	_, _ = results.PersistAttempt(context.Background(), models.Attempt{UserID: "u1"})
	failures := results.Failures()
	if len(failures) != 1 || failures[0].Queued {
		t.Errorf("failures = %+v", failures)
	}
	if got := len(hub.ofKind("persistence_failed")); got != 1 {
		t.Errorf("persistence_failed messages = %d", got)
	}
}

func TestTimedOutWriteIsStillQueued(t *testing.T) {
	st := hangingStore{Memory: store.NewMemory()}
	results := NewResultService(st, event.NewRecorder(), &recordingHub{}, 20*time.Millisecond, logger.Nop())
	queue := &fakeRetryQueue{}
	results.UseRetryQueue(queue)

	results.PersistAttemptAsync(models.Attempt{UserID: "u1"})
	results.Wait()

	if len(queue.ctxErrs) != 1 || queue.ctxErrs[0] != nil {
		t.Fatalf("enqueue context errors = %v, want one live context", queue.ctxErrs)
	}
	failures := results.Failures()
	if len(failures) != 1 || !failures[0].Queued {
		t.Errorf("failures = %+v", failures)
	}
}

func TestRetryAfterLostReplyStoresOnce(t *testing.T) {
	st := &lostReplyStore{Memory: store.NewMemory(), lose: true}
	results := NewResultService(st, event.NewRecorder(), &recordingHub{}, time.Second, logger.Nop())
	queue := &fakeRetryQueue{}
	results.UseRetryQueue(queue)
	ctx := context.Background()

	if _, err := results.PersistAttempt(ctx, models.Attempt{UserID: "u1", ScorePercentage: 40}); err == nil {
		t.Fatal("expected the reported failure")
	}
	if len(queue.queued) != 1 || queue.queued[0].ID == "" {
		t.Fatalf("queued attempt must carry its id: %+v", queue.queued)
	}
	if got := results.Failures()[0].AttemptID; got != queue.queued[0].ID {
		t.Errorf("failure attempt id = %q, want %q", got, queue.queued[0].ID)
	}

	if err := results.RetryAttempt(ctx, queue.queued[0]); err != nil {
		t.Fatalf("RetryAttempt: %v", err)
	}
	attempts, _ := st.ListAttempts(ctx)
	if len(attempts) != 1 || attempts[0].ID != queue.queued[0].ID {
		t.Errorf("attempts = %+v, want exactly the queued one", attempts)
	}
}
