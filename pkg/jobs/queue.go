package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/hibiken/asynq"
)

const (
	TypeRetryAttempt = "attempt:retry"

	queueName      = "attempts"
	maxRetries     = 8
	attemptTimeout = 30 * time.Second
)

// AttemptHandler writes a queued attempt; a returned error schedules another try
type AttemptHandler func(ctx context.Context, a models.Attempt) error

// Queue is a Redis-backed retry queue for attempts the record store refused
type Queue struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

func NewQueue(redisURL, password string, db int, log *logger.Logger) *Queue {
	log = log.With("component", "jobs")
	redisOpt := asynq.RedisClientOpt{
		Addr:     strings.TrimPrefix(redisURL, "redis://"),
		Password: password,
		DB:       db,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			log.Warn("job failed", "type", task.Type(), "retried", retried, "error", err)
		}),
		Logger: &asynqLogger{log: log},
	})

	return &Queue{
		client: asynq.NewClient(redisOpt),
		server: server,
		mux:    asynq.NewServeMux(),
		log:    log,
	}
}

// HandleAttempts registers the worker for queued attempts. Call before Run.
func (q *Queue) HandleAttempts(h AttemptHandler) {
	q.mux.HandleFunc(TypeRetryAttempt, func(ctx context.Context, task *asynq.Task) error {
		a, err := AttemptFromTask(task)
		if err != nil {
			// a payload that cannot be decoded will never succeed
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return h(ctx, a)
	})
}

// EnqueueAttempt schedules another write of the attempt. An attempt that
// is already queued is not queued twice.
func (q *Queue) EnqueueAttempt(ctx context.Context, a models.Attempt) error {
	task, err := NewAttemptTask(a)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(maxRetries),
		asynq.Timeout(attemptTimeout),
	}
	if a.ID != "" {
		opts = append(opts, asynq.TaskID(TypeRetryAttempt+":"+a.ID))
	}
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.log.Debug("attempt retry already queued", "attempt_id", a.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue attempt retry: %w", err)
	}
	q.log.Info("queued attempt retry", "job_id", info.ID, "attempt_id", a.ID, "attempt_user_id", a.UserID)
	return nil
}

// Run processes jobs until ctx is cancelled
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info("starting job worker")
	if err := q.server.Start(q.mux); err != nil {
		return fmt.Errorf("job worker: %w", err)
	}
	<-ctx.Done()
	q.log.Info("stopping job worker")
	q.server.Shutdown()
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func NewAttemptTask(a models.Attempt) (*asynq.Task, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attempt payload: %w", err)
	}
	return asynq.NewTask(TypeRetryAttempt, payload), nil
}

func AttemptFromTask(task *asynq.Task) (models.Attempt, error) {
	var a models.Attempt
	if err := json.Unmarshal(task.Payload(), &a); err != nil {
		return models.Attempt{}, fmt.Errorf("failed to unmarshal attempt payload: %w", err)
	}
	return a, nil
}

type asynqLogger struct {
	log *logger.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
