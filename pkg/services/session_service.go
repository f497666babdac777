package services

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/backsoul/leadquiz/pkg/intake"
	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/session"
	"github.com/backsoul/leadquiz/pkg/websocket"
	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	completionMessage = "Thank you for completing the assessment. Your responses have been recorded."
	sweepTimeout      = 10 * time.Second
)

type liveSession struct {
	id        string
	user      models.User
	runner    *session.Runner
	cancel    context.CancelFunc
	createdAt time.Time

	// guarded by SessionService.mu
	receipt *models.CompletionReceipt
}

// SessionService owns the live quiz sessions, one runner goroutine each
type SessionService struct {
	questions *QuestionService
	results   *ResultService
	hub       Broadcaster
	log       *logger.Logger

	duration  int
	retention time.Duration
	newTicker func() session.Ticker
	now       func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*liveSession
	byEmail  map[string]string
}

type SessionOption func(*SessionService)

// WithSessionTicker replaces the one-second ticker of every new session
func WithSessionTicker(newTicker func() session.Ticker) SessionOption {
	return func(s *SessionService) { s.newTicker = newTicker }
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

func NewSessionService(questions *QuestionService, results *ResultService, hub Broadcaster, duration int, retention time.Duration, log *logger.Logger, opts ...SessionOption) *SessionService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SessionService{
		questions:  questions,
		results:    results,
		hub:        hub,
		log:        log.With("service", "SessionService"),
		duration:   duration,
		retention:  retention,
		newTicker:  session.SecondTicker,
		now:        time.Now,
		baseCtx:    ctx,
		baseCancel: cancel,
		sessions:   make(map[string]*liveSession),
		byEmail:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession validates the intake form, saves the respondent and opens
// a NotStarted session. An email with an unfinished session gets that
// session back.
func (s *SessionService) CreateSession(ctx context.Context, in models.UserInput) (models.SessionView, error) {
	in, err := intake.Validate(in)
	if err != nil {
		return models.SessionView{}, err
	}

	if ls := s.unfinishedFor(in.Email); ls != nil {
		s.log.Info("respondent already has an active session, continuing", "session_id", ls.id)
		return s.view(ctx, ls)
	}

	user := s.results.PersistUser(ctx, in)

	s.mu.Lock()
	if id, ok := s.byEmail[in.Email]; ok {
		if ls := s.sessions[id]; ls != nil && ls.receipt == nil {
			s.mu.Unlock()
			return s.view(ctx, ls)
		}
	}
	ls := &liveSession{
		id:        uuid.NewString(),
		user:      user,
		createdAt: s.now(),
	}
	machine := session.NewMachine(s.questions.Bank(), user.ID, session.WithDuration(s.duration), session.WithClock(s.now))
	ls.runner = session.NewRunner(machine, &sessionObserver{svc: s, ls: ls}, session.WithTicker(s.newTicker))
	runCtx, cancel := context.WithCancel(s.baseCtx)
	ls.cancel = cancel
	s.sessions[ls.id] = ls
	s.byEmail[in.Email] = ls.id
	s.mu.Unlock()

	go ls.runner.Run(runCtx)
	s.log.Info("new session created", "session_id", ls.id, "user_id", user.ID)
	return s.view(ctx, ls)
}

func (s *SessionService) unfinishedFor(email string) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil
	}
	ls := s.sessions[id]
	if ls == nil || ls.receipt != nil {
		return nil
	}
	return ls
}

func (s *SessionService) lookup(id string) (*liveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls, nil
}

// GetSession returns the respondent's view of a session
func (s *SessionService) GetSession(ctx context.Context, id string) (models.SessionView, error) {
	ls, err := s.lookup(id)
	if err != nil {
		return models.SessionView{}, err
	}
	return s.view(ctx, ls)
}

func (s *SessionService) Start(ctx context.Context, id string) (models.SessionView, error) {
	return s.apply(ctx, id, func(r *session.Runner) error { return r.Start(ctx) })
}

// SelectAnswer records the answer to the current question. Text longer
// than the question's max length is cut to it.
func (s *SessionService) SelectAnswer(ctx context.Context, id, answer string) (models.SessionView, error) {
	return s.apply(ctx, id, func(r *session.Runner) error {
		return r.Do(ctx, func(m *session.Machine) error {
			if q, ok := m.Current(); ok {
				answer = truncate(answer, q.MaxLength())
			}
			return m.SelectAnswer(answer)
		})
	})
}

func (s *SessionService) GoTo(ctx context.Context, id string, index int) (models.SessionView, error) {
	return s.apply(ctx, id, func(r *session.Runner) error { return r.GoTo(ctx, index) })
}

func (s *SessionService) Next(ctx context.Context, id string) (models.SessionView, error) {
	return s.apply(ctx, id, func(r *session.Runner) error { return r.Next(ctx) })
}

func (s *SessionService) Previous(ctx context.Context, id string) (models.SessionView, error) {
	return s.apply(ctx, id, func(r *session.Runner) error { return r.Previous(ctx) })
}

// Submit ends the session. Submitting a completed session returns the
// original receipt.
func (s *SessionService) Submit(ctx context.Context, id string) (models.CompletionReceipt, error) {
	ls, err := s.lookup(id)
	if err != nil {
		return models.CompletionReceipt{}, err
	}
	if _, _, err := ls.runner.Submit(ctx); err != nil {
		return models.CompletionReceipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls.receipt == nil {
		return models.CompletionReceipt{}, session.ErrNotInProgress
	}
	return *ls.receipt, nil
}

func (s *SessionService) apply(ctx context.Context, id string, fn func(*session.Runner) error) (models.SessionView, error) {
	ls, err := s.lookup(id)
	if err != nil {
		return models.SessionView{}, err
	}
	if err := fn(ls.runner); err != nil {
		return models.SessionView{}, err
	}
	return s.view(ctx, ls)
}

func (s *SessionService) view(ctx context.Context, ls *liveSession) (models.SessionView, error) {
	snap, err := ls.runner.Snapshot(ctx)
	if err != nil {
		return models.SessionView{}, err
	}
	v := models.SessionView{
		ID:               ls.id,
		UserID:           ls.user.ID,
		UserName:         ls.user.Name,
		State:            snap.State.String(),
		CurrentIndex:     snap.Index,
		TotalQuestions:   snap.TotalQuestions,
		RemainingSeconds: snap.Remaining,
		DurationSeconds:  snap.Duration,
		CurrentAnswer:    snap.CurrentAnswer,
		Answered:         snap.Answered,
	}
	if v.Answered == nil {
		v.Answered = []int{}
	}
	if snap.State != session.NotStarted {
		started := snap.StartedAt
		v.StartedAt = &started
	}
	if snap.State == session.InProgress {
		pq := snap.Current.Public()
		v.CurrentQuestion = &pq
	}
	s.mu.Lock()
	if ls.receipt != nil {
		r := *ls.receipt
		v.Receipt = &r
	}
	s.mu.Unlock()
	return v, nil
}

// complete runs on the session's runner goroutine
func (s *SessionService) complete(ls *liveSession, attempt models.Attempt) {
	answered := 0
	for _, a := range attempt.Answers {
		if a.SelectedAnswer != "" {
			answered++
		}
	}
	receipt := models.CompletionReceipt{
		SessionID:     ls.id,
		CompletedAt:   attempt.CompletedAt,
		TimeTaken:     attempt.TimeTaken,
		AnsweredCount: answered,
		TotalCount:    len(attempt.Answers),
		Message:       completionMessage,
	}

	s.mu.Lock()
	ls.receipt = &receipt
	if s.byEmail[ls.user.Email] == ls.id {
		delete(s.byEmail, ls.user.Email)
	}
	s.mu.Unlock()

	s.log.Info("session completed", "session_id", ls.id, "time_taken", attempt.TimeTaken)
	s.results.PersistAttemptAsync(attempt)
	s.hub.Publish(websocket.SessionTopic(ls.id), "completed", models.SessionEvent{
		SessionID: ls.id,
		State:     session.Completed.String(),
		Receipt:   &receipt,
	})
}

// Cleanup drops sessions completed longer than the retention ago and
// sessions never started within duration plus retention of their creation.
// A started session is never dropped unscored: one still running that long
// after its start is submitted and kept for the retention.
func (s *SessionService) Cleanup() int {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	now := s.now()
	removed := 0
	for _, ls := range s.list() {
		if s.expired(ctx, ls, now) {
			s.drop(ls)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("expired sessions removed", "count", removed)
	}
	return removed
}

func (s *SessionService) expired(ctx context.Context, ls *liveSession, now time.Time) bool {
	if receipt := s.receiptOf(ls); receipt != nil {
		return now.Sub(receipt.CompletedAt) > s.retention
	}

	snap, err := ls.runner.Snapshot(ctx)
	if err != nil {
		return errors.Is(err, session.ErrSessionClosed)
	}
	limit := time.Duration(s.duration)*time.Second + s.retention
	switch snap.State {
	case session.NotStarted:
		return now.Sub(ls.createdAt) > limit
	case session.InProgress:
		if now.Sub(snap.StartedAt) > limit {
			s.log.Warn("countdown overran, submitting session", "session_id", ls.id)
			s.submitRunning(ctx, ls)
		}
	}
	return false
}

// submitRunning scores an InProgress session through the normal completion
// path; other states are left alone
func (s *SessionService) submitRunning(ctx context.Context, ls *liveSession) {
	_, submitted, err := ls.runner.Submit(ctx)
	switch {
	case submitted:
		s.log.Info("session submitted by the server", "session_id", ls.id)
	case err != nil && !errors.Is(err, session.ErrNotInProgress) && !errors.Is(err, session.ErrSessionClosed):
		s.log.Error("failed to submit session", "session_id", ls.id, "error", err)
	}
}

func (s *SessionService) list() []*liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		out = append(out, ls)
	}
	return out
}

func (s *SessionService) receiptOf(ls *liveSession) *models.CompletionReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ls.receipt
}

func (s *SessionService) drop(ls *liveSession) {
	s.mu.Lock()
	if s.sessions[ls.id] == ls {
		delete(s.sessions, ls.id)
	}
	if s.byEmail[ls.user.Email] == ls.id {
		delete(s.byEmail, ls.user.Email)
	}
	s.mu.Unlock()
	ls.cancel()
}

// Run sweeps expired sessions every interval until ctx ends, then closes every session
func (s *SessionService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Close submits every running session, so its attempt is persisted, and
// then stops every session runner
func (s *SessionService) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	for _, ls := range s.list() {
		s.submitRunning(ctx, ls)
	}
	s.baseCancel()
}

// ActiveCount is the number of sessions held in memory
func (s *SessionService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type sessionObserver struct {
	svc *SessionService
	ls  *liveSession
}

func (o *sessionObserver) OnTick(remaining int) {
	state := session.InProgress
	if remaining == 0 {
		state = session.Completed
	}
	o.svc.hub.Publish(websocket.SessionTopic(o.ls.id), "tick", models.SessionEvent{
		SessionID:        o.ls.id,
		State:            state.String(),
		RemainingSeconds: remaining,
	})
}

func (o *sessionObserver) OnComplete(attempt models.Attempt) {
	o.svc.complete(o.ls, attempt)
}

// truncate cuts s to max runes; max 0 means no cap
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
