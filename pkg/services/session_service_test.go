package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/backsoul/leadquiz/pkg/event"
	"github.com/backsoul/leadquiz/pkg/intake"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/session"
	"github.com/backsoul/leadquiz/pkg/websocket"
)

var ada = models.UserInput{Name: "Ada", Email: "ada@example.com", ProfileURL: "https://www.linkedin.com/in/ada"}

func TestCreateSessionRejectsInvalidIntake(t *testing.T) {
	f := newFixture(t, 60)

	_, err := f.sessions.CreateSession(context.Background(), models.UserInput{Name: "", Email: "nope"})
	var verrs intake.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if verrs["name"] == "" || verrs["email"] == "" {
		t.Errorf("missing field errors: %v", verrs)
	}
	if f.sessions.ActiveCount() != 0 {
		t.Errorf("no session should be created")
	}
	if users, _ := f.store.ListUsers(context.Background()); len(users) != 0 {
		t.Errorf("no user should be stored, got %d", len(users))
	}
}

func TestCreateSessionStartsNotStarted(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()

	v, err := f.sessions.CreateSession(ctx, ada)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if v.State != "not_started" {
		t.Errorf("state = %q", v.State)
	}
	if v.CurrentQuestion != nil {
		t.Errorf("question must stay hidden before start")
	}
	if v.RemainingSeconds != 60 || v.TotalQuestions != 3 {
		t.Errorf("remaining=%d total=%d", v.RemainingSeconds, v.TotalQuestions)
	}
	if v.UserID == "" || v.UserID == models.TempUserID {
		t.Errorf("user id = %q", v.UserID)
	}

	evs := f.events.Events()
	if len(evs) != 1 || evs[0].Type != event.UserRegistered {
		t.Errorf("events = %+v", evs)
	}
}

func TestCreateSessionReusesUnfinishedSession(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()

	first, err := f.sessions.CreateSession(ctx, ada)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	again := ada
	again.Email = "  " + ada.Email + " "
	second, err := f.sessions.CreateSession(ctx, again)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same session, got %s and %s", first.ID, second.ID)
	}

	if _, err := f.sessions.Start(ctx, first.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.sessions.Submit(ctx, first.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	third, err := f.sessions.CreateSession(ctx, ada)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if third.ID == first.ID {
		t.Errorf("a completed session must not be reused")
	}
	if third.UserID != first.UserID {
		t.Errorf("same email should keep the user id")
	}
}

func TestSessionScenario(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()

	v, _ := f.sessions.CreateSession(ctx, ada)
	id := v.ID

	if _, err := f.sessions.SelectAnswer(ctx, id, "A"); !errors.Is(err, session.ErrNotInProgress) {
		t.Fatalf("answer before start: %v", err)
	}

	v, err := f.sessions.Start(ctx, id)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if v.State != "in_progress" || v.CurrentQuestion == nil || v.CurrentQuestion.ID != 1 {
		t.Fatalf("after start: %+v", v)
	}
	if v.StartedAt == nil {
		t.Errorf("startedAt missing")
	}

	steps := []func() (models.SessionView, error){
		func() (models.SessionView, error) { return f.sessions.SelectAnswer(ctx, id, "A") },
		func() (models.SessionView, error) { return f.sessions.Next(ctx, id) },
		func() (models.SessionView, error) { return f.sessions.SelectAnswer(ctx, id, "C") },
		func() (models.SessionView, error) { return f.sessions.Previous(ctx, id) },
		func() (models.SessionView, error) { return f.sessions.GoTo(ctx, id, 2) },
		func() (models.SessionView, error) { return f.sessions.SelectAnswer(ctx, id, "some text") },
	}
	for i, step := range steps {
		if v, err = step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if v.CurrentIndex != 2 || v.CurrentAnswer != "some text" {
		t.Errorf("index=%d answer=%q", v.CurrentIndex, v.CurrentAnswer)
	}
	if len(v.Answered) != 3 {
		t.Errorf("answered = %v", v.Answered)
	}

	if _, err := f.sessions.GoTo(ctx, id, 3); !errors.Is(err, session.ErrIndexOutOfRange) {
		t.Errorf("GoTo out of range: %v", err)
	}

	receipt, err := f.sessions.Submit(ctx, id)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.SessionID != id || receipt.AnsweredCount != 3 || receipt.TotalCount != 3 {
		t.Errorf("receipt = %+v", receipt)
	}
	f.results.Wait()

	attempts, _ := f.store.ListAttempts(ctx)
	if len(attempts) != 1 {
		t.Fatalf("stored attempts = %d", len(attempts))
	}
	a := attempts[0]
	if a.UserID != v.UserID || a.Score != 1 || a.TotalQuestions != 2 || a.ScorePercentage != 50 {
		t.Errorf("attempt = %+v", a)
	}
	if len(a.Answers) != 3 {
		t.Errorf("answers = %+v", a.Answers)
	}

	v, err = f.sessions.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if v.State != "completed" || v.Receipt == nil || v.CurrentQuestion != nil {
		t.Errorf("after submit: %+v", v)
	}
	if _, err := f.sessions.SelectAnswer(ctx, id, "B"); !errors.Is(err, session.ErrNotInProgress) {
		t.Errorf("answer after submit: %v", err)
	}
	if len(f.hub.ofKind("attempt_saved")) != 1 {
		t.Errorf("operators were not told about the attempt")
	}
}

func TestSubmitIsOneShot(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()

	v, _ := f.sessions.CreateSession(ctx, ada)
	if _, err := f.sessions.Submit(ctx, v.ID); !errors.Is(err, session.ErrNotInProgress) {
		t.Fatalf("submit before start: %v", err)
	}
	if _, err := f.sessions.Start(ctx, v.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	receipts := make([]models.CompletionReceipt, 6)
	for i := range receipts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.sessions.Submit(ctx, v.ID)
			if err != nil {
				t.Errorf("Submit: %v", err)
			}
			receipts[i] = r
		}(i)
	}
	wg.Wait()
	f.results.Wait()

	for _, r := range receipts[1:] {
		if r != receipts[0] {
			t.Errorf("receipts differ: %+v vs %+v", r, receipts[0])
		}
	}
	if attempts, _ := f.store.ListAttempts(ctx); len(attempts) != 1 {
		t.Errorf("stored attempts = %d, want 1", len(attempts))
	}
	if n := len(f.hub.ofKind("completed")); n != 1 {
		t.Errorf("completed messages = %d, want 1", n)
	}
}

func TestTimerExpirySubmitsOnce(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	v, _ := f.sessions.CreateSession(ctx, ada)
	if _, err := f.sessions.Start(ctx, v.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.sessions.SelectAnswer(ctx, v.ID, "A"); err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}

	ticker := f.tickers.next(t)
	ticker.tick(t)
	ticker.tick(t)

	v, err := f.sessions.GetSession(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if v.State != "completed" || v.Receipt == nil {
		t.Fatalf("expected completion, got %+v", v)
	}
	if v.Receipt.TimeTaken != 2 {
		t.Errorf("time taken = %d, want full duration", v.Receipt.TimeTaken)
	}
	f.results.Wait()

	attempts, _ := f.store.ListAttempts(ctx)
	if len(attempts) != 1 || attempts[0].TimeTaken != 2 || attempts[0].Score != 1 {
		t.Errorf("attempts = %+v", attempts)
	}

	ticks := f.hub.ofKind("tick")
	if len(ticks) != 2 {
		t.Fatalf("tick messages = %d", len(ticks))
	}
	last := ticks[1].data.(models.SessionEvent)
	if last.RemainingSeconds != 0 || last.State != "completed" {
		t.Errorf("last tick = %+v", last)
	}
	if ticks[0].topic != websocket.SessionTopic(v.ID) {
		t.Errorf("tick topic = %s", ticks[0].topic)
	}

	if _, err := f.sessions.Submit(ctx, v.ID); err != nil {
		t.Errorf("late submit should return the receipt: %v", err)
	}
	f.results.Wait()
	if attempts, _ := f.store.ListAttempts(ctx); len(attempts) != 1 {
		t.Errorf("late submit stored a second attempt")
	}
}

func TestSelectAnswerTruncatesText(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()

	v, _ := f.sessions.CreateSession(ctx, ada)
	_, _ = f.sessions.Start(ctx, v.ID)
	_, _ = f.sessions.GoTo(ctx, v.ID, 2)

	v, err := f.sessions.SelectAnswer(ctx, v.ID, strings.Repeat("é", 15))
	if err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}
	if n := utf8.RuneCountInString(v.CurrentAnswer); n != 10 {
		t.Errorf("answer kept %d runes, want 10", n)
	}
}

func TestUserStoreFailureUsesTempID(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()
	f.store.set(errors.New("connection refused"), nil, nil)

	v, err := f.sessions.CreateSession(ctx, ada)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if v.UserID != models.TempUserID {
		t.Errorf("user id = %q", v.UserID)
	}
	failures := f.results.Failures()
	if len(failures) != 1 || failures[0].Kind != "user" || failures[0].Email != ada.Email {
		t.Errorf("failures = %+v", failures)
	}
	if len(f.hub.ofKind("persistence_failed")) != 1 {
		t.Errorf("operators were not alerted")
	}

	_, _ = f.sessions.Start(ctx, v.ID)
	if _, err := f.sessions.Submit(ctx, v.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.results.Wait()
	attempts, _ := f.store.ListAttempts(ctx)
	if len(attempts) != 1 || attempts[0].UserID != models.TempUserID {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestAttemptStoreFailureStillReceipts(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()

	v, _ := f.sessions.CreateSession(ctx, ada)
	_, _ = f.sessions.Start(ctx, v.ID)
	f.store.set(nil, errors.New("disk full"), nil)

	receipt, err := f.sessions.Submit(ctx, v.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Message == "" {
		t.Errorf("receipt has no message")
	}
	f.results.Wait()

	failures := f.results.Failures()
	if len(failures) != 1 || failures[0].Kind != "attempt" {
		t.Errorf("failures = %+v", failures)
	}
}

func TestSessionNotFound(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()

	if _, err := f.sessions.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession: %v", err)
	}
	if _, err := f.sessions.Submit(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Submit: %v", err)
	}
}

func TestCleanupDropsExpiredSessions(t *testing.T) {
	clock := newFakeClock()
	f := newFixture(t, 60, WithSessionClock(clock.Now))
	ctx := context.Background()

	done, _ := f.sessions.CreateSession(ctx, ada)
	_, _ = f.sessions.Start(ctx, done.ID)
	_, _ = f.sessions.Submit(ctx, done.ID)
	idle, _ := f.sessions.CreateSession(ctx, models.UserInput{Name: "Grace", Email: "grace@example.com"})

	if n := f.sessions.Cleanup(); n != 0 {
		t.Fatalf("nothing should expire yet, removed %d", n)
	}

	clock.advance(2 * time.Minute)
	if n := f.sessions.Cleanup(); n != 1 {
		t.Fatalf("completed session should expire, removed %d", n)
	}
	if _, err := f.sessions.GetSession(ctx, done.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("completed session still held: %v", err)
	}
	if _, err := f.sessions.GetSession(ctx, idle.ID); err != nil {
		t.Errorf("idle session dropped early: %v", err)
	}

	clock.advance(time.Minute)
	if n := f.sessions.Cleanup(); n != 1 {
		t.Fatalf("abandoned session should expire, removed %d", n)
	}
	if f.sessions.ActiveCount() != 0 {
		t.Errorf("active = %d", f.sessions.ActiveCount())
	}
}

func TestCleanupKeepsLateStartedSession(t *testing.T) {
	clock := newFakeClock()
	f := newFixture(t, 60, WithSessionClock(clock.Now))
	ctx := context.Background()

	v, _ := f.sessions.CreateSession(ctx, ada)
	clock.advance(100 * time.Second)
	if _, err := f.sessions.Start(ctx, v.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.advance(30 * time.Second)

	// created 130s ago, beyond duration plus retention, but started 30s ago
	if n := f.sessions.Cleanup(); n != 0 {
		t.Fatalf("running session removed: %d", n)
	}
	if _, err := f.sessions.SelectAnswer(ctx, v.ID, "A"); err != nil {
		t.Fatalf("SelectAnswer after sweep: %v", err)
	}

	// the countdown never fired; the sweep scores the session instead of dropping it
	clock.advance(3 * time.Minute)
	if n := f.sessions.Cleanup(); n != 0 {
		t.Fatalf("overrun session removed before it was scored: %d", n)
	}
	got, err := f.sessions.GetSession(ctx, v.ID)
	if err != nil || got.State != "completed" || got.Receipt == nil {
		t.Fatalf("overrun session = %+v, %v", got, err)
	}
	f.results.Wait()
	attempts, _ := f.store.ListAttempts(ctx)
	if len(attempts) != 1 || attempts[0].Score != 1 {
		t.Fatalf("attempts = %+v", attempts)
	}

	clock.advance(2 * time.Minute)
	if n := f.sessions.Cleanup(); n != 1 {
		t.Fatalf("scored session should expire after the retention, removed %d", n)
	}
}

func TestCloseSubmitsRunningSessions(t *testing.T) {
	f := newFixture(t, 60)
	ctx := context.Background()

	running, _ := f.sessions.CreateSession(ctx, ada)
	_, _ = f.sessions.Start(ctx, running.ID)
	_, _ = f.sessions.SelectAnswer(ctx, running.ID, "A")
	_, _ = f.sessions.CreateSession(ctx, models.UserInput{Name: "Grace", Email: "grace@example.com"})

	f.sessions.Close()
	f.results.Wait()

	attempts, _ := f.store.ListAttempts(ctx)
	if len(attempts) != 1 || attempts[0].Score != 1 {
		t.Fatalf("attempts after shutdown = %+v", attempts)
	}
	if got := len(f.hub.ofKind("attempt_saved")); got != 1 {
		t.Errorf("attempt_saved messages = %d", got)
	}

	// closing again does not score anything twice
	f.sessions.Close()
	f.results.Wait()
	if attempts, _ := f.store.ListAttempts(ctx); len(attempts) != 1 {
		t.Errorf("second close stored %d attempts", len(attempts))
	}
}
