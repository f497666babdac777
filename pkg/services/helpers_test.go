package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/backsoul/leadquiz/pkg/bank"
	"github.com/backsoul/leadquiz/pkg/event"
	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/session"
	"github.com/backsoul/leadquiz/pkg/store"
)

type hubMessage struct {
	topic string
	kind  string
	data  interface{}
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []hubMessage
}

func (h *recordingHub) Publish(topic, msgType string, data interface{}) {
	h.mu.Lock()
	h.msgs = append(h.msgs, hubMessage{topic: topic, kind: msgType, data: data})
	h.mu.Unlock()
}

func (h *recordingHub) ofKind(kind string) []hubMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hubMessage
	for _, m := range h.msgs {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// flakyStore fails selected operations of an in-memory store
type flakyStore struct {
	*store.Memory
	mu        sync.Mutex
	upsertErr error
	insertErr error
	listErr   error
}

func newFlakyStore() *flakyStore { return &flakyStore{Memory: store.NewMemory()} }

func (f *flakyStore) set(upsert, insert, list error) {
	f.mu.Lock()
	f.upsertErr, f.insertErr, f.listErr = upsert, insert, list
	f.mu.Unlock()
}

func (f *flakyStore) UpsertUser(ctx context.Context, in models.UserInput) (models.User, error) {
	f.mu.Lock()
	err := f.upsertErr
	f.mu.Unlock()
	if err != nil {
		return models.User{}, err
	}
	return f.Memory.UpsertUser(ctx, in)
}

func (f *flakyStore) InsertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	f.mu.Lock()
	err := f.insertErr
	f.mu.Unlock()
	if err != nil {
		return models.Attempt{}, err
	}
	return f.Memory.InsertAttempt(ctx, a)
}

func (f *flakyStore) ListAttempts(ctx context.Context) ([]models.Attempt, error) {
	f.mu.Lock()
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Memory.ListAttempts(ctx)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type manualTicker struct {
	c chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               {}

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.c <- time.Time{}:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not take the tick")
	}
}

// tickerFactory hands every new session its own manual ticker
type tickerFactory struct {
	created chan *manualTicker
}

func newTickerFactory() *tickerFactory {
	return &tickerFactory{created: make(chan *manualTicker, 16)}
}

func (f *tickerFactory) newTicker() session.Ticker {
	t := &manualTicker{c: make(chan time.Time)}
	f.created <- t
	return t
}

func (f *tickerFactory) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case mt := <-f.created:
		return mt
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker created")
		return nil
	}
}

func testBank(t *testing.T) *bank.Bank {
	t.Helper()
	b, err := bank.New(
		models.NewMultipleChoice(1, "Q1", "Logic", []string{"A", "B", "C"}, "A"),
		models.NewMultipleChoice(2, "Q2", "Math", []string{"A", "B", "C"}, "B"),
		models.NewTextQuestion(3, "Q3", "Communication", models.KindShortAnswer, 10),
	)
	if err != nil {
		t.Fatalf("bank.New: %v", err)
	}
	return b
}

type fixture struct {
	store     *flakyStore
	hub       *recordingHub
	events    *event.Recorder
	questions *QuestionService
	results   *ResultService
	sessions  *SessionService
	tickers   *tickerFactory
}

func newFixture(t *testing.T, duration int, opts ...SessionOption) *fixture {
	t.Helper()
	log := logger.Nop()
	f := &fixture{
		store:   newFlakyStore(),
		hub:     &recordingHub{},
		events:  event.NewRecorder(),
		tickers: newTickerFactory(),
	}
	f.questions = NewQuestionService(testBank(t), f.store, log)
	f.results = NewResultService(f.store, f.events, f.hub, time.Second, log)
	opts = append([]SessionOption{WithSessionTicker(f.tickers.newTicker)}, opts...)
	f.sessions = NewSessionService(f.questions, f.results, f.hub, duration, time.Minute, log, opts...)
	t.Cleanup(func() {
		f.sessions.Close()
		f.results.Wait()
	})
	return f
}
