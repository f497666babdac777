package session

import (
	"errors"
	"testing"
	"time"

	"github.com/backsoul/leadquiz/pkg/bank"
	"github.com/backsoul/leadquiz/pkg/models"
)

func testBank(t *testing.T) *bank.Bank {
	t.Helper()
	b, err := bank.New(
		models.NewMultipleChoice(1, "Q1", "Logic", []string{"A", "B", "C"}, "A"),
		models.NewMultipleChoice(2, "Q2", "Math", []string{"A", "B", "C"}, "B"),
		models.NewTextQuestion(3, "Q3", "Communication", models.KindShortAnswer, 200),
	)
	if err != nil {
		t.Fatalf("bank.New: %v", err)
	}
	return b
}

func fixedClock() func() time.Time {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestMachineScenario(t *testing.T) {
	m := NewMachine(testBank(t), "u-1", WithClock(fixedClock()))
	if m.State() != NotStarted || m.Remaining() != DefaultDuration {
		t.Fatalf("initial: state=%v remaining=%d", m.State(), m.Remaining())
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 42; i++ {
		m.Tick()
	}
	steps := []func() error{
		func() error { return m.SelectAnswer("A") },
		m.Next,
		func() error { return m.SelectAnswer("C") },
		m.Next,
		func() error { return m.SelectAnswer("hello") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	attempt, submitted, err := m.Submit()
	if err != nil || !submitted {
		t.Fatalf("Submit: submitted=%v err=%v", submitted, err)
	}
	if attempt.Score != 1 || attempt.TotalQuestions != 2 || attempt.ScorePercentage != 50 || attempt.TimeTaken != 42 {
		t.Fatalf("attempt: %+v", attempt)
	}
	if m.State() != Completed {
		t.Fatalf("state: want=completed got=%v", m.State())
	}
}

func TestMachineRejectsOutsideInProgress(t *testing.T) {
	m := NewMachine(testBank(t), "u-1")
	checks := map[string]func() error{
		"select":   func() error { return m.SelectAnswer("A") },
		"goto":     func() error { return m.GoTo(1) },
		"next":     m.Next,
		"previous": m.Previous,
	}
	for name, fn := range checks {
		if err := fn(); !errors.Is(err, ErrNotInProgress) {
			t.Errorf("%s before start: want ErrNotInProgress got %v", name, err)
		}
	}
	if _, _, err := m.Submit(); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("submit before start: want ErrNotInProgress got %v", err)
	}

	_ = m.Start()
	if err := m.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start: want ErrAlreadyStarted got %v", err)
	}
	_, _, _ = m.Submit()

	for name, fn := range checks {
		if err := fn(); !errors.Is(err, ErrNotInProgress) {
			t.Errorf("%s after submit: want ErrNotInProgress got %v", name, err)
		}
	}
	if err := m.Start(); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("Start after submit: want ErrNotInProgress got %v", err)
	}
}

func TestMachineNavigation(t *testing.T) {
	m := NewMachine(testBank(t), "u-1")
	_ = m.Start()

	if err := m.Previous(); err != nil || m.Index() != 0 {
		t.Fatalf("Previous at 0: index=%d err=%v", m.Index(), err)
	}
	if err := m.GoTo(2); err != nil {
		t.Fatalf("GoTo(2): %v", err)
	}
	if err := m.Next(); err != nil || m.Index() != 2 {
		t.Fatalf("Next at last: index=%d err=%v", m.Index(), err)
	}
	for _, idx := range []int{-1, 3, 50} {
		if err := m.GoTo(idx); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("GoTo(%d): want ErrIndexOutOfRange got %v", idx, err)
		}
	}
	if m.Index() != 2 {
		t.Fatalf("rejected GoTo moved index to %d", m.Index())
	}
}

func TestMachineLastAnswerWins(t *testing.T) {
	m := NewMachine(testBank(t), "u-1")
	_ = m.Start()
	_ = m.SelectAnswer("B")
	_ = m.GoTo(2)
	_ = m.SelectAnswer("draft")
	_ = m.GoTo(0)
	_ = m.SelectAnswer("A")

	if got, _ := m.Answer(1); got != "A" {
		t.Fatalf("answer 1: want=A got=%q", got)
	}
	attempt, _, _ := m.Submit()
	if attempt.Score != 1 {
		t.Fatalf("score: want=1 got=%d", attempt.Score)
	}
	text, _ := attempt.AnswerFor(3)
	if text.SelectedAnswer != "draft" {
		t.Fatalf("text answer: want=draft got=%q", text.SelectedAnswer)
	}
}

func TestMachineStoresOverlongText(t *testing.T) {
	m := NewMachine(testBank(t), "u-1")
	_ = m.Start()
	_ = m.GoTo(2)
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	if err := m.SelectAnswer(string(long)); err != nil {
		t.Fatalf("SelectAnswer: %v", err)
	}
	if got, _ := m.Answer(3); len(got) != 500 {
		t.Fatalf("stored length: want=500 got=%d", len(got))
	}
}

func TestMachineSubmitIsOneShot(t *testing.T) {
	m := NewMachine(testBank(t), "u-1", WithDuration(5))
	_ = m.Start()
	_ = m.SelectAnswer("A")

	first, submitted, err := m.Submit()
	if err != nil || !submitted {
		t.Fatalf("first Submit: submitted=%v err=%v", submitted, err)
	}
	second, submitted, err := m.Submit()
	if err != nil || submitted {
		t.Fatalf("second Submit: submitted=%v err=%v", submitted, err)
	}
	if first.Score != second.Score || first.TimeTaken != second.TimeTaken {
		t.Fatalf("second Submit returned a different attempt: %+v vs %+v", first, second)
	}

	for i := 0; i < 10; i++ {
		if _, fired := m.Tick(); fired {
			t.Fatal("tick after manual submit must not submit again")
		}
	}
	if m.Remaining() != 5 {
		t.Fatalf("countdown kept running after submit: remaining=%d", m.Remaining())
	}
}

func TestMachineAutoSubmitAtZero(t *testing.T) {
	m := NewMachine(testBank(t), "u-1", WithDuration(3))
	_ = m.Start()

	last := m.Remaining()
	fired := 0
	var attempt models.Attempt
	for i := 0; i < 6; i++ {
		a, ok := m.Tick()
		if m.Remaining() > last {
			t.Fatalf("remaining increased: %d -> %d", last, m.Remaining())
		}
		last = m.Remaining()
		if ok {
			fired++
			attempt = a
			if m.Remaining() != 0 {
				t.Fatalf("auto-submit before zero: remaining=%d", m.Remaining())
			}
		}
	}
	if fired != 1 {
		t.Fatalf("auto-submit fired %d times", fired)
	}
	if attempt.TimeTaken != 3 {
		t.Fatalf("time taken at timeout: want=3 got=%d", attempt.TimeTaken)
	}
	if _, _, err := m.Submit(); err != nil {
		t.Fatalf("Submit after timeout: %v", err)
	}
}

func TestMachineSnapshot(t *testing.T) {
	m := NewMachine(testBank(t), "u-1")
	_ = m.Start()
	_ = m.GoTo(1)
	_ = m.SelectAnswer("B")
	_ = m.GoTo(2)
	_ = m.SelectAnswer("")
	_ = m.GoTo(1)

	s := m.Snapshot()
	if s.Index != 1 || s.Current.ID != 2 || s.CurrentAnswer != "B" {
		t.Fatalf("snapshot current: %+v", s)
	}
	if s.AnsweredCount != 1 || len(s.Answered) != 1 || s.Answered[0] != 2 {
		t.Fatalf("answered: %v", s.Answered)
	}
	if s.TotalQuestions != 3 || s.State != InProgress {
		t.Fatalf("snapshot meta: %+v", s)
	}
}
