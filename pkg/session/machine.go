// Package session drives one respondent through the quiz: intake is done,
// the countdown runs, answers are collected, and the attempt is scored
// exactly once.
package session

import (
	"errors"
	"sort"
	"time"

	"github.com/backsoul/leadquiz/pkg/bank"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/scoring"
)

// DefaultDuration is the quiz length in seconds (18 minutes)
const DefaultDuration = 18 * 60

type State int

const (
	NotStarted State = iota
	InProgress
	Completed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	}
	return "unknown"
}

var (
	ErrNotInProgress   = errors.New("session is not in progress")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrIndexOutOfRange = errors.New("question index out of range")
)

// Machine is the state of one session. It is not safe for concurrent use;
// Runner serializes access to it.
type Machine struct {
	bank      *bank.Bank
	userID    string
	duration  int
	remaining int
	index     int
	answers   map[int]string
	state     State
	startedAt time.Time
	attempt   models.Attempt
	now       func() time.Time
}

type Option func(*Machine)

// WithDuration overrides the countdown length in seconds
func WithDuration(seconds int) Option {
	return func(m *Machine) {
		if seconds > 0 {
			m.duration = seconds
		}
	}
}

// WithClock overrides the clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine returns a NotStarted session over b
func NewMachine(b *bank.Bank, userID string, opts ...Option) *Machine {
	m := &Machine{
		bank:     b,
		userID:   userID,
		duration: DefaultDuration,
		answers:  make(map[int]string),
		state:    NotStarted,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.remaining = m.duration
	return m
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Remaining() int { return m.remaining }

func (m *Machine) Duration() int { return m.duration }

func (m *Machine) Index() int { return m.index }

// Start arms the countdown
func (m *Machine) Start() error {
	switch m.state {
	case InProgress:
		return ErrAlreadyStarted
	case Completed:
		return ErrNotInProgress
	}
	m.state = InProgress
	m.startedAt = m.now()
	return nil
}

// SelectAnswer records text as the answer to the current question,
// replacing any earlier answer. Overlong text is stored as given.
func (m *Machine) SelectAnswer(text string) error {
	if m.state != InProgress {
		return ErrNotInProgress
	}
	q, ok := m.bank.At(m.index)
	if !ok {
		return ErrIndexOutOfRange
	}
	m.answers[q.ID] = text
	return nil
}

// GoTo moves to any question; earlier questions need not be answered
func (m *Machine) GoTo(index int) error {
	if m.state != InProgress {
		return ErrNotInProgress
	}
	if index < 0 || index >= m.bank.Len() {
		return ErrIndexOutOfRange
	}
	m.index = index
	return nil
}

// Next moves forward one question, staying put on the last one
func (m *Machine) Next() error {
	if m.state != InProgress {
		return ErrNotInProgress
	}
	if m.index < m.bank.Len()-1 {
		m.index++
	}
	return nil
}

// Previous moves back one question, staying put on the first one
func (m *Machine) Previous() error {
	if m.state != InProgress {
		return ErrNotInProgress
	}
	if m.index > 0 {
		m.index--
	}
	return nil
}

// Tick advances the countdown by one second. When it reaches zero the
// session is submitted; the returned bool is true only for that tick.
func (m *Machine) Tick() (models.Attempt, bool) {
	if m.state != InProgress {
		return models.Attempt{}, false
	}
	if m.remaining > 0 {
		m.remaining--
	}
	if m.remaining > 0 {
		return models.Attempt{}, false
	}
	attempt, submitted, _ := m.Submit()
	return attempt, submitted
}

// Submit scores the session and moves it to Completed. Only the first call
// out of InProgress scores; later calls return the same attempt and false.
func (m *Machine) Submit() (models.Attempt, bool, error) {
	switch m.state {
	case Completed:
		return m.attempt.Clone(), false, nil
	case NotStarted:
		return models.Attempt{}, false, ErrNotInProgress
	}
	// leave InProgress before scoring so no other trigger can score again
	m.state = Completed

	frozen := make(map[int]string, len(m.answers))
	for id, text := range m.answers {
		frozen[id] = text
	}
	m.answers = frozen

	m.attempt = scoring.Score(m.bank.Questions(), scoring.Input{
		UserID:           m.userID,
		Answers:          frozen,
		DurationSeconds:  m.duration,
		RemainingSeconds: m.remaining,
		CompletedAt:      m.now(),
	})
	return m.attempt.Clone(), true, nil
}

// Attempt returns the scored attempt once Completed
func (m *Machine) Attempt() (models.Attempt, bool) {
	if m.state != Completed {
		return models.Attempt{}, false
	}
	return m.attempt.Clone(), true
}

// Current returns the question at the current index
func (m *Machine) Current() (models.Question, bool) {
	return m.bank.At(m.index)
}

// Answer returns the stored answer for a question id
func (m *Machine) Answer(questionID int) (string, bool) {
	text, ok := m.answers[questionID]
	return text, ok
}

// Snapshot is a point-in-time copy of the session for rendering
type Snapshot struct {
	State          State
	Index          int
	Remaining      int
	Duration       int
	Current        models.Question
	CurrentAnswer  string
	Answered       []int
	StartedAt      time.Time
	AnsweredCount  int
	TotalQuestions int
}

func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:          m.state,
		Index:          m.index,
		Remaining:      m.remaining,
		Duration:       m.duration,
		StartedAt:      m.startedAt,
		TotalQuestions: m.bank.Len(),
	}
	if q, ok := m.bank.At(m.index); ok {
		s.Current = q
		s.CurrentAnswer = m.answers[q.ID]
	}
	for id, text := range m.answers {
		if text != "" {
			s.Answered = append(s.Answered, id)
		}
	}
	sort.Ints(s.Answered)
	s.AnsweredCount = len(s.Answered)
	return s
}
