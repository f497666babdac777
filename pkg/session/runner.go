package session

import (
	"context"
	"errors"
	"time"

	"github.com/backsoul/leadquiz/pkg/models"
)

var ErrSessionClosed = errors.New("session closed")

// Ticker delivers the one-second countdown pulses
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type clockTicker struct{ t *time.Ticker }

func (c clockTicker) C() <-chan time.Time { return c.t.C }
func (c clockTicker) Stop()               { c.t.Stop() }

// SecondTicker is the production ticker
func SecondTicker() Ticker {
	return clockTicker{t: time.NewTicker(time.Second)}
}

// Observer is told about countdown progress and completion. Callbacks run
// on the runner goroutine and must not call back into the runner.
type Observer interface {
	OnTick(remaining int)
	OnComplete(attempt models.Attempt)
}

type nopObserver struct{}

func (nopObserver) OnTick(int)                {}
func (nopObserver) OnComplete(models.Attempt) {}

type command struct {
	fn    func(*Machine) error
	reply chan error
}

// Runner owns a Machine and applies respondent commands and timer ticks to
// it one at a time on a single goroutine.
type Runner struct {
	m         *Machine
	observer  Observer
	newTicker func() Ticker
	cmds      chan command
	done      chan struct{}
}

type RunnerOption func(*Runner)

// WithTicker replaces the wall-clock ticker, mostly for tests
func WithTicker(newTicker func() Ticker) RunnerOption {
	return func(r *Runner) { r.newTicker = newTicker }
}

func NewRunner(m *Machine, observer Observer, opts ...RunnerOption) *Runner {
	if observer == nil {
		observer = nopObserver{}
	}
	r := &Runner{
		m:         m,
		observer:  observer,
		newTicker: SecondTicker,
		cmds:      make(chan command),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes commands and ticks until ctx is cancelled
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)

	var ticker Ticker
	var ticks <-chan time.Time
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			ticks = nil
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-r.cmds:
			before := r.m.State()
			err := cmd.fn(r.m)
			after := r.m.State()

			if before == NotStarted && after == InProgress && ticker == nil {
				ticker = r.newTicker()
				ticks = ticker.C()
			}
			if before == InProgress && after == Completed {
				stop()
				if attempt, ok := r.m.Attempt(); ok {
					r.observer.OnComplete(attempt)
				}
			}
			cmd.reply <- err

		case <-ticks:
			attempt, submitted := r.m.Tick()
			r.observer.OnTick(r.m.Remaining())
			if submitted {
				stop()
				r.observer.OnComplete(attempt)
			}
		}
	}
}

// Done is closed once Run returns
func (r *Runner) Done() <-chan struct{} { return r.done }

// Do runs fn against the machine on the runner goroutine
func (r *Runner) Do(ctx context.Context, fn func(*Machine) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-r.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Start(ctx context.Context) error {
	return r.Do(ctx, func(m *Machine) error { return m.Start() })
}

func (r *Runner) SelectAnswer(ctx context.Context, text string) error {
	return r.Do(ctx, func(m *Machine) error { return m.SelectAnswer(text) })
}

func (r *Runner) GoTo(ctx context.Context, index int) error {
	return r.Do(ctx, func(m *Machine) error { return m.GoTo(index) })
}

func (r *Runner) Next(ctx context.Context) error {
	return r.Do(ctx, func(m *Machine) error { return m.Next() })
}

func (r *Runner) Previous(ctx context.Context) error {
	return r.Do(ctx, func(m *Machine) error { return m.Previous() })
}

// Submit returns the attempt and whether this call produced it
func (r *Runner) Submit(ctx context.Context) (models.Attempt, bool, error) {
	var (
		attempt   models.Attempt
		submitted bool
	)
	err := r.Do(ctx, func(m *Machine) error {
		var err error
		attempt, submitted, err = m.Submit()
		return err
	})
	return attempt, submitted, err
}

func (r *Runner) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := r.Do(ctx, func(m *Machine) error {
		snap = m.Snapshot()
		return nil
	})
	return snap, err
}
