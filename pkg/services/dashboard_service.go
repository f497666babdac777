package services

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store"
	"golang.org/x/sync/errgroup"
)

// DashboardService assembles the review dashboard from the record store
type DashboardService struct {
	store         store.Store
	questions     *QuestionService
	results       *ResultService
	notifications *NotificationService
	log           *logger.Logger

	// serializes star toggles, the read and the write are separate store calls
	starMu sync.Mutex
}

func NewDashboardService(st store.Store, questions *QuestionService, results *ResultService, notifications *NotificationService, log *logger.Logger) *DashboardService {
	return &DashboardService{
		store:         st,
		questions:     questions,
		results:       results,
		notifications: notifications,
		log:           log.With("service", "DashboardService"),
	}
}

type snapshot struct {
	users     []models.User
	attempts  []models.Attempt
	starred   map[string]bool
	questions []models.QuestionRecord
}

func (s *DashboardService) load(ctx context.Context) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.users, err = s.store.ListUsers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.attempts, err = s.store.ListAttempts(gctx)
		return err
	})
	g.Go(func() error {
		ids, err := s.store.StarredAttempts(gctx)
		if err != nil {
			return err
		}
		snap.starred = make(map[string]bool, len(ids))
		for _, id := range ids {
			snap.starred[id] = true
		}
		return nil
	})
	g.Go(func() error {
		snap.questions = s.questions.Catalog(gctx)
		return nil
	})
	return snap, g.Wait()
}

// Load returns the dashboard. An unreachable store gives an empty dashboard
// with Available false rather than an error.
func (s *DashboardService) Load(ctx context.Context, starredFirst bool) models.Dashboard {
	d := models.Dashboard{
		Attempts:   []models.AttemptRow{},
		Questions:  []models.QuestionRecord{},
		Categories: []models.CategoryAnalytics{},
		Failures:   s.results.Failures(),
	}

	snap, err := s.load(ctx)
	if err != nil {
		s.log.Error("error loading dashboard data", "error", err)
		d.LoadError = err.Error()
		return d
	}
	d.Available = true
	d.Questions = snap.questions

	users := make(map[string]models.User, len(snap.users))
	for _, u := range snap.users {
		users[u.ID] = u
	}
	statuses := s.notifications.Statuses()

	for _, a := range snap.attempts {
		row := models.AttemptRow{
			Attempt:            a,
			Starred:            snap.starred[a.ID],
			NotificationStatus: statuses[a.ID],
		}
		if u, ok := users[a.UserID]; ok {
			row.User = &u
		}
		d.Attempts = append(d.Attempts, row)
	}

	if starredFirst {
		sort.SliceStable(d.Attempts, func(i, j int) bool {
			return d.Attempts[i].Starred && !d.Attempts[j].Starred
		})
	}

	d.Stats = Stats(snap.attempts, len(snap.users))
	d.Categories = CategoryBreakdown(snap.attempts)
	return d
}

// Attempt returns one attempt with its respondent, if the respondent is known
func (s *DashboardService) Attempt(ctx context.Context, id string) (models.AttemptRow, error) {
	a, err := s.store.GetAttempt(ctx, id)
	if err != nil {
		return models.AttemptRow{}, err
	}
	row := models.AttemptRow{
		Attempt:            a,
		Starred:            s.IsStarred(ctx, id),
		NotificationStatus: s.notifications.Status(id),
	}
	if u, err := s.store.GetUser(ctx, a.UserID); err == nil {
		row.User = &u
	}
	return row, nil
}

// QuestionAnswers lists every stored answer to one question, newest attempt first
func (s *DashboardService) QuestionAnswers(ctx context.Context, questionID int) ([]models.QuestionAnswer, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	users := make(map[string]models.User, len(snap.users))
	for _, u := range snap.users {
		users[u.ID] = u
	}
	out := []models.QuestionAnswer{}
	for _, a := range snap.attempts {
		ans, ok := a.AnswerFor(questionID)
		if !ok {
			continue
		}
		qa := models.QuestionAnswer{
			Answer:       ans,
			AttemptID:    a.ID,
			AttemptDate:  a.CompletedAt,
			AttemptScore: a.ScorePercentage,
		}
		if u, ok := users[a.UserID]; ok {
			qa.User = &u
		}
		out = append(out, qa)
	}
	return out, nil
}

// ToggleStar flips the star on an attempt and returns the new state. Stars
// live in the record store so they survive restarts.
func (s *DashboardService) ToggleStar(ctx context.Context, id string) (bool, error) {
	s.starMu.Lock()
	defer s.starMu.Unlock()

	ids, err := s.store.StarredAttempts(ctx)
	if err != nil {
		return false, err
	}
	starred := !slices.Contains(ids, id)
	if err := s.store.SetStarred(ctx, id, starred); err != nil {
		return false, err
	}
	s.log.Debug("attempt star toggled", "attempt_id", id, "starred", starred)
	return starred, nil
}

// IsStarred reports the star; an unreachable store reads as not starred
func (s *DashboardService) IsStarred(ctx context.Context, id string) bool {
	ids, err := s.store.StarredAttempts(ctx)
	if err != nil {
		s.log.Warn("could not read starred attempts", "error", err)
		return false
	}
	return slices.Contains(ids, id)
}

// Stats summarises attempts. The average is over score percentages, two decimals.
func Stats(attempts []models.Attempt, totalUsers int) models.Stats {
	st := models.Stats{TotalAttempts: len(attempts), TotalUsers: totalUsers}
	if len(attempts) == 0 {
		return st
	}
	sum := 0
	for _, a := range attempts {
		sum += a.ScorePercentage
	}
	st.AverageScore = round2(float64(sum) / float64(len(attempts)))
	return st
}

// CategoryBreakdown sums category scores across attempts, sorted by category
func CategoryBreakdown(attempts []models.Attempt) []models.CategoryAnalytics {
	totals := map[string]*models.CategoryAnalytics{}
	for _, a := range attempts {
		for cat, cs := range a.CategoryScores {
			ca, ok := totals[cat]
			if !ok {
				ca = &models.CategoryAnalytics{Category: cat}
				totals[cat] = ca
			}
			ca.Correct += cs.Correct
			ca.Total += cs.Total
		}
	}
	out := make([]models.CategoryAnalytics, 0, len(totals))
	for _, ca := range totals {
		if ca.Total > 0 {
			ca.Percentage = round2(float64(ca.Correct) * 100 / float64(ca.Total))
		}
		out = append(out, *ca)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
