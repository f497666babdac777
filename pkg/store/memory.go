package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/google/uuid"
)

// Memory keeps records in process. It backs STORE_DRIVER=memory and tests.
type Memory struct {
	mu        sync.RWMutex
	users     map[string]models.User
	byEmail   map[string]string
	attempts  map[string]models.Attempt
	starred   map[string]bool
	questions []models.QuestionRecord
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]models.User),
		byEmail:  make(map[string]string),
		attempts: make(map[string]models.Attempt),
		starred:  make(map[string]bool),
		now:      time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) UpsertUser(_ context.Context, in models.UserInput) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byEmail[in.Email]; ok {
		u := m.users[id]
		u.Name = in.Name
		u.ProfileURL = in.ProfileURL
		m.users[id] = u
		return u, nil
	}
	u := models.User{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Email:      in.Email,
		ProfileURL: in.ProfileURL,
		CreatedAt:  m.now().UTC(),
	}
	m.users[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) ListUsers(context.Context) ([]models.User, error) {
	m.mu.RLock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertAttempt(_ context.Context, a models.Attempt) (models.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.attempts[a.ID]; ok && a.ID != "" {
		return existing.Clone(), nil
	}
	stored := a.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	m.attempts[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *Memory) GetAttempt(_ context.Context, id string) (models.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return models.Attempt{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) ListAttempts(context.Context) ([]models.Attempt, error) {
	m.mu.RLock()
	out := make([]models.Attempt, 0, len(m.attempts))
	for _, a := range m.attempts {
		out = append(out, a.Clone())
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

func (m *Memory) SetStarred(_ context.Context, attemptID string, starred bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if starred {
		m.starred[attemptID] = true
	} else {
		delete(m.starred, attemptID)
	}
	return nil
}

func (m *Memory) StarredAttempts(context.Context) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0, len(m.starred))
	for id := range m.starred {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SaveQuestions(_ context.Context, questions []models.QuestionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions = append([]models.QuestionRecord(nil), questions...)
	sort.SliceStable(m.questions, func(i, j int) bool { return m.questions[i].ID < m.questions[j].ID })
	return nil
}

func (m *Memory) ListQuestions(context.Context) ([]models.QuestionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.QuestionRecord(nil), m.questions...), nil
}

func (m *Memory) Close() error { return nil }
