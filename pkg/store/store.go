// Package store defines the record store holding users, attempts and the
// question catalog.
package store

import (
	"context"
	"errors"

	"github.com/backsoul/leadquiz/pkg/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrUnavailable = errors.New("record store unavailable")
)

// Store is the external record store. Users are keyed by email: UpsertUser
// on a known email updates name and profile URL and keeps id and created_at.
type Store interface {
	Ping(ctx context.Context) error

	UpsertUser(ctx context.Context, in models.UserInput) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	// ListUsers returns users newest first
	ListUsers(ctx context.Context) ([]models.User, error)

	// InsertAttempt stores a new attempt. An empty id is assigned. An id that
	// is already stored is left untouched, so a retried write lands once.
	InsertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error)
	GetAttempt(ctx context.Context, id string) (models.Attempt, error)
	// ListAttempts returns attempts by completion time, newest first
	ListAttempts(ctx context.Context) ([]models.Attempt, error)

	// SetStarred marks or clears the operator star on an attempt
	SetStarred(ctx context.Context, attemptID string, starred bool) error
	// StarredAttempts returns the ids of starred attempts
	StarredAttempts(ctx context.Context) ([]string, error)

	// SaveQuestions replaces the question catalog
	SaveQuestions(ctx context.Context, questions []models.QuestionRecord) error
	// ListQuestions returns the catalog ordered by id
	ListQuestions(ctx context.Context) ([]models.QuestionRecord, error)

	Close() error
}

// Unavailable is the store used when no backend is configured or reachable
type Unavailable struct {
	Reason error
}

func (u Unavailable) err() error {
	if u.Reason != nil {
		return errors.Join(ErrUnavailable, u.Reason)
	}
	return ErrUnavailable
}

func (u Unavailable) Ping(context.Context) error { return u.err() }

func (u Unavailable) UpsertUser(context.Context, models.UserInput) (models.User, error) {
	return models.User{}, u.err()
}

func (u Unavailable) GetUser(context.Context, string) (models.User, error) {
	return models.User{}, u.err()
}

func (u Unavailable) ListUsers(context.Context) ([]models.User, error) { return nil, u.err() }

func (u Unavailable) InsertAttempt(context.Context, models.Attempt) (models.Attempt, error) {
	return models.Attempt{}, u.err()
}

func (u Unavailable) GetAttempt(context.Context, string) (models.Attempt, error) {
	return models.Attempt{}, u.err()
}

func (u Unavailable) ListAttempts(context.Context) ([]models.Attempt, error) { return nil, u.err() }

func (u Unavailable) SetStarred(context.Context, string, bool) error { return u.err() }

func (u Unavailable) StarredAttempts(context.Context) ([]string, error) { return nil, u.err() }

func (u Unavailable) SaveQuestions(context.Context, []models.QuestionRecord) error { return u.err() }

func (u Unavailable) ListQuestions(context.Context) ([]models.QuestionRecord, error) {
	return nil, u.err()
}

func (u Unavailable) Close() error { return nil }
