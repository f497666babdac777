// Package storetest holds the behaviour every store.Store must show.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store"
)

// Run exercises s against the store contract. s must start empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})

	var first models.User
	t.Run("upsert by email", func(t *testing.T) {
		var err error
		first, err = s.UpsertUser(ctx, models.UserInput{Name: "Ada", Email: "ada@example.com"})
		if err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
		if first.ID == "" || first.CreatedAt.IsZero() {
			t.Fatalf("new user missing id or created_at: %+v", first)
		}

		again, err := s.UpsertUser(ctx, models.UserInput{
			Name:       "Ada Lovelace",
			Email:      "ada@example.com",
			ProfileURL: "https://www.linkedin.com/in/ada",
		})
		if err != nil {
			t.Fatalf("second UpsertUser: %v", err)
		}
		if again.ID != first.ID {
			t.Fatalf("same email produced a new id: %s vs %s", again.ID, first.ID)
		}
		if again.Name != "Ada Lovelace" || again.ProfileURL != "https://www.linkedin.com/in/ada" {
			t.Fatalf("upsert did not update fields: %+v", again)
		}

		got, err := s.GetUser(ctx, first.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if got.Name != "Ada Lovelace" || got.Email != "ada@example.com" {
			t.Fatalf("GetUser: %+v", got)
		}
	})

	t.Run("list users", func(t *testing.T) {
		time.Sleep(5 * time.Millisecond)
		second, err := s.UpsertUser(ctx, models.UserInput{Name: "Grace", Email: "grace@example.com"})
		if err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
		users, err := s.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers: %v", err)
		}
		if len(users) != 2 {
			t.Fatalf("users: want=2 got=%d", len(users))
		}
		if users[0].ID != second.ID {
			t.Fatalf("users should be newest first: %+v", users)
		}
	})

	t.Run("missing records", func(t *testing.T) {
		if _, err := s.GetUser(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetUser missing: want ErrNotFound got %v", err)
		}
		if _, err := s.GetAttempt(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetAttempt missing: want ErrNotFound got %v", err)
		}
	})

	t.Run("attempts", func(t *testing.T) {
		yes, no := true, false
		base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		older := models.Attempt{
			UserID:          first.ID,
			Score:           1,
			TotalQuestions:  2,
			TimeTaken:       42,
			ScorePercentage: 50,
			CategoryScores: map[string]models.CategoryScore{
				"Logic": {Correct: 1, Total: 1},
				"Math":  {Correct: 0, Total: 1},
			},
			Answers: []models.Answer{
				{QuestionID: 1, SelectedAnswer: "A", IsCorrect: &yes},
				{QuestionID: 2, SelectedAnswer: "C", IsCorrect: &no},
				{QuestionID: 3, SelectedAnswer: "hello"},
			},
			CompletedAt: base,
		}
		newer := older.Clone()
		newer.Score = 2
		newer.ScorePercentage = 100
		newer.CompletedAt = base.Add(time.Hour)

		storedOld, err := s.InsertAttempt(ctx, older)
		if err != nil {
			t.Fatalf("InsertAttempt: %v", err)
		}
		storedNew, err := s.InsertAttempt(ctx, newer)
		if err != nil {
			t.Fatalf("InsertAttempt: %v", err)
		}
		if storedOld.ID == "" || storedOld.ID == storedNew.ID {
			t.Fatalf("attempt ids: %q %q", storedOld.ID, storedNew.ID)
		}

		got, err := s.GetAttempt(ctx, storedOld.ID)
		if err != nil {
			t.Fatalf("GetAttempt: %v", err)
		}
		if got.Score != 1 || got.TimeTaken != 42 || got.UserID != first.ID || !got.CompletedAt.Equal(base) {
			t.Fatalf("GetAttempt: %+v", got)
		}
		if got.CategoryScores["Math"] != (models.CategoryScore{Correct: 0, Total: 1}) {
			t.Fatalf("category scores: %+v", got.CategoryScores)
		}
		if len(got.Answers) != 3 || got.Answers[2].IsCorrect != nil || got.Answers[1].IsCorrect == nil || *got.Answers[1].IsCorrect {
			t.Fatalf("answers: %+v", got.Answers)
		}

		list, err := s.ListAttempts(ctx)
		if err != nil {
			t.Fatalf("ListAttempts: %v", err)
		}
		if len(list) != 2 || list[0].ID != storedNew.ID {
			t.Fatalf("attempts should be newest first: %+v", list)
		}
	})

	t.Run("insert with a known id lands once", func(t *testing.T) {
		a := models.Attempt{
			ID:              "11111111-2222-3333-4444-555555555555",
			UserID:          first.ID,
			Score:           2,
			TotalQuestions:  2,
			ScorePercentage: 100,
			CompletedAt:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		}
		stored, err := s.InsertAttempt(ctx, a)
		if err != nil {
			t.Fatalf("InsertAttempt: %v", err)
		}
		if stored.ID != a.ID {
			t.Fatalf("supplied id replaced: %q", stored.ID)
		}

		again := a
		again.Score = 0
		dup, err := s.InsertAttempt(ctx, again)
		if err != nil {
			t.Fatalf("repeated InsertAttempt: %v", err)
		}
		if dup.ID != a.ID || dup.Score != 2 {
			t.Fatalf("repeated insert should return the stored attempt: %+v", dup)
		}

		list, err := s.ListAttempts(ctx)
		if err != nil {
			t.Fatalf("ListAttempts: %v", err)
		}
		seen := 0
		for _, got := range list {
			if got.ID == a.ID {
				seen++
			}
		}
		if seen != 1 || len(list) != 3 {
			t.Fatalf("attempt stored %d times, %d attempts total", seen, len(list))
		}
	})

	t.Run("stars", func(t *testing.T) {
		for _, step := range []struct {
			id      string
			starred bool
		}{
			{"attempt-a", true},
			{"attempt-b", true},
			{"attempt-a", true},
			{"attempt-b", false},
			{"attempt-never-starred", false},
		} {
			if err := s.SetStarred(ctx, step.id, step.starred); err != nil {
				t.Fatalf("SetStarred(%s, %v): %v", step.id, step.starred, err)
			}
		}
		ids, err := s.StarredAttempts(ctx)
		if err != nil {
			t.Fatalf("StarredAttempts: %v", err)
		}
		if len(ids) != 1 || ids[0] != "attempt-a" {
			t.Fatalf("starred: want=[attempt-a] got=%v", ids)
		}
	})

	t.Run("questions", func(t *testing.T) {
		ml := 200
		records := []models.QuestionRecord{
			{ID: 2, Question: "Q2", Category: "Communication", Type: models.KindShortAnswer, MaxLength: &ml},
			{ID: 1, Question: "Q1", Category: "Logic", Type: models.KindMultipleChoice, Options: []string{"A", "B"}, CorrectAnswer: "A"},
		}
		if err := s.SaveQuestions(ctx, records); err != nil {
			t.Fatalf("SaveQuestions: %v", err)
		}
		got, err := s.ListQuestions(ctx)
		if err != nil {
			t.Fatalf("ListQuestions: %v", err)
		}
		if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
			t.Fatalf("questions should be ordered by id: %+v", got)
		}
		if got[0].CorrectAnswer != "A" || len(got[0].Options) != 2 {
			t.Fatalf("question 1: %+v", got[0])
		}
		if got[1].MaxLength == nil || *got[1].MaxLength != 200 {
			t.Fatalf("question 2 max length: %+v", got[1])
		}

		if err := s.SaveQuestions(ctx, records[1:]); err != nil {
			t.Fatalf("SaveQuestions replace: %v", err)
		}
		got, _ = s.ListQuestions(ctx)
		if len(got) != 1 {
			t.Fatalf("SaveQuestions should replace the catalog, got %d", len(got))
		}
	})
}
