package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/backsoul/leadquiz/pkg/models"
	"gorm.io/datatypes"
)

type userRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Name       string    `gorm:"not null"`
	Email      string    `gorm:"uniqueIndex;not null"`
	ProfileURL string    `gorm:"column:profile_url"`
	CreatedAt  time.Time `gorm:"index;not null"`
}

func (userRow) TableName() string { return "users" }

func (r userRow) model() models.User {
	return models.User{
		ID:         r.ID,
		Name:       r.Name,
		Email:      r.Email,
		ProfileURL: r.ProfileURL,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

type attemptRow struct {
	ID              string `gorm:"primaryKey;size:36"`
	UserID          string `gorm:"index;size:36;not null"`
	Score           int
	TotalQuestions  int
	TimeTaken       int
	ScorePercentage int
	CategoryScores  datatypes.JSON
	Answers         datatypes.JSON
	CompletedAt     time.Time `gorm:"index;not null"`
}

func (attemptRow) TableName() string { return "quiz_attempts" }

func newAttemptRow(a models.Attempt) (attemptRow, error) {
	categories, err := json.Marshal(a.CategoryScores)
	if err != nil {
		return attemptRow{}, err
	}
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return attemptRow{}, err
	}
	return attemptRow{
		ID:              a.ID,
		UserID:          a.UserID,
		Score:           a.Score,
		TotalQuestions:  a.TotalQuestions,
		TimeTaken:       a.TimeTaken,
		ScorePercentage: a.ScorePercentage,
		CategoryScores:  datatypes.JSON(categories),
		Answers:         datatypes.JSON(answers),
		CompletedAt:     a.CompletedAt.UTC(),
	}, nil
}

func (r attemptRow) model() (models.Attempt, error) {
	a := models.Attempt{
		ID:              r.ID,
		UserID:          r.UserID,
		Score:           r.Score,
		TotalQuestions:  r.TotalQuestions,
		TimeTaken:       r.TimeTaken,
		ScorePercentage: r.ScorePercentage,
		CompletedAt:     r.CompletedAt.UTC(),
	}
	if len(r.CategoryScores) > 0 {
		if err := json.Unmarshal(r.CategoryScores, &a.CategoryScores); err != nil {
			return models.Attempt{}, fmt.Errorf("attempt %s category_scores: %w", r.ID, err)
		}
	}
	if len(r.Answers) > 0 {
		if err := json.Unmarshal(r.Answers, &a.Answers); err != nil {
			return models.Attempt{}, fmt.Errorf("attempt %s answers: %w", r.ID, err)
		}
	}
	return a, nil
}

type starRow struct {
	AttemptID string    `gorm:"primaryKey;size:36"`
	StarredAt time.Time `gorm:"not null"`
}

func (starRow) TableName() string { return "starred_attempts" }

type questionRow struct {
	ID            int `gorm:"primaryKey;autoIncrement:false"`
	Question      string
	Options       datatypes.JSON
	CorrectAnswer string
	Category      string `gorm:"index"`
	Type          string
	MaxLength     *int
}

func (questionRow) TableName() string { return "questions" }

func newQuestionRow(q models.QuestionRecord) (questionRow, error) {
	row := questionRow{
		ID:            q.ID,
		Question:      q.Question,
		CorrectAnswer: q.CorrectAnswer,
		Category:      q.Category,
		Type:          string(q.Type),
		MaxLength:     q.MaxLength,
	}
	if len(q.Options) > 0 {
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return questionRow{}, err
		}
		row.Options = datatypes.JSON(opts)
	}
	return row, nil
}

func (r questionRow) model() (models.QuestionRecord, error) {
	q := models.QuestionRecord{
		ID:            r.ID,
		Question:      r.Question,
		CorrectAnswer: r.CorrectAnswer,
		Category:      r.Category,
		Type:          models.QuestionKind(r.Type),
		MaxLength:     r.MaxLength,
	}
	if len(r.Options) > 0 {
		if err := json.Unmarshal(r.Options, &q.Options); err != nil {
			return models.QuestionRecord{}, fmt.Errorf("question %d options: %w", r.ID, err)
		}
	}
	return q, nil
}
