// Package scoring turns a finished answer map into an Attempt.
package scoring

import (
	"time"

	"github.com/backsoul/leadquiz/pkg/models"
)

// Input is everything the engine needs besides the questions
type Input struct {
	UserID           string
	Answers          map[int]string
	DurationSeconds  int
	RemainingSeconds int
	CompletedAt      time.Time
}

// Score grades answers against questions in bank order. Only multiple
// choice questions count toward score, total and categories; text answers
// are carried with a nil IsCorrect. Answers for unknown question ids are
// ignored.
func Score(questions []models.Question, in Input) models.Attempt {
	attempt := models.Attempt{
		UserID:         in.UserID,
		CategoryScores: make(map[string]models.CategoryScore),
		Answers:        make([]models.Answer, 0, len(questions)),
		TimeTaken:      TimeTaken(in.DurationSeconds, in.RemainingSeconds),
		CompletedAt:    in.CompletedAt,
	}

	for _, q := range questions {
		selected := in.Answers[q.ID]
		ans := models.Answer{QuestionID: q.ID, SelectedAnswer: selected}

		if q.IsMultipleChoice() {
			// exact match, case-sensitive, untrimmed
			correct := selected == q.MultipleChoice.CorrectAnswer
			ans.IsCorrect = &correct

			attempt.TotalQuestions++
			cs := attempt.CategoryScores[q.Category]
			cs.Total++
			if correct {
				cs.Correct++
				attempt.Score++
			}
			attempt.CategoryScores[q.Category] = cs
		}

		attempt.Answers = append(attempt.Answers, ans)
	}

	attempt.ScorePercentage = Percentage(attempt.Score, attempt.TotalQuestions)
	return attempt
}

// Percentage rounds score/total*100 half away from zero. A zero total yields 0.
// Integer arithmetic keeps ties such as 1/8 = 12.5 exact.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	num := score * 200
	if num < 0 {
		return -((-num + total) / (2 * total))
	}
	return (num + total) / (2 * total)
}

// TimeTaken is duration minus remaining, clamped to [0, duration]
func TimeTaken(duration, remaining int) int {
	taken := duration - remaining
	if taken < 0 {
		return 0
	}
	if taken > duration {
		return duration
	}
	return taken
}
