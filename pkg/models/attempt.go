package models

import "time"

// Answer is the response to one question within an attempt. IsCorrect is
// nil for free-text questions, which are kept for manual review only.
type Answer struct {
	QuestionID     int    `json:"question_id"`
	SelectedAnswer string `json:"selected_answer"`
	IsCorrect      *bool  `json:"is_correct"`
}

// CategoryScore aggregates multiple choice results for one category
type CategoryScore struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Attempt is the scored, immutable result of a completed session
type Attempt struct {
	ID              string                   `json:"id,omitempty"`
	UserID          string                   `json:"user_id"`
	Score           int                      `json:"score"`
	TotalQuestions  int                      `json:"total_questions"`
	TimeTaken       int                      `json:"time_taken"`
	ScorePercentage int                      `json:"score_percentage"`
	CategoryScores  map[string]CategoryScore `json:"category_scores"`
	Answers         []Answer                 `json:"answers"`
	CompletedAt     time.Time                `json:"completed_at"`
}

// Clone returns a deep copy so callers can't mutate a stored attempt
func (a Attempt) Clone() Attempt {
	out := a
	if a.CategoryScores != nil {
		out.CategoryScores = make(map[string]CategoryScore, len(a.CategoryScores))
		for k, v := range a.CategoryScores {
			out.CategoryScores[k] = v
		}
	}
	if a.Answers != nil {
		out.Answers = make([]Answer, len(a.Answers))
		for i, ans := range a.Answers {
			out.Answers[i] = ans
			if ans.IsCorrect != nil {
				v := *ans.IsCorrect
				out.Answers[i].IsCorrect = &v
			}
		}
	}
	return out
}

// AnswerFor returns the answer to the given question, if present
func (a Attempt) AnswerFor(questionID int) (Answer, bool) {
	for _, ans := range a.Answers {
		if ans.QuestionID == questionID {
			return ans, true
		}
	}
	return Answer{}, false
}

// CompletionReceipt is what the respondent sees after submitting. Scores
// stay hidden from respondents.
type CompletionReceipt struct {
	SessionID     string    `json:"sessionId"`
	CompletedAt   time.Time `json:"completedAt"`
	TimeTaken     int       `json:"timeTaken"`
	AnsweredCount int       `json:"answeredCount"`
	TotalCount    int       `json:"totalCount"`
	Message       string    `json:"message"`
}
