package models

import "time"

// TempUserID stands in for the user id when the store could not save the user
const TempUserID = "temp-user-id"

// User is a respondent. Email is the natural key of the store.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ProfileURL string    `json:"profile_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserInput is the intake form
type UserInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	ProfileURL string `json:"profileUrl"`
}

// SessionView is the state of a live session as exposed to its respondent
type SessionView struct {
	ID               string             `json:"id"`
	UserID           string             `json:"userId"`
	UserName         string             `json:"userName"`
	State            string             `json:"state"`
	CurrentIndex     int                `json:"currentIndex"`
	TotalQuestions   int                `json:"totalQuestions"`
	RemainingSeconds int                `json:"remainingSeconds"`
	DurationSeconds  int                `json:"durationSeconds"`
	CurrentQuestion  *PublicQuestion    `json:"currentQuestion,omitempty"`
	CurrentAnswer    string             `json:"currentAnswer"`
	Answered         []int              `json:"answered"`
	StartedAt        *time.Time         `json:"startedAt,omitempty"`
	Receipt          *CompletionReceipt `json:"receipt,omitempty"`
}

// AnswerRequest carries the selected option or typed text for the current question
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// GoToRequest selects a question by 0-based index
type GoToRequest struct {
	Index int `json:"index"`
}

// SessionEvent is pushed to the respondent's websocket topic
type SessionEvent struct {
	SessionID        string             `json:"sessionId"`
	State            string             `json:"state"`
	RemainingSeconds int                `json:"remainingSeconds"`
	Receipt          *CompletionReceipt `json:"receipt,omitempty"`
}
