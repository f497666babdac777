package models

import "time"

// AttemptRow joins an attempt with its respondent for the review dashboard
type AttemptRow struct {
	Attempt            Attempt `json:"attempt"`
	User               *User   `json:"user,omitempty"`
	Starred            bool    `json:"starred"`
	NotificationStatus string  `json:"notificationStatus,omitempty"`
}

// Stats summarises all stored attempts
type Stats struct {
	TotalAttempts int     `json:"totalAttempts"`
	AverageScore  float64 `json:"averageScore"`
	TotalUsers    int     `json:"totalUsers"`
}

// CategoryAnalytics aggregates one category over all attempts
type CategoryAnalytics struct {
	Category   string  `json:"category"`
	Correct    int     `json:"correct"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// PersistenceFailure is an operator-facing record of a write that did not reach the store
type PersistenceFailure struct {
	Kind       string    `json:"kind"` // "user" or "attempt"
	AttemptID  string    `json:"attemptId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Email      string    `json:"email,omitempty"`
	Error      string    `json:"error"`
	Queued     bool      `json:"queued"` // handed to the retry queue
	OccurredAt time.Time `json:"occurredAt"`
}

// Dashboard is the full payload of the review dashboard
type Dashboard struct {
	Available  bool                 `json:"available"`
	Attempts   []AttemptRow         `json:"attempts"`
	Questions  []QuestionRecord     `json:"questions"`
	Stats      Stats                `json:"stats"`
	Categories []CategoryAnalytics  `json:"categories"`
	Failures   []PersistenceFailure `json:"failures"`
	LoadError  string               `json:"loadError,omitempty"`
}

// QuestionAnswer is one respondent's answer to a question, for side-by-side review
type QuestionAnswer struct {
	Answer
	User         *User     `json:"user,omitempty"`
	AttemptID    string    `json:"attemptId"`
	AttemptDate  time.Time `json:"attemptDate"`
	AttemptScore int       `json:"attemptScore"`
}

// NotificationStatus values
const (
	NotificationSending = "sending"
	NotificationSuccess = "success"
	NotificationError   = "error"
)

// AttemptNotification is the webhook payload describing a finished attempt
type AttemptNotification struct {
	AttemptID       string                   `json:"attemptId"`
	UserName        string                   `json:"userName"`
	UserEmail       string                   `json:"userEmail"`
	LinkedinURL     string                   `json:"linkedinUrl,omitempty"`
	Score           int                      `json:"score"`
	TotalQuestions  int                      `json:"totalQuestions"`
	ScorePercentage int                      `json:"scorePercentage"`
	TimeTaken       int                      `json:"timeTaken"`
	CompletedAt     time.Time                `json:"completedAt"`
	CategoryScores  map[string]CategoryScore `json:"categoryScores"`
	Answers         []Answer                 `json:"answers"`
}

// NewAttemptNotification builds the webhook payload
func NewAttemptNotification(a Attempt, u User) AttemptNotification {
	return AttemptNotification{
		AttemptID:       a.ID,
		UserName:        u.Name,
		UserEmail:       u.Email,
		LinkedinURL:     u.ProfileURL,
		Score:           a.Score,
		TotalQuestions:  a.TotalQuestions,
		ScorePercentage: a.ScorePercentage,
		TimeTaken:       a.TimeTaken,
		CompletedAt:     a.CompletedAt,
		CategoryScores:  a.CategoryScores,
		Answers:         a.Answers,
	}
}

// Overview is the live status pushed to operators when they connect
type Overview struct {
	ActiveSessions    int       `json:"activeSessions"`
	StoreAvailable    bool      `json:"storeAvailable"`
	StoreError        string    `json:"storeError,omitempty"`
	QuestionCount     int       `json:"questionCount"`
	BankVersion       string    `json:"bankVersion"`
	WebhookConfigured bool      `json:"webhookConfigured"`
	RecentFailures    int       `json:"recentFailures"`
	Timestamp         time.Time `json:"timestamp"`
}
