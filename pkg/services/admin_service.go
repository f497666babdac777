package services

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/google/uuid"
)

// SocketTokenTTL is how long a websocket token from login stays redeemable
const SocketTokenTTL = 2 * time.Minute

// AdminService guards the dashboard with the shared secret and reports the
// live state of the server to operators
type AdminService struct {
	password  []byte
	questions *QuestionService
	sessions  *SessionService
	results   *ResultService
	notifier  Notifier
	now       func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewAdminService(password string, questions *QuestionService, sessions *SessionService, results *ResultService, notifier Notifier) *AdminService {
	return &AdminService{
		password:  []byte(password),
		questions: questions,
		sessions:  sessions,
		results:   results,
		notifier:  notifier,
		now:       time.Now,
		tokens:    make(map[string]time.Time),
	}
}

// Authenticate compares secret with the admin password in constant time
func (s *AdminService) Authenticate(secret string) bool {
	if len(s.password) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), s.password) == 1
}

// IssueSocketToken returns a single-use token that opens the operators
// websocket, and its expiry
func (s *AdminService) IssueSocketToken() (string, time.Time) {
	now := s.now()
	token := uuid.NewString()
	expires := now.Add(SocketTokenTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for t, exp := range s.tokens {
		if now.After(exp) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = expires
	return token, expires
}

// RedeemSocketToken reports whether token is live, and spends it
func (s *AdminService) RedeemSocketToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	delete(s.tokens, token)
	return !s.now().After(exp)
}

func (s *AdminService) Overview(ctx context.Context) models.Overview {
	o := models.Overview{
		ActiveSessions:    s.sessions.ActiveCount(),
		StoreAvailable:    true,
		QuestionCount:     s.questions.GetQuestionCount(),
		BankVersion:       s.questions.Bank().Version(),
		WebhookConfigured: s.notifier.Configured(),
		RecentFailures:    len(s.results.Failures()),
		Timestamp:         s.now().UTC(),
	}
	if err := s.questions.HealthCheck(ctx); err != nil {
		o.StoreAvailable = false
		o.StoreError = err.Error()
	}
	return o
}
