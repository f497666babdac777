package services

import (
	"context"
	"fmt"

	"github.com/backsoul/leadquiz/pkg/bank"
	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store"
)

// QuestionService serves the question bank and keeps the store's catalog in step with it
type QuestionService struct {
	bank  *bank.Bank
	store store.Store
	log   *logger.Logger
}

func NewQuestionService(b *bank.Bank, st store.Store, log *logger.Logger) *QuestionService {
	return &QuestionService{
		bank:  b,
		store: st,
		log:   log.With("service", "QuestionService"),
	}
}

func (s *QuestionService) Bank() *bank.Bank { return s.bank }

// GetAllQuestions returns the respondent view of every question, in order
func (s *QuestionService) GetAllQuestions() []models.PublicQuestion {
	return s.bank.Public()
}

func (s *QuestionService) GetQuestionCount() int { return s.bank.Len() }

// SeedCatalog writes the bank into the store's question catalog
func (s *QuestionService) SeedCatalog(ctx context.Context) error {
	records := s.bank.Records()
	if err := s.store.SaveQuestions(ctx, records); err != nil {
		return fmt.Errorf("seeding question catalog: %w", err)
	}
	s.log.Info("question catalog seeded", "count", len(records), "version", s.bank.Version())
	return nil
}

// Catalog returns the stored catalog ordered by id, falling back to the
// bank when the store has none or cannot be read
func (s *QuestionService) Catalog(ctx context.Context) []models.QuestionRecord {
	records, err := s.store.ListQuestions(ctx)
	if err != nil {
		s.log.Warn("question catalog unavailable, using bank", "error", err)
		return s.bank.Records()
	}
	if len(records) == 0 {
		return s.bank.Records()
	}
	return records
}

// HealthCheck reports whether the record store answers
func (s *QuestionService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("record store health check: %w", err)
	}
	return nil
}
