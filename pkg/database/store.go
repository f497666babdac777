package database

import (
	"context"
	"errors"
	"time"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an open, migrated connection
func New(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.With("store", "database"), now: time.Now}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) UpsertUser(ctx context.Context, in models.UserInput) (models.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := userRow{
			ID:         uuid.NewString(),
			Name:       in.Name,
			Email:      in.Email,
			ProfileURL: in.ProfileURL,
			CreatedAt:  s.now().UTC(),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "profile_url"}),
		}).Create(&candidate).Error
		if err != nil {
			return err
		}
		// on conflict the candidate id was discarded, read back the stored row
		return tx.Where("email = ?", in.Email).First(&row).Error
	})
	if err != nil {
		return models.User{}, err
	}
	return row.model(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return models.User{}, notFound(err)
	}
	return row.model(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.User, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *Store) InsertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	stored := a.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	row, err := newAttemptRow(stored)
	if err != nil {
		return models.Attempt{}, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return models.Attempt{}, res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Info("attempt already stored", "attempt_id", stored.ID)
		return s.GetAttempt(ctx, stored.ID)
	}
	return stored, nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (models.Attempt, error) {
	var row attemptRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return models.Attempt{}, notFound(err)
	}
	return row.model()
}

func (s *Store) ListAttempts(ctx context.Context) ([]models.Attempt, error) {
	var rows []attemptRow
	if err := s.db.WithContext(ctx).Order("completed_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Attempt, 0, len(rows))
	for _, r := range rows {
		a, err := r.model()
		if err != nil {
			s.log.Warn("skipping unreadable attempt", "attempt_id", r.ID, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) SetStarred(ctx context.Context, attemptID string, starred bool) error {
	db := s.db.WithContext(ctx)
	if !starred {
		return db.Where("attempt_id = ?", attemptID).Delete(&starRow{}).Error
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&starRow{AttemptID: attemptID, StarredAt: s.now().UTC()}).Error
}

func (s *Store) StarredAttempts(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&starRow{}).Order("attempt_id").Pluck("attempt_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) SaveQuestions(ctx context.Context, questions []models.QuestionRecord) error {
	rows := make([]questionRow, 0, len(questions))
	for _, q := range questions {
		row, err := newQuestionRow(q)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&questionRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

func (s *Store) ListQuestions(ctx context.Context) ([]models.QuestionRecord, error) {
	var rows []questionRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.QuestionRecord, 0, len(rows))
	for _, r := range rows {
		q, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
