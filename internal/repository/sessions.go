// Package repository implements the engine's store port on GORM/Postgres,
// plus an in-memory variant for tests and headless runs.
package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"rtlab/internal/models"
)

// SessionStore is the Postgres-backed trial store.
type SessionStore struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSessionStore(db *gorm.DB, log *zap.Logger) *SessionStore {
	return &SessionStore{db: db, log: log}
}

// CreateSession persists the session row, configuration included, before
// the first trial runs.
func (s *SessionStore) CreateSession(ctx context.Context, session *models.Session) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// AppendTrial writes one resolved trial. Fire-and-forget from the engine's
// point of view: the record is immutable once written, except for the
// cleaning verdict.
func (s *SessionStore) AppendTrial(ctx context.Context, trial *models.TrialRecord) error {
	return s.db.WithContext(ctx).Create(trial).Error
}

// UpdateTrialVerdict sets the cleaning pipeline's decision on a trial. The
// only mutation a trial ever sees.
func (s *SessionStore) UpdateTrialVerdict(ctx context.Context, trialID uint, excluded bool, reason *string) error {
	return s.db.WithContext(ctx).Model(&models.TrialRecord{}).
		Where("id = ?", trialID).
		Updates(map[string]any{
			"excluded_flag":    excluded,
			"exclusion_reason": reason,
		}).Error
}

// CompleteSession stamps the completion time.
func (s *SessionStore) CompleteSession(ctx context.Context, sessionID string, completedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("completed_at", completedAt).Error
}

// ListTrials returns the session's trial log in trial order.
func (s *SessionStore) ListTrials(ctx context.Context, sessionID string) ([]models.TrialRecord, error) {
	var trials []models.TrialRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("trial_number").
		Find(&trials).Error
	return trials, err
}

// GetSession loads a session row without its trials.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &session, nil
}
