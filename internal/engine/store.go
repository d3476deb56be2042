package engine

import (
	"context"
	"time"

	"rtlab/internal/models"
)

// Store is the persistence collaborator. The engine only needs
// at-least-once durability per call and read-your-writes within a session;
// it never assumes a storage technology. Failures come back to the engine
// untouched; retry policy, if any, belongs to the implementation.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	AppendTrial(ctx context.Context, trial *models.TrialRecord) error
	UpdateTrialVerdict(ctx context.Context, trialID uint, excluded bool, reason *string) error
	CompleteSession(ctx context.Context, sessionID string, completedAt time.Time) error
	ListTrials(ctx context.Context, sessionID string) ([]models.TrialRecord, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}
