package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"rtlab/internal/models"
)

// ErrSessionNotFound is returned by the memory store for unknown sessions.
var ErrSessionNotFound = errors.New("repository: session not found")

// MemoryStore keeps sessions and trials in process memory. It backs engine
// tests and broker-less headless runs with the same read-your-writes
// guarantees as the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	trials   map[string][]models.TrialRecord
	nextID   uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		trials:   map[string][]models.TrialRecord{},
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemoryStore) AppendTrial(_ context.Context, trial *models.TrialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[trial.SessionID]; !ok {
		return ErrSessionNotFound
	}
	s.nextID++
	trial.ID = s.nextID
	s.trials[trial.SessionID] = append(s.trials[trial.SessionID], *trial)
	return nil
}

func (s *MemoryStore) UpdateTrialVerdict(_ context.Context, trialID uint, excluded bool, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, trials := range s.trials {
		for i := range trials {
			if trials[i].ID == trialID {
				s.trials[sessionID][i].ExcludedFlag = excluded
				s.trials[sessionID][i].ExclusionReason = reason
				return nil
			}
		}
	}
	return ErrSessionNotFound
}

func (s *MemoryStore) CompleteSession(_ context.Context, sessionID string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.CompletedAt = &completedAt
	return nil
}

func (s *MemoryStore) ListTrials(_ context.Context, sessionID string) ([]models.TrialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]models.TrialRecord, len(s.trials[sessionID]))
	copy(out, s.trials[sessionID])
	return out, nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}
