package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rtlab/internal/cleaning"
	"rtlab/internal/cue"
	"rtlab/internal/models"
	"rtlab/internal/timing"
)

// ErrNoActiveSession is returned when a trial-level call arrives for a
// session that is not in progress. Nothing is written in that case.
var ErrNoActiveSession = errors.New("engine: no active session")

// SchedulerFactory builds the scheduler for a new session from its display
// refresh rate. Production injects the real clock; tests a virtual one.
type SchedulerFactory func(refreshRateHz float64) timing.Scheduler

// CleaningFactory builds the pipeline options for a session. Production
// layers the server configuration over the paradigm-aware defaults.
type CleaningFactory func(paradigm models.Paradigm, method models.OutlierMethod) cleaning.Options

// Manager is the registry of running engines, one per active session. It
// is the only piece of the engine layer handlers talk to.
type Manager struct {
	log         *zap.Logger
	store       Store
	actuator    cue.Actuator
	newSched    SchedulerFactory
	calibration models.CalibrationData
	cleaningFor CleaningFactory

	mu     sync.Mutex
	active map[string]*Engine
}

// NewManager wires the manager. calibration supplies the device rates used
// when a session does not bring its own; cleaningFor builds each session's
// pipeline options (nil falls back to the package defaults).
func NewManager(log *zap.Logger, store Store, actuator cue.Actuator, newSched SchedulerFactory,
	calibration models.CalibrationData, cleaningFor CleaningFactory) *Manager {
	if cleaningFor == nil {
		cleaningFor = cleaning.DefaultOptions
	}
	return &Manager{
		log:         log,
		store:       store,
		actuator:    actuator,
		newSched:    newSched,
		calibration: calibration,
		cleaningFor: cleaningFor,
		active:      map[string]*Engine{},
	}
}

// StartSession validates the configuration, persists the session row and
// starts the engine goroutine. A ConfigurationError fails fast with
// nothing persisted.
func (m *Manager) StartSession(ctx context.Context, cfg models.TestConfiguration,
	calibration *models.CalibrationData, subjectID string) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	calib := m.calibration
	if calibration != nil {
		calib = *calibration
	}

	session := &models.Session{
		ID:                    uuid.NewString(),
		SubjectID:             subjectID,
		Config:                cfg,
		DeviceLatencyOffsetMs: calib.OffsetMs(),
		CreatedAt:             time.Now().UTC(),
	}

	eng := New(Params{
		Log:       m.log,
		Store:     m.store,
		Actuator:  m.actuator,
		Scheduler: m.newSched(calib.RefreshRateHz),
		RNG:       rand.New(rand.NewSource(time.Now().UnixNano())),
		Session:   session,
		Cleaning:  m.cleaningFor(cfg.Paradigm, cfg.OutlierMethod),
	})

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active[session.ID] = eng
	m.mu.Unlock()

	go func() {
		eng.Run(context.WithoutCancel(ctx))
		m.mu.Lock()
		delete(m.active, session.ID)
		m.mu.Unlock()
	}()

	m.log.Info("Session started",
		zap.String("session_id", session.ID),
		zap.String("paradigm", string(cfg.Paradigm)),
		zap.Float64("latency_offset_ms", session.DeviceLatencyOffsetMs))
	return eng, nil
}

// Get returns the running engine for a session.
func (m *Manager) Get(sessionID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eng, ok := m.active[sessionID]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return eng, nil
}

// Active reports whether the session still has an engine running. The
// cleaning endpoint refuses to run against an active session.
func (m *Manager) Active(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[sessionID]
	return ok
}

// AbortSession aborts a running session. Aborting an already-finished
// session is not an error; abort is idempotent end to end.
func (m *Manager) AbortSession(sessionID string) error {
	eng, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	eng.Abort()
	return nil
}

// AbortStale aborts sessions that have been running longer than maxAge.
// A subject who walked away mid-test leaves an engine blocked on the
// response wait forever otherwise. Returns the number aborted.
func (m *Manager) AbortStale(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)
	m.mu.Lock()
	var stale []*Engine
	for _, eng := range m.active {
		if eng.Session().CreatedAt.Before(cutoff) {
			stale = append(stale, eng)
		}
	}
	m.mu.Unlock()

	for _, eng := range stale {
		m.log.Warn("Aborting stale session",
			zap.String("session_id", eng.Session().ID),
			zap.Time("created_at", eng.Session().CreatedAt))
		eng.Abort()
	}
	return len(stale)
}

// Shutdown aborts every active session, for server stop.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.active))
	for _, eng := range m.active {
		engines = append(engines, eng)
	}
	m.mu.Unlock()

	for _, eng := range engines {
		eng.Abort()
		<-eng.Done()
	}
}
