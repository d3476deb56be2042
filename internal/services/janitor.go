package services

import (
	"time"

	"go.uber.org/zap"

	"rtlab/internal/engine"
)

// maxSessionAge is how long a session may run before the janitor assumes
// the subject abandoned it. Even the longest protocol finishes well inside
// this.
const maxSessionAge = 30 * time.Minute

// Janitor aborts abandoned sessions so their engines do not sit blocked on
// the response wait forever.
type Janitor struct {
	log     *zap.Logger
	manager *engine.Manager
}

func NewJanitor(log *zap.Logger, manager *engine.Manager) *Janitor {
	return &Janitor{log: log, manager: manager}
}

// Start runs the janitor in a goroutine.
func (j *Janitor) Start() {
	j.log.Info("Starting session janitor...")
	go func() {
		// Ticker will fire on every minute.
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			<-ticker.C
			if n := j.manager.AbortStale(maxSessionAge); n > 0 {
				j.log.Info("Stale sessions aborted", zap.Int("count", n))
			}
		}
	}()
}
