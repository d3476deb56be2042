package timing

import (
	"math"
	"sync"
	"time"
)

// RealScheduler runs on the process monotonic clock. Frame boundaries are
// modeled as multiples of the display frame period since the scheduler was
// created; the true compositor is out of reach from the server, so this is
// the same half-frame-period estimate the latency offset is built on.
type RealScheduler struct {
	start         time.Time
	framePeriodMs float64
}

// NewRealScheduler creates a scheduler whose frame ticker runs at
// refreshRateHz.
func NewRealScheduler(refreshRateHz float64) *RealScheduler {
	if refreshRateHz <= 0 {
		refreshRateHz = 60
	}
	return &RealScheduler{
		start:         time.Now(),
		framePeriodMs: 1000.0 / refreshRateHz,
	}
}

func (s *RealScheduler) Now() float64 {
	return float64(time.Since(s.start).Microseconds()) / 1000.0
}

func (s *RealScheduler) After(dMs float64) Timer {
	if dMs < 0 {
		dMs = 0
	}
	return s.fireAt(s.Now() + dMs)
}

func (s *RealScheduler) NextFrame() Timer {
	now := s.Now()
	next := (math.Floor(now/s.framePeriodMs) + 1) * s.framePeriodMs
	return s.fireAt(next)
}

func (s *RealScheduler) fireAt(atMs float64) Timer {
	t := &realTimer{c: make(chan float64, 1)}
	d := time.Duration((atMs - s.Now()) * float64(time.Millisecond))
	if d < 0 {
		d = 0
	}
	t.timer = time.AfterFunc(d, func() {
		t.c <- s.Now()
	})
	return t
}

type realTimer struct {
	c     chan float64
	timer *time.Timer
	once  sync.Once
}

func (t *realTimer) C() <-chan float64 { return t.c }

func (t *realTimer) Stop() {
	t.once.Do(func() { t.timer.Stop() })
}
