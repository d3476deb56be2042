package timing

import (
	"math"
	"sync"
)

// VirtualScheduler is a deterministic Scheduler for tests. Time only moves
// when the test calls AdvanceToNextTimer, which blocks until the engine has
// registered at least one timer, then jumps the clock to the earliest due
// time and fires it. That handshake makes every engine suspension point an
// observable, orderable step.
type VirtualScheduler struct {
	mu            sync.Mutex
	cond          *sync.Cond
	nowMs         float64
	framePeriodMs float64
	pending       []*virtualTimer
}

// NewVirtualScheduler creates a virtual clock at t=0 with the given frame
// period.
func NewVirtualScheduler(framePeriodMs float64) *VirtualScheduler {
	s := &VirtualScheduler{framePeriodMs: framePeriodMs}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *VirtualScheduler) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowMs
}

func (s *VirtualScheduler) After(dMs float64) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.register(s.nowMs + dMs)
}

func (s *VirtualScheduler) NextFrame() Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := (math.Floor(s.nowMs/s.framePeriodMs) + 1) * s.framePeriodMs
	return s.register(next)
}

func (s *VirtualScheduler) register(dueMs float64) *virtualTimer {
	t := &virtualTimer{sched: s, dueMs: dueMs, c: make(chan float64, 1)}
	s.pending = append(s.pending, t)
	s.cond.Broadcast()
	return t
}

// AdvanceToNextTimer waits for a pending timer, advances the clock to the
// earliest one and fires it. Returns the new clock value.
func (s *VirtualScheduler) AdvanceToNextTimer() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 {
		s.cond.Wait()
	}
	earliest := 0
	for i, t := range s.pending {
		if t.dueMs < s.pending[earliest].dueMs {
			earliest = i
		}
	}
	t := s.pending[earliest]
	s.pending = append(s.pending[:earliest], s.pending[earliest+1:]...)
	if t.dueMs > s.nowMs {
		s.nowMs = t.dueMs
	}
	t.c <- s.nowMs
	return s.nowMs
}

// SetNow moves the clock forward without firing timers. Used by tests to
// shape response timestamps.
func (s *VirtualScheduler) SetNow(nowMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nowMs > s.nowMs {
		s.nowMs = nowMs
	}
}

// PendingTimers reports how many timers are armed. After a clean abort it
// must be zero.
func (s *VirtualScheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type virtualTimer struct {
	sched *VirtualScheduler
	dueMs float64
	c     chan float64
}

func (t *virtualTimer) C() <-chan float64 { return t.c }

func (t *virtualTimer) Stop() {
	s := t.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}
