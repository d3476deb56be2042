package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rtlab/internal/cleaning"
	"rtlab/internal/models"
	"rtlab/internal/repository"
	"rtlab/internal/stimulus"
	"rtlab/internal/timing"
)

const testTimeout = 5 * time.Second

type stimEvent struct {
	identity string
	cueTs    float64
}

// harness collects engine callbacks on buffered channels so the test can
// observe the protocol step by step.
type harness struct {
	store    *repository.MemoryStore
	sched    *timing.VirtualScheduler
	eng      *Engine
	phases   chan Phase
	stimuli  chan stimEvent
	feedback chan string
	trials   chan models.TrialRecord
	complete chan *cleaning.Result
}

func newHarness(t *testing.T, cfg models.TestConfiguration, offsetMs float64, seed int64) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemoryStore(),
		sched:    timing.NewVirtualScheduler(10),
		phases:   make(chan Phase, 16),
		stimuli:  make(chan stimEvent, 16),
		feedback: make(chan string, 16),
		trials:   make(chan models.TrialRecord, 64),
		complete: make(chan *cleaning.Result, 1),
	}

	session := &models.Session{
		ID:                    uuid.NewString(),
		SubjectID:             uuid.NewString(),
		Config:                cfg,
		DeviceLatencyOffsetMs: offsetMs,
		CreatedAt:             time.Now().UTC(),
	}
	require.NoError(t, h.store.CreateSession(context.Background(), session))

	h.eng = New(Params{
		Log:       zap.NewNop(),
		Store:     h.store,
		Actuator:  &fakeActuator{},
		Scheduler: h.sched,
		RNG:       rand.New(rand.NewSource(seed)),
		Session:   session,
		Cleaning:  cleaning.DefaultOptions(cfg.Paradigm, cfg.OutlierMethod),
	})
	h.eng.SetCallbacks(Callbacks{
		OnPhaseChange:     func(p Phase) { h.phases <- p },
		OnStimulus:        func(identity string, cueTs float64) { h.stimuli <- stimEvent{identity, cueTs} },
		OnFeedback:        func(msg string) { h.feedback <- msg },
		OnTrialResolved:   func(rec models.TrialRecord) { h.trials <- rec },
		OnSessionComplete: func(_ *models.Session, result *cleaning.Result) { h.complete <- result },
	})
	go h.eng.Run(context.Background())
	return h
}

var phaseRank = map[Phase]int{
	PhaseInstructions: 0,
	PhasePractice:     1,
	PhaseBreak:        2,
	PhaseTesting:      3,
	PhaseComplete:     4,
}

// advanceTo keeps poking the advance channel until the engine reaches at
// least the wanted phase. Advance is a dropped-if-not-listening send, so
// one poke is not enough when the goroutine has not parked yet; with no
// practice block two confirm screens are adjacent and a spare poke can
// carry the engine one phase further, which is why this checks rank rather
// than equality.
func (h *harness) advanceTo(t *testing.T, want Phase) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if phaseRank[h.eng.Phase()] >= phaseRank[want] {
			return
		}
		h.eng.Advance()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("engine never reached phase %s, still in %s", want, h.eng.Phase())
}

func (h *harness) waitStimulus(t *testing.T) stimEvent {
	t.Helper()
	select {
	case ev := <-h.stimuli:
		return ev
	case <-time.After(testTimeout):
		t.Fatal("no stimulus fired")
		return stimEvent{}
	}
}

// respond keeps submitting until the trial resolves. Like Advance, a
// submission outside the response window is dropped.
func (h *harness) respond(t *testing.T, ev ResponseEvent) models.TrialRecord {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		h.eng.SubmitResponse(ev)
		select {
		case rec := <-h.trials:
			return rec
		case <-time.After(time.Millisecond):
		}
	}
	t.Fatal("trial never resolved")
	return models.TrialRecord{}
}

func (h *harness) waitTrial(t *testing.T) models.TrialRecord {
	t.Helper()
	select {
	case rec := <-h.trials:
		return rec
	case <-time.After(testTimeout):
		t.Fatal("trial never resolved")
		return models.TrialRecord{}
	}
}

func (h *harness) waitFeedback(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-h.feedback:
		return msg
	case <-time.After(testTimeout):
		t.Fatal("no feedback emitted")
		return ""
	}
}

func (h *harness) waitComplete(t *testing.T) *cleaning.Result {
	t.Helper()
	select {
	case res := <-h.complete:
		return res
	case <-time.After(testTimeout):
		t.Fatal("session never completed")
		return nil
	}
}

func (h *harness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.eng.Done():
	case <-time.After(testTimeout):
		t.Fatal("engine goroutine never exited")
	}
}

// runTrialTo drives one trial up to the response window: ISI fires, frame
// fires, stimulus appears.
func (h *harness) runTrialTo(t *testing.T) stimEvent {
	t.Helper()
	h.sched.AdvanceToNextTimer() // ISI
	h.sched.AdvanceToNextTimer() // frame
	return h.waitStimulus(t)
}

type fakeActuator struct{}

func (fakeActuator) ShowVisualCue(string) {}
func (fakeActuator) HideVisualCue()       {}
func (fakeActuator) PlayAudioCue(int)     {}
func (fakeActuator) TriggerHapticPulse()  {}

func srtConfig(total, practice int) models.TestConfiguration {
	return models.TestConfiguration{
		Paradigm:         models.ParadigmSRT,
		StimulusModality: models.ModalityVisual,
		TotalTrials:      total,
		PracticeTrials:   practice,
		ISIMinMs:         500,
		ISIMaxMs:         500,
		OutlierMethod:    models.MethodStandardDeviation,
	}
}

func TestEngineRunsFullSRTSession(t *testing.T) {
	h := newHarness(t, srtConfig(2, 1), 12.5, 1)

	assert.Equal(t, PhaseInstructions, h.eng.Phase())
	h.advanceTo(t, PhasePractice)

	// Practice trial. ISI fires at 500, the cue lands on the next 10ms
	// frame boundary at 510.
	stim := h.runTrialTo(t)
	assert.Equal(t, stimulus.IdentityTarget, stim.identity)
	assert.Equal(t, 510.0, stim.cueTs)

	rec := h.respond(t, ResponseEvent{TimestampMs: stim.cueTs + 350})
	assert.Equal(t, 1, rec.TrialNumber)
	assert.True(t, rec.IsPractice)
	require.NotNil(t, rec.RTRaw)
	assert.InDelta(t, 350, *rec.RTRaw, 1e-9)
	require.NotNil(t, rec.RTCorrected)
	assert.InDelta(t, 337.5, *rec.RTCorrected, 1e-9)
	assert.Nil(t, rec.Accuracy)
	assert.Equal(t, "Good", h.waitFeedback(t))
	h.sched.AdvanceToNextTimer() // feedback hold

	h.advanceTo(t, PhaseTesting)

	// First test trial, with continuous numbering from practice.
	stim = h.runTrialTo(t)
	rec = h.respond(t, ResponseEvent{TimestampMs: stim.cueTs + 350})
	assert.Equal(t, 2, rec.TrialNumber)
	assert.False(t, rec.IsPractice)
	assert.InDelta(t, 337.5, *rec.RTCorrected, 1e-9)
	h.sched.AdvanceToNextTimer()

	// Second test trial: artificially faster than the latency offset, so
	// the corrected RT clamps and the cleaning pipeline flags it.
	stim = h.runTrialTo(t)
	rec = h.respond(t, ResponseEvent{TimestampMs: stim.cueTs + 5})
	assert.Equal(t, 3, rec.TrialNumber)
	assert.InDelta(t, 5, *rec.RTRaw, 1e-9)
	assert.InDelta(t, 0, *rec.RTCorrected, 1e-9)
	h.sched.AdvanceToNextTimer()

	result := h.waitComplete(t)
	assert.Equal(t, PhaseComplete, h.eng.Phase())
	assert.Equal(t, 1, result.Excluded)
	h.waitDone(t)

	// Verdicts and the completion stamp are persisted.
	session, err := h.store.GetSession(context.Background(), h.eng.Session().ID)
	require.NoError(t, err)
	assert.NotNil(t, session.CompletedAt)

	trials, err := h.store.ListTrials(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, trials, 3)
	assert.False(t, trials[1].ExcludedFlag)
	assert.True(t, trials[2].ExcludedFlag)
	require.NotNil(t, trials[2].ExclusionReason)
	assert.Equal(t, "Below minimum response time (100 ms)", *trials[2].ExclusionReason)

	// No practice feedback in the test block, and the clock is drained.
	assert.Empty(t, h.feedback)
	assert.Equal(t, 0, h.sched.PendingTimers())
}

func TestEngineSkipsPracticeWhenZero(t *testing.T) {
	h := newHarness(t, srtConfig(1, 0), 0, 2)

	h.advanceTo(t, PhaseBreak)
	h.advanceTo(t, PhaseTesting)

	stim := h.runTrialTo(t)
	rec := h.respond(t, ResponseEvent{TimestampMs: stim.cueTs + 300})
	assert.Equal(t, 1, rec.TrialNumber)
	assert.False(t, rec.IsPractice)
	h.sched.AdvanceToNextTimer()

	h.waitComplete(t)
	h.waitDone(t)
}

func TestEngineGoNoGoInhibition(t *testing.T) {
	cfg := srtConfig(2, 0)
	cfg.Paradigm = models.ParadigmGoNoGo
	h := newHarness(t, cfg, 12.5, 3)

	// Two main trials split one go, one no-go; the persisted order tells
	// the test which comes first.
	order := h.eng.Session().StimulusOrder
	require.Len(t, order, 2)
	require.ElementsMatch(t, []string{stimulus.IdentityGo, stimulus.IdentityNoGo}, []string(order))

	h.advanceTo(t, PhaseBreak)
	h.advanceTo(t, PhaseTesting)

	for i := 0; i < 2; i++ {
		stim := h.runTrialTo(t)
		assert.Equal(t, order[i], stim.identity)

		var rec models.TrialRecord
		if stim.identity == stimulus.IdentityGo {
			rec = h.respond(t, ResponseEvent{TimestampMs: stim.cueTs + 400})
			require.NotNil(t, rec.RTRaw)
			require.NotNil(t, rec.Accuracy)
			assert.True(t, *rec.Accuracy)
		} else {
			// Hold out: the inhibition timeout resolves the trial with
			// no RT and a correct verdict.
			h.sched.AdvanceToNextTimer()
			rec = h.waitTrial(t)
			assert.Nil(t, rec.RTRaw)
			assert.Nil(t, rec.ResponseTimestamp)
			require.NotNil(t, rec.Accuracy)
			assert.True(t, *rec.Accuracy)
		}
		h.sched.AdvanceToNextTimer() // feedback hold
	}

	h.waitComplete(t)
	h.waitDone(t)
}

func TestEngineGoNoGoCommissionError(t *testing.T) {
	cfg := srtConfig(3, 0)
	cfg.Paradigm = models.ParadigmGoNoGo
	h := newHarness(t, cfg, 0, 4)

	order := h.eng.Session().StimulusOrder
	h.advanceTo(t, PhaseBreak)
	h.advanceTo(t, PhaseTesting)

	for i := range order {
		stim := h.runTrialTo(t)
		// Press on everything; a press on no-go must score incorrect.
		rec := h.respond(t, ResponseEvent{TimestampMs: stim.cueTs + 300})
		require.NotNil(t, rec.Accuracy)
		assert.Equal(t, stim.identity == stimulus.IdentityGo, *rec.Accuracy, "trial %d", i+1)
		h.sched.AdvanceToNextTimer()
	}

	h.waitComplete(t)
	h.waitDone(t)
}

func TestEngineAbortDuringISI(t *testing.T) {
	h := newHarness(t, srtConfig(3, 0), 0, 5)

	h.advanceTo(t, PhaseBreak)
	h.advanceTo(t, PhaseTesting)

	// Wait for the engine to park on the ISI timer, then abort.
	deadline := time.Now().Add(testTimeout)
	for h.sched.PendingTimers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, h.sched.PendingTimers())

	h.eng.Abort()
	h.waitDone(t)

	assert.Equal(t, PhaseAborted, h.eng.Phase())
	// The in-flight trial left nothing behind, and its timer was stopped.
	trials, err := h.store.ListTrials(context.Background(), h.eng.Session().ID)
	require.NoError(t, err)
	assert.Empty(t, trials)
	assert.Equal(t, 0, h.sched.PendingTimers())

	session, err := h.store.GetSession(context.Background(), h.eng.Session().ID)
	require.NoError(t, err)
	assert.Nil(t, session.CompletedAt)
}

func TestEngineAbortDuringResponseWaitKeepsEarlierTrials(t *testing.T) {
	h := newHarness(t, srtConfig(3, 0), 0, 6)

	h.advanceTo(t, PhaseBreak)
	h.advanceTo(t, PhaseTesting)

	stim := h.runTrialTo(t)
	h.respond(t, ResponseEvent{TimestampMs: stim.cueTs + 300})
	h.sched.AdvanceToNextTimer()

	// Second trial reaches the response window, then the session dies.
	h.runTrialTo(t)
	h.eng.Abort()
	h.waitDone(t)

	assert.Equal(t, PhaseAborted, h.eng.Phase())
	trials, err := h.store.ListTrials(context.Background(), h.eng.Session().ID)
	require.NoError(t, err)
	assert.Len(t, trials, 1)
	assert.Equal(t, 0, h.sched.PendingTimers())
}

func TestEngineAbortIsIdempotent(t *testing.T) {
	h := newHarness(t, srtConfig(1, 0), 0, 7)
	h.eng.Abort()
	h.eng.Abort()
	h.waitDone(t)
	assert.Equal(t, PhaseAborted, h.eng.Phase())
}

func TestEngineStampsUnstampedResponses(t *testing.T) {
	h := newHarness(t, srtConfig(1, 0), 0, 8)

	h.advanceTo(t, PhaseBreak)
	h.advanceTo(t, PhaseTesting)

	stim := h.runTrialTo(t)
	// Move the virtual clock past the cue, then submit an event with no
	// timestamp; the engine stamps it on receipt.
	h.sched.SetNow(stim.cueTs + 280)
	rec := h.respond(t, ResponseEvent{})
	require.NotNil(t, rec.RTRaw)
	assert.InDelta(t, 280, *rec.RTRaw, 1e-9)

	h.sched.AdvanceToNextTimer()
	h.waitComplete(t)
	h.waitDone(t)
}

func TestFeedbackMessage(t *testing.T) {
	rt := func(v float64) *float64 { return &v }
	yes, no := true, false

	tests := []struct {
		name   string
		record models.TrialRecord
		want   string
	}{
		{name: "fast anticipatory press", record: models.TrialRecord{RTCorrected: rt(80)}, want: "Too fast"},
		{name: "lapsed response", record: models.TrialRecord{RTCorrected: rt(1200)}, want: "Too slow"},
		{name: "wrong choice", record: models.TrialRecord{RTCorrected: rt(400), Accuracy: &no}, want: "Incorrect"},
		{name: "good trial", record: models.TrialRecord{RTCorrected: rt(400), Accuracy: &yes}, want: "Good"},
		{name: "good srt trial without accuracy", record: models.TrialRecord{RTCorrected: rt(400)}, want: "Good"},
		{name: "correct inhibition", record: models.TrialRecord{Accuracy: &yes}, want: "Good"},
		{name: "speed outranks accuracy", record: models.TrialRecord{RTCorrected: rt(80), Accuracy: &no}, want: "Too fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, feedbackMessage(tt.record))
		})
	}
}
