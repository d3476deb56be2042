// Package engine runs the per-session trial protocol: instructions,
// practice, break, testing, completion. Each session is one goroutine whose
// only suspension points are the ISI timer, the next-frame wait, the
// response wait and the feedback delay, all selectable against abort.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"rtlab/internal/cleaning"
	"rtlab/internal/cue"
	"rtlab/internal/models"
	"rtlab/internal/stimulus"
	"rtlab/internal/timing"
)

// Phase is where a session currently stands. Transitions are linear; abort
// is terminal from anywhere.
type Phase string

const (
	PhaseInstructions Phase = "instructions"
	PhasePractice     Phase = "practice"
	PhaseBreak        Phase = "break"
	PhaseTesting      Phase = "testing"
	PhaseComplete     Phase = "complete"
	PhaseAborted      Phase = "aborted"
)

// Protocol timing constants, in milliseconds.
const (
	// inhibitTimeoutMs bounds the response wait on a no-go stimulus;
	// holding out this long is a correct inhibition.
	inhibitTimeoutMs = 1500.0

	feedbackDelayPracticeMs = 1500.0
	feedbackDelayTestMs     = 500.0

	// Practice feedback speed thresholds.
	feedbackTooFastMs = 100.0
	feedbackTooSlowMs = 1000.0

	audioCueFrequencyHz = 1000
)

// ResponseEvent is one subject input, as delivered by the trial stream.
// TimestampMs is on the engine's clock; when zero the engine stamps the
// event on receipt.
type ResponseEvent struct {
	TimestampMs    float64 `json:"timestamp"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
}

func (ev ResponseEvent) pointer() stimulus.Pointer {
	return stimulus.Pointer{
		X:              ev.X,
		Y:              ev.Y,
		ViewportWidth:  ev.ViewportWidth,
		ViewportHeight: ev.ViewportHeight,
	}
}

// Callbacks let the surrounding application observe the protocol. All run
// on the engine goroutine and must not block. Nil members are skipped.
type Callbacks struct {
	OnPhaseChange     func(Phase)
	OnStimulus        func(identity string, cueTimestampMs float64)
	OnStimulusHidden  func()
	OnFeedback        func(message string)
	OnTrialResolved   func(models.TrialRecord)
	OnSessionComplete func(session *models.Session, verdicts *cleaning.Result)
}

// Params wires one engine.
type Params struct {
	Log       *zap.Logger
	Store     Store
	Actuator  cue.Actuator
	Scheduler timing.Scheduler
	RNG       *rand.Rand
	Session   *models.Session
	Cleaning  cleaning.Options
}

// Engine owns the in-progress phase and trial state for exactly one
// session. Once a trial resolves, its record belongs to the store; the
// engine never revisits it.
type Engine struct {
	log   *zap.Logger
	store Store
	sched timing.Scheduler
	rng   *rand.Rand

	session      *models.Session
	gen          *stimulus.Generator
	cleaningOpts cleaning.Options

	mu        sync.Mutex
	phase     Phase
	actuator  cue.Actuator
	callbacks Callbacks

	responses chan ResponseEvent
	advance   chan struct{}
	abortCh   chan struct{}
	abortOnce sync.Once
	done      chan struct{}

	trialCount int
}

// New builds an engine for a created session. Run starts it.
func New(p Params) *Engine {
	e := &Engine{
		log:          p.Log,
		store:        p.Store,
		sched:        p.Scheduler,
		rng:          p.RNG,
		session:      p.Session,
		cleaningOpts: p.Cleaning,
		phase:        PhaseInstructions,
		actuator:     p.Actuator,
		responses:    make(chan ResponseEvent),
		advance:      make(chan struct{}),
		abortCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	e.gen = stimulus.NewGenerator(p.Session.Config.Paradigm, p.Session.Config.TotalTrials, p.RNG)
	p.Session.StimulusOrder = e.gen.Sequence()
	return e
}

// Session returns the session this engine runs.
func (e *Engine) Session() *models.Session { return e.session }

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Done closes when the engine goroutine has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// SetCallbacks attaches observers. Safe while the engine runs; the usual
// caller is the trial stream handler, which attaches after Run has started.
func (e *Engine) SetCallbacks(cb Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = cb
}

// SetActuator swaps the cue device, e.g. when a client stream attaches.
func (e *Engine) SetActuator(a cue.Actuator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actuator = a
}

// SubmitResponse delivers a subject input. Inputs arriving outside the
// response window are dropped; only the first qualifying event resolves a
// trial.
func (e *Engine) SubmitResponse(ev ResponseEvent) {
	select {
	case e.responses <- ev:
	default:
	}
}

// Advance confirms the instructions or break screen. Ignored in any other
// phase.
func (e *Engine) Advance() {
	select {
	case e.advance <- struct{}{}:
	default:
	}
}

// Abort terminates the session. Idempotent; pending timers are stopped
// synchronously by the engine goroutine, the in-flight trial is discarded,
// and the session is left uncompleted. Already-persisted trials stay.
func (e *Engine) Abort() {
	e.abortOnce.Do(func() { close(e.abortCh) })
}

// Run drives the protocol to completion or abort. Blocks; callers start it
// on its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	e.setPhase(PhaseInstructions)
	if !e.waitAdvance() {
		e.finishAborted()
		return
	}

	if e.session.Config.PracticeTrials > 0 {
		e.setPhase(PhasePractice)
		if !e.runBlock(ctx, true, e.session.Config.PracticeTrials) {
			e.finishAborted()
			return
		}
	}

	e.setPhase(PhaseBreak)
	if !e.waitAdvance() {
		e.finishAborted()
		return
	}

	e.setPhase(PhaseTesting)
	if !e.runBlock(ctx, false, e.session.Config.TotalTrials) {
		e.finishAborted()
		return
	}

	e.complete(ctx)
}

// runBlock runs the inner trial cycle until the block's own counter
// reaches its target. Practice and testing share the cycle; only the flag
// and the counter differ.
func (e *Engine) runBlock(ctx context.Context, isPractice bool, target int) bool {
	for completed := 0; completed < target; completed++ {
		if !e.runTrial(ctx, isPractice) {
			return false
		}
	}
	return true
}

func (e *Engine) runTrial(ctx context.Context, isPractice bool) bool {
	cfg := e.session.Config

	// 1. Inter-stimulus wait.
	isi := timing.SampleISI(e.rng, cfg.ISIMinMs, cfg.ISIMaxMs)
	wait := e.sched.After(isi)
	select {
	case <-wait.C():
	case <-e.abortCh:
		wait.Stop()
		return false
	}

	// 2. Next stimulus identity.
	identity := e.gen.Next(isPractice)

	// 3. Onset on the next frame. The frame timestamp is the RT
	// zero-point: it is the rendered onset, not the moment scheduling
	// began.
	frame := e.sched.NextFrame()
	var cueTs float64
	select {
	case cueTs = <-frame.C():
	case <-e.abortCh:
		frame.Stop()
		return false
	}
	e.fireCue(identity, cueTs)

	// 4. Await the first qualifying input. Only a no-go stimulus bounds
	// the wait: surviving the inhibition window is itself the answer.
	var inhibit timing.Timer
	var inhibitC <-chan float64
	if identity == stimulus.IdentityNoGo {
		inhibit = e.sched.After(inhibitTimeoutMs)
		inhibitC = inhibit.C()
	}

	var resp *ResponseEvent
	select {
	case ev := <-e.responses:
		resp = &ev
	case <-inhibitC:
	case <-e.abortCh:
		if inhibit != nil {
			inhibit.Stop()
		}
		e.hideCue()
		return false
	}
	if inhibit != nil {
		inhibit.Stop()
	}

	// 5. Resolve.
	e.hideCue()
	record := e.resolve(identity, cueTs, resp, isPractice)
	if err := e.store.AppendTrial(ctx, &record); err != nil {
		e.log.Error("Failed to persist trial, aborting session",
			zap.String("session_id", e.session.ID),
			zap.Int("trial", record.TrialNumber),
			zap.Error(err))
		e.Abort()
		return false
	}
	e.emitTrial(record)

	// 6. Feedback. Practice shows a message; both blocks hold the
	// inter-trial screen for their fixed delay.
	if isPractice {
		e.emitFeedback(feedbackMessage(record))
	}
	delay := feedbackDelayTestMs
	if isPractice {
		delay = feedbackDelayPracticeMs
	}
	hold := e.sched.After(delay)
	select {
	case <-hold.C():
	case <-e.abortCh:
		hold.Stop()
		return false
	}

	return true
}

// resolve builds the trial record from the two timestamps. A nil response
// is a no-go inhibition timeout: no RT, accuracy true.
func (e *Engine) resolve(identity string, cueTs float64, resp *ResponseEvent, isPractice bool) models.TrialRecord {
	e.trialCount++
	record := models.TrialRecord{
		SessionID:      e.session.ID,
		TrialNumber:    e.trialCount,
		StimulusDetail: identity,
		CueTimestamp:   cueTs,
		IsPractice:     isPractice,
	}

	if resp == nil {
		correct := true
		record.Accuracy = &correct
		return record
	}

	ts := resp.TimestampMs
	if ts == 0 {
		ts = e.sched.Now()
	}
	raw := ts - cueTs
	corrected := timing.CorrectRT(raw, e.session.DeviceLatencyOffsetMs)
	if raw < e.session.DeviceLatencyOffsetMs {
		// Non-fatal timing anomaly: the trial stays, clamped, and is
		// screened by the cleaning pipeline like any other.
		e.log.Warn("Corrected RT clamped to zero",
			zap.String("session_id", e.session.ID),
			zap.Float64("rt_raw", raw),
			zap.Float64("offset_ms", e.session.DeviceLatencyOffsetMs))
	}
	record.ResponseTimestamp = &ts
	record.RTRaw = &raw
	record.RTCorrected = &corrected
	record.Accuracy = stimulus.Classify(e.session.Config.Paradigm, identity, resp.pointer())
	return record
}

// complete stamps the session, runs the cleaning pipeline once over the
// persisted batch and writes the verdicts back.
func (e *Engine) complete(ctx context.Context) {
	completedAt := time.Now().UTC()
	e.session.CompletedAt = &completedAt
	if err := e.store.CompleteSession(ctx, e.session.ID, completedAt); err != nil {
		e.log.Error("Failed to complete session", zap.String("session_id", e.session.ID), zap.Error(err))
		e.finishAborted()
		return
	}

	trials, err := e.store.ListTrials(ctx, e.session.ID)
	if err != nil {
		e.log.Error("Failed to load trials for cleaning", zap.String("session_id", e.session.ID), zap.Error(err))
		e.finishAborted()
		return
	}

	opts := e.cleaningOpts
	opts.Method = e.session.Config.OutlierMethod
	result := cleaning.Clean(trials, opts)
	if result.InsufficientData {
		e.log.Warn("Too few trials for the statistical stage, leaving remainder unflagged",
			zap.String("session_id", e.session.ID))
	}
	for _, v := range result.Verdicts {
		if !v.Excluded {
			continue
		}
		reason := v.Reason
		if err := e.store.UpdateTrialVerdict(ctx, v.TrialID, true, &reason); err != nil {
			e.log.Error("Failed to flag trial", zap.Uint("trial_id", v.TrialID), zap.Error(err))
		}
	}
	e.log.Info("Session complete",
		zap.String("session_id", e.session.ID),
		zap.Int("trials", e.trialCount),
		zap.Int("excluded", result.Excluded))

	e.setPhase(PhaseComplete)
	e.emitComplete(&result)
}

func (e *Engine) finishAborted() {
	e.setPhase(PhaseAborted)
	e.log.Info("Session aborted", zap.String("session_id", e.session.ID))
}

func (e *Engine) waitAdvance() bool {
	select {
	case <-e.advance:
		return true
	case <-e.abortCh:
		return false
	}
}

// feedbackMessage derives the practice feedback line from speed and
// accuracy.
func feedbackMessage(t models.TrialRecord) string {
	if t.RTCorrected != nil {
		if *t.RTCorrected < feedbackTooFastMs {
			return "Too fast"
		}
		if *t.RTCorrected > feedbackTooSlowMs {
			return "Too slow"
		}
	}
	if t.Accuracy != nil && !*t.Accuracy {
		return "Incorrect"
	}
	return "Good"
}

func (e *Engine) fireCue(identity string, cueTs float64) {
	e.mu.Lock()
	act := e.actuator
	cb := e.callbacks.OnStimulus
	e.mu.Unlock()

	switch e.session.Config.StimulusModality {
	case models.ModalityVisual:
		act.ShowVisualCue(identity)
	case models.ModalityAuditory:
		act.PlayAudioCue(audioCueFrequencyHz)
	case models.ModalityTactile:
		act.TriggerHapticPulse()
	}
	if cb != nil {
		cb(identity, cueTs)
	}
}

func (e *Engine) hideCue() {
	e.mu.Lock()
	act := e.actuator
	cb := e.callbacks.OnStimulusHidden
	e.mu.Unlock()

	if e.session.Config.StimulusModality == models.ModalityVisual {
		act.HideVisualCue()
	}
	if cb != nil {
		cb()
	}
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	cb := e.callbacks.OnPhaseChange
	e.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (e *Engine) emitTrial(t models.TrialRecord) {
	e.mu.Lock()
	cb := e.callbacks.OnTrialResolved
	e.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

func (e *Engine) emitFeedback(msg string) {
	e.mu.Lock()
	cb := e.callbacks.OnFeedback
	e.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (e *Engine) emitComplete(result *cleaning.Result) {
	e.mu.Lock()
	cb := e.callbacks.OnSessionComplete
	e.mu.Unlock()
	if cb != nil {
		cb(e.session, result)
	}
}
