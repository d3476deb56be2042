// Package timing owns the clock behind every reaction-time measurement:
// monotonic millisecond timestamps, inter-stimulus-interval sampling, and
// the device latency correction. Both timestamps of a trial come from the
// same Scheduler so their difference is meaningful.
package timing

import "math/rand"

// SampleISI draws a uniform random delay in [minMs, maxMs), independently
// per trial.
func SampleISI(rng *rand.Rand, minMs, maxMs float64) float64 {
	return minMs + rng.Float64()*(maxMs-minMs)
}

// CorrectRT subtracts the estimated device latency from a raw reaction
// time. A result below zero clamps to zero: a negative corrected time is
// not meaningful, and the trial stays recorded rather than being rejected.
func CorrectRT(rawMs, offsetMs float64) float64 {
	corrected := rawMs - offsetMs
	if corrected < 0 {
		return 0
	}
	return corrected
}

// Timer is a cancellable one-shot timer on a Scheduler's clock. C delivers
// the timestamp at which the timer fired.
type Timer interface {
	C() <-chan float64
	// Stop cancels the timer. Safe to call more than once.
	Stop()
}

// Scheduler is the engine's suspension surface. The real implementation
// runs on the wall monotonic clock with a frame ticker derived from the
// display refresh rate; tests substitute a virtual clock so trial timing is
// deterministic.
type Scheduler interface {
	// Now is the current time in milliseconds on this scheduler's
	// monotonic clock.
	Now() float64
	// After fires once after d milliseconds.
	After(dMs float64) Timer
	// NextFrame fires at the next display frame boundary. The delivered
	// timestamp is the authoritative stimulus onset time.
	NextFrame() Timer
}
