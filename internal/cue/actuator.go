// Package cue fires stimulus cues on whatever device channel a session is
// configured for. Every call is fire-and-forget: the engine's timestamp
// comes from the frame callback, never from cue delivery.
package cue

import "go.uber.org/zap"

// Actuator is the device surface the engine drives at stimulus onset and
// resolution.
type Actuator interface {
	ShowVisualCue(identity string)
	HideVisualCue()
	PlayAudioCue(frequencyHz int)
	TriggerHapticPulse()
}

// LogActuator writes cues to the log. Used for headless sessions and as the
// fallback when no client channel is attached.
type LogActuator struct {
	log *zap.Logger
}

func NewLogActuator(log *zap.Logger) *LogActuator {
	return &LogActuator{log: log}
}

func (a *LogActuator) ShowVisualCue(identity string) {
	a.log.Debug("Visual cue shown", zap.String("identity", identity))
}

func (a *LogActuator) HideVisualCue() {
	a.log.Debug("Visual cue hidden")
}

func (a *LogActuator) PlayAudioCue(frequencyHz int) {
	a.log.Debug("Audio cue played", zap.Int("frequency_hz", frequencyHz))
}

func (a *LogActuator) TriggerHapticPulse() {
	a.log.Debug("Haptic pulse triggered")
}
