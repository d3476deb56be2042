package cue

// Multi fans each cue out to several channels, e.g. the subject's browser
// stream plus a bench haptic device.
type Multi struct {
	actuators []Actuator
}

func NewMulti(actuators ...Actuator) *Multi {
	return &Multi{actuators: actuators}
}

func (m *Multi) ShowVisualCue(identity string) {
	for _, a := range m.actuators {
		a.ShowVisualCue(identity)
	}
}

func (m *Multi) HideVisualCue() {
	for _, a := range m.actuators {
		a.HideVisualCue()
	}
}

func (m *Multi) PlayAudioCue(frequencyHz int) {
	for _, a := range m.actuators {
		a.PlayAudioCue(frequencyHz)
	}
}

func (m *Multi) TriggerHapticPulse() {
	for _, a := range m.actuators {
		a.TriggerHapticPulse()
	}
}
