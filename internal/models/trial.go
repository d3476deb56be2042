package models

import "time"

// TrialRecord is one resolved trial. Timestamps are milliseconds on the
// session's monotonic clock, never wall time. ResponseTimestamp, RTRaw and
// RTCorrected are nil when the trial resolved without a response (a correct
// no-go inhibition). Accuracy is nil when the paradigm has no correctness
// notion (plain SRT).
//
// ExcludedFlag and ExclusionReason are written exactly once, by the cleaning
// pipeline at session completion; every other field is immutable after the
// record is created.
type TrialRecord struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	SessionID         string    `gorm:"type:uuid;index" json:"sessionId"`
	TrialNumber       int       `json:"trialNumber"`
	StimulusDetail    string    `json:"stimulusDetail"`
	CueTimestamp      float64   `json:"cueTimestamp"`
	ResponseTimestamp *float64  `json:"responseTimestamp"`
	RTRaw             *float64  `json:"rtRaw"`
	RTCorrected       *float64  `json:"rtCorrected"`
	IsPractice        bool      `json:"isPractice"`
	Accuracy          *bool     `json:"accuracy"`
	ExcludedFlag      bool      `json:"excludedFlag"`
	ExclusionReason   *string   `json:"exclusionReason"`
	CreatedAt         time.Time `json:"createdAt"`
}

// HasResponse reports whether the subject produced a response on this trial.
func (t TrialRecord) HasResponse() bool {
	return t.ResponseTimestamp != nil
}
