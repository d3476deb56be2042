package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Paradigm identifies which of the four fixed test protocols a session runs.
type Paradigm string

const (
	ParadigmSRT    Paradigm = "srt"
	ParadigmCRT2   Paradigm = "crt_2"
	ParadigmCRT4   Paradigm = "crt_4"
	ParadigmGoNoGo Paradigm = "go_no_go"
)

// Modality selects which cue channel fires at stimulus onset.
type Modality string

const (
	ModalityVisual   Modality = "visual"
	ModalityAuditory Modality = "auditory"
	ModalityTactile  Modality = "tactile"
)

// OutlierMethod selects the statistical stage of the cleaning pipeline.
type OutlierMethod string

const (
	MethodStandardDeviation OutlierMethod = "standard_deviation"
	MethodMAD               OutlierMethod = "mad"
	MethodPercentageTrim    OutlierMethod = "percentage_trim"
	MethodIQR               OutlierMethod = "iqr"
)

// ConfigurationError reports an invalid test configuration. Nothing is
// persisted when one is returned.
type ConfigurationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// TestConfiguration describes one test session. Immutable once the session
// row is created.
type TestConfiguration struct {
	Paradigm         Paradigm      `json:"paradigm"`
	StimulusModality Modality      `json:"stimulusModality"`
	TotalTrials      int           `json:"totalTrials"`
	PracticeTrials   int           `json:"practiceTrials"`
	ISIMinMs         float64       `json:"isiMin"`
	ISIMaxMs         float64       `json:"isiMax"`
	OutlierMethod    OutlierMethod `json:"outlierMethod"`
}

// Validate checks the configuration before a session starts.
func (c TestConfiguration) Validate() error {
	switch c.Paradigm {
	case ParadigmSRT, ParadigmCRT2, ParadigmCRT4, ParadigmGoNoGo:
	default:
		return &ConfigurationError{Field: "paradigm", Message: fmt.Sprintf("unknown paradigm %q", c.Paradigm)}
	}
	switch c.StimulusModality {
	case ModalityVisual, ModalityAuditory, ModalityTactile:
	default:
		return &ConfigurationError{Field: "stimulusModality", Message: fmt.Sprintf("unknown modality %q", c.StimulusModality)}
	}
	if c.TotalTrials <= 0 {
		return &ConfigurationError{Field: "totalTrials", Message: "must be greater than zero"}
	}
	if c.PracticeTrials < 0 {
		return &ConfigurationError{Field: "practiceTrials", Message: "must not be negative"}
	}
	if c.ISIMinMs < 0 {
		return &ConfigurationError{Field: "isiMin", Message: "must not be negative"}
	}
	if c.ISIMinMs > c.ISIMaxMs {
		return &ConfigurationError{Field: "isiMin", Message: "must not exceed isiMax"}
	}
	switch c.OutlierMethod {
	case MethodStandardDeviation, MethodMAD, MethodPercentageTrim, MethodIQR:
	default:
		return &ConfigurationError{Field: "outlierMethod", Message: fmt.Sprintf("unknown outlier method %q", c.OutlierMethod)}
	}
	return nil
}

// CalibrationData captures the two device rates the latency estimate is
// derived from. The offset is always computed, never stored independently,
// so it can never drift out of sync with the rates.
type CalibrationData struct {
	RefreshRateHz   float64 `json:"refreshRateHz"`
	TouchSamplingHz float64 `json:"touchSamplingHz"`
}

// OffsetMs is the expected average queuing delay: half a display frame
// period plus half a touch sampling period. An estimate, not a measurement.
func (c CalibrationData) OffsetMs() float64 {
	if c.RefreshRateHz <= 0 || c.TouchSamplingHz <= 0 {
		return 0
	}
	return (1000.0/c.RefreshRateHz)/2.0 + (1000.0/c.TouchSamplingHz)/2.0
}

// Session owns one ordered trial log and the configuration that produced it.
type Session struct {
	ID                    string            `gorm:"type:uuid;primaryKey"`
	SubjectID             string            `gorm:"type:uuid;index"`
	Config                TestConfiguration `gorm:"embedded;embeddedPrefix:config_"`
	DeviceLatencyOffsetMs float64
	// StimulusOrder holds the shuffled fixed-composition go/no-go main
	// sequence so a session's exact stimulus schedule is auditable.
	StimulusOrder pq.StringArray `gorm:"type:text[]"`
	Trials        []TrialRecord  `gorm:"foreignKey:SessionID"`
	CreatedAt     time.Time
	CompletedAt   *time.Time
}
