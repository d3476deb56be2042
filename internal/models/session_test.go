package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() TestConfiguration {
	return TestConfiguration{
		Paradigm:         ParadigmSRT,
		StimulusModality: ModalityVisual,
		TotalTrials:      20,
		PracticeTrials:   3,
		ISIMinMs:         1000,
		ISIMaxMs:         3000,
		OutlierMethod:    MethodStandardDeviation,
	}
}

func TestTestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*TestConfiguration)
		wantField string
	}{
		{name: "valid", mutate: func(c *TestConfiguration) {}},
		{
			name:      "unknown paradigm",
			mutate:    func(c *TestConfiguration) { c.Paradigm = "simple" },
			wantField: "paradigm",
		},
		{
			name:      "unknown modality",
			mutate:    func(c *TestConfiguration) { c.StimulusModality = "olfactory" },
			wantField: "stimulusModality",
		},
		{
			name:      "zero trials",
			mutate:    func(c *TestConfiguration) { c.TotalTrials = 0 },
			wantField: "totalTrials",
		},
		{
			name:      "negative practice trials",
			mutate:    func(c *TestConfiguration) { c.PracticeTrials = -1 },
			wantField: "practiceTrials",
		},
		{
			name:      "negative ISI minimum",
			mutate:    func(c *TestConfiguration) { c.ISIMinMs = -100 },
			wantField: "isiMin",
		},
		{
			name: "inverted ISI window",
			mutate: func(c *TestConfiguration) {
				c.ISIMinMs = 3000
				c.ISIMaxMs = 1000
			},
			wantField: "isiMin",
		},
		{
			name:      "unknown outlier method",
			mutate:    func(c *TestConfiguration) { c.OutlierMethod = "winsorize" },
			wantField: "outlierMethod",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var confErr *ConfigurationError
			require.ErrorAs(t, err, &confErr)
			assert.Equal(t, tt.wantField, confErr.Field)
		})
	}
}

func TestCalibrationOffset(t *testing.T) {
	tests := []struct {
		name        string
		calibration CalibrationData
		want        float64
	}{
		{
			name:        "60Hz display with 120Hz digitizer",
			calibration: CalibrationData{RefreshRateHz: 60, TouchSamplingHz: 120},
			want:        12.5,
		},
		{
			name:        "120Hz display with 240Hz digitizer",
			calibration: CalibrationData{RefreshRateHz: 120, TouchSamplingHz: 240},
			want:        6.25,
		},
		{
			name:        "missing refresh rate yields no correction",
			calibration: CalibrationData{RefreshRateHz: 0, TouchSamplingHz: 120},
			want:        0,
		},
		{
			name:        "missing touch rate yields no correction",
			calibration: CalibrationData{RefreshRateHz: 60, TouchSamplingHz: 0},
			want:        0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.calibration.OffsetMs(), 1e-9)
		})
	}
}
