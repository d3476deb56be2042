// Package metrics computes per-session summary statistics over the
// recorded trial batch. Everything here is a derived view; nothing writes
// back to trial records.
package metrics

import (
	"github.com/montanaflynn/stats"

	"rtlab/internal/models"
)

// MetricResult carries one computed statistic. Calculated is false when
// the batch had too little data for the metric to mean anything.
type MetricResult struct {
	Value      float64 `json:"value"`
	Calculated bool    `json:"calculated"`
	SampleSize int     `json:"sampleSize,omitempty"`
}

// SessionSummary is the roll-up reported for one completed session.
type SessionSummary struct {
	TotalTrials    int          `json:"totalTrials"`
	PracticeTrials int          `json:"practiceTrials"`
	ValidTrials    int          `json:"validTrials"`
	ExcludedTrials int          `json:"excludedTrials"`
	MeanRT         MetricResult `json:"meanRt"`
	MedianRT       MetricResult `json:"medianRt"`
	RTStdDev       MetricResult `json:"rtStdDev"`
	FastestRT      MetricResult `json:"fastestRt"`
	SlowestRT      MetricResult `json:"slowestRt"`
	AccuracyRate   MetricResult `json:"accuracyRate"`
	// Exclusions counts excluded trials by pipeline reason, for audit.
	Exclusions map[string]int `json:"exclusions"`
}

// Summarize computes the session roll-up. RT statistics cover valid
// (non-practice, responded, non-excluded) corrected RTs; the accuracy rate
// covers every non-practice trial with a correctness notion, excluded or
// not, since exclusion is about timing validity rather than correctness.
func Summarize(trials []models.TrialRecord) *SessionSummary {
	summary := &SessionSummary{Exclusions: map[string]int{}}

	var validRTs []float64
	var scored, correct int
	for _, t := range trials {
		if t.IsPractice {
			summary.PracticeTrials++
			continue
		}
		summary.TotalTrials++
		if t.ExcludedFlag {
			summary.ExcludedTrials++
			if t.ExclusionReason != nil {
				summary.Exclusions[*t.ExclusionReason]++
			}
		} else if t.RTCorrected != nil {
			validRTs = append(validRTs, *t.RTCorrected)
		}
		if t.Accuracy != nil {
			scored++
			if *t.Accuracy {
				correct++
			}
		}
	}
	summary.ValidTrials = len(validRTs)

	summary.MeanRT = metricOf(validRTs, stats.Mean)
	summary.MedianRT = metricOf(validRTs, stats.Median)
	summary.FastestRT = metricOf(validRTs, stats.Min)
	summary.SlowestRT = metricOf(validRTs, stats.Max)
	if len(validRTs) > 1 {
		sd, _ := stats.StandardDeviationSample(validRTs)
		summary.RTStdDev = MetricResult{Value: sd, Calculated: true, SampleSize: len(validRTs)}
	}
	if scored > 0 {
		summary.AccuracyRate = MetricResult{
			Value:      float64(correct) / float64(scored),
			Calculated: true,
			SampleSize: scored,
		}
	}
	return summary
}

func metricOf(sample []float64, fn func(stats.Float64Data) (float64, error)) MetricResult {
	if len(sample) == 0 {
		return MetricResult{}
	}
	v, err := fn(sample)
	if err != nil {
		return MetricResult{}
	}
	return MetricResult{Value: v, Calculated: true, SampleSize: len(sample)}
}
