// Package reliability computes test-retest agreement statistics over two
// parallel reaction-time samples, typically two sessions of the same
// subject and paradigm. Everything here is a read-only derived view; trial
// records are never touched.
package reliability

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrSampleMismatch is returned when the two samples cannot be paired.
var ErrSampleMismatch = errors.New("reliability: samples must have equal length and at least two pairs")

// limitMultiplier places the Bland-Altman limits of agreement at the
// conventional 95% band.
const limitMultiplier = 1.96

// Report bundles every agreement statistic for one pair of samples.
type Report struct {
	ICC         float64     `json:"icc"`
	CVPercent   float64     `json:"cvPercent"`
	SEM         float64     `json:"sem"`
	BlandAltman BlandAltman `json:"blandAltman"`
	Pairs       int         `json:"pairs"`
}

// BlandAltman is the agreement view: one point per pair plus the limits
// the differences are expected to stay inside.
type BlandAltman struct {
	Points         []AgreementPoint `json:"points"`
	MeanDifference float64          `json:"meanDifference"`
	SDDifference   float64          `json:"sdDifference"`
	UpperLimit     float64          `json:"upperLimit"`
	LowerLimit     float64          `json:"lowerLimit"`
	Outside        int              `json:"outside"`
	OutsidePercent float64          `json:"outsidePercent"`
}

// AgreementPoint is one pair's (mean, difference) coordinate.
type AgreementPoint struct {
	Mean       float64 `json:"mean"`
	Difference float64 `json:"difference"`
}

// Analyze computes the full agreement report for two equal-length samples.
func Analyze(first, second []float64) (*Report, error) {
	if len(first) != len(second) || len(first) < 2 {
		return nil, ErrSampleMismatch
	}

	icc := ICC(first, second)
	pooled := make([]float64, 0, len(first)+len(second))
	pooled = append(pooled, first...)
	pooled = append(pooled, second...)
	pooledSD := math.Sqrt(stat.Variance(pooled, nil))

	return &Report{
		ICC:         icc,
		CVPercent:   CVPercent(pooled),
		SEM:         pooledSD * math.Sqrt(1-icc),
		BlandAltman: Agreement(first, second),
		Pairs:       len(first),
	}, nil
}

// ICC is the two-way mixed, consistency-form intraclass correlation:
// (betweenVar − withinVar/2) / (betweenVar + withinVar/2), where betweenVar
// is the variance of per-pair means and withinVar the variance of per-pair
// differences, clamped to [0, 1].
func ICC(first, second []float64) float64 {
	n := len(first)
	means := make([]float64, n)
	diffs := make([]float64, n)
	for i := range first {
		means[i] = (first[i] + second[i]) / 2
		diffs[i] = first[i] - second[i]
	}
	between := stat.Variance(means, nil)
	within := stat.Variance(diffs, nil)
	denom := between + within/2
	if denom == 0 {
		return 0
	}
	icc := (between - within/2) / denom
	return clamp01(icc)
}

// CVPercent is the coefficient of variation of a pooled sample, as a
// percentage.
func CVPercent(sample []float64) float64 {
	mean := stat.Mean(sample, nil)
	if mean == 0 {
		return 0
	}
	return math.Sqrt(stat.Variance(sample, nil)) / mean * 100
}

// Agreement computes the Bland-Altman view for two paired samples.
func Agreement(first, second []float64) BlandAltman {
	n := len(first)
	points := make([]AgreementPoint, n)
	diffs := make([]float64, n)
	for i := range first {
		diffs[i] = first[i] - second[i]
		points[i] = AgreementPoint{
			Mean:       (first[i] + second[i]) / 2,
			Difference: diffs[i],
		}
	}

	meanDiff := stat.Mean(diffs, nil)
	sdDiff := math.Sqrt(stat.Variance(diffs, nil))
	ba := BlandAltman{
		Points:         points,
		MeanDifference: meanDiff,
		SDDifference:   sdDiff,
		UpperLimit:     meanDiff + limitMultiplier*sdDiff,
		LowerLimit:     meanDiff - limitMultiplier*sdDiff,
	}
	for _, d := range diffs {
		if d > ba.UpperLimit || d < ba.LowerLimit {
			ba.Outside++
		}
	}
	ba.OutsidePercent = float64(ba.Outside) / float64(n) * 100
	return ba
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
