// Package cleaning screens a completed session's trial batch for invalid
// observations. The pipeline is pure and idempotent: the same batch and
// options always produce the same verdicts, so re-running it is safe.
package cleaning

import (
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"rtlab/internal/models"
)

// Defaults for the pipeline stages. MaxRT tightens for go/no-go, where a
// response past one second signals disengagement rather than slowness.
const (
	DefaultMinRTMs       = 100.0
	DefaultMaxRTMs       = 1500.0
	DefaultMaxRTGoNoGoMs = 1000.0
	DefaultSDMultiplier  = 2.5
	// 3×MAD is the robust analogue of roughly 2.5 SD under normality.
	DefaultMADMultiplier = 3.0
	DefaultTrimPercent   = 2.5
	DefaultIQRMultiplier = 1.5
)

// minTrialsForTrim and minTrialsForStats gate the later stages: trimming
// both extremes from four or fewer trials, or fitting a distribution to
// fewer than three, would say nothing about the data.
const (
	minTrialsForTrim  = 5
	minTrialsForStats = 3
)

// Options configures one pipeline run.
type Options struct {
	Method        models.OutlierMethod `json:"method"`
	MinRTMs       float64              `json:"minRt"`
	MaxRTMs       float64              `json:"maxRt"`
	SDMultiplier  float64              `json:"sdMultiplier"`
	MADMultiplier float64              `json:"madMultiplier"`
	TrimPercent   float64              `json:"trimPercent"`
	IQRMultiplier float64              `json:"iqrMultiplier"`
	TrimExtremes  bool                 `json:"trimExtremes"`
}

// DefaultOptions returns the standard pipeline configuration for a
// paradigm and statistical method.
func DefaultOptions(paradigm models.Paradigm, method models.OutlierMethod) Options {
	maxRT := DefaultMaxRTMs
	if paradigm == models.ParadigmGoNoGo {
		maxRT = DefaultMaxRTGoNoGoMs
	}
	return Options{
		Method:        method,
		MinRTMs:       DefaultMinRTMs,
		MaxRTMs:       maxRT,
		SDMultiplier:  DefaultSDMultiplier,
		MADMultiplier: DefaultMADMultiplier,
		TrimPercent:   DefaultTrimPercent,
		IQRMultiplier: DefaultIQRMultiplier,
		TrimExtremes:  true,
	}
}

// Verdict is the pipeline's decision for one trial.
type Verdict struct {
	TrialID     uint   `json:"trialId"`
	TrialNumber int    `json:"trialNumber"`
	Excluded    bool   `json:"excluded"`
	Reason      string `json:"reason,omitempty"`
}

// Result is one full pipeline run over a session's batch.
type Result struct {
	Verdicts []Verdict `json:"verdicts"`
	Excluded int       `json:"excluded"`
	// InsufficientData is set when fewer than three trials survived to
	// the statistical stage, which was then skipped. A warning, not an
	// error: the surviving trials are simply left unflagged.
	InsufficientData bool `json:"insufficientData"`
}

type candidate struct {
	verdict int // index into Result.Verdicts
	rt      float64
}

// Clean classifies every non-practice responded trial in the batch as valid
// or excluded. Practice trials and trials without a response (correct no-go
// inhibitions) pass through unflagged. Each stage only sees trials the
// earlier stages kept.
func Clean(trials []models.TrialRecord, opts Options) Result {
	var res Result
	var survivors []candidate

	for _, t := range trials {
		if t.IsPractice || t.RTCorrected == nil {
			continue
		}
		res.Verdicts = append(res.Verdicts, Verdict{TrialID: t.ID, TrialNumber: t.TrialNumber})
		survivors = append(survivors, candidate{verdict: len(res.Verdicts) - 1, rt: *t.RTCorrected})
	}

	survivors = res.applyBounds(survivors, opts)
	if opts.TrimExtremes {
		survivors = res.trimExtremes(survivors)
	}
	if len(survivors) < minTrialsForStats {
		res.InsufficientData = true
		return res
	}

	switch opts.Method {
	case models.MethodStandardDeviation:
		res.applySD(survivors, opts.SDMultiplier)
	case models.MethodMAD:
		res.applyMAD(survivors, opts.MADMultiplier)
	case models.MethodPercentageTrim:
		res.applyPercentageTrim(survivors, opts.TrimPercent)
	case models.MethodIQR:
		res.applyIQR(survivors, opts.IQRMultiplier)
	}
	return res
}

func (r *Result) exclude(c candidate, reason string) {
	r.Verdicts[c.verdict].Excluded = true
	r.Verdicts[c.verdict].Reason = reason
	r.Excluded++
}

// applyBounds drops trials outside the absolute plausibility window.
// Anything under MinRT is faster than neural transduction allows; anything
// over MaxRT is presumed disengagement.
func (r *Result) applyBounds(in []candidate, opts Options) []candidate {
	var kept []candidate
	for _, c := range in {
		switch {
		case c.rt < opts.MinRTMs:
			r.exclude(c, fmt.Sprintf("Below minimum response time (%g ms)", opts.MinRTMs))
		case c.rt > opts.MaxRTMs:
			r.exclude(c, fmt.Sprintf("Above maximum response time (%g ms)", opts.MaxRTMs))
		default:
			kept = append(kept, c)
		}
	}
	return kept
}

// trimExtremes removes the single fastest and single slowest survivor. With
// duplicate extremes either copy may go.
func (r *Result) trimExtremes(in []candidate) []candidate {
	if len(in) < minTrialsForTrim {
		return in
	}
	minIdx, maxIdx := 0, 0
	for i, c := range in {
		if c.rt < in[minIdx].rt {
			minIdx = i
		}
		if c.rt > in[maxIdx].rt {
			maxIdx = i
		}
	}
	r.exclude(in[minIdx], "Minimum value removed")
	r.exclude(in[maxIdx], "Maximum value removed")

	var kept []candidate
	for i, c := range in {
		if i != minIdx && i != maxIdx {
			kept = append(kept, c)
		}
	}
	return kept
}

func rts(in []candidate) []float64 {
	out := make([]float64, len(in))
	for i, c := range in {
		out[i] = c.rt
	}
	return out
}

func (r *Result) applySD(in []candidate, k float64) {
	sample := rts(in)
	mean, _ := stats.Mean(sample)
	sd, _ := stats.StandardDeviationSample(sample)
	threshold := k * sd
	reason := fmt.Sprintf("Outlier (SD method, %g SD)", k)
	for _, c := range in {
		if abs(c.rt-mean) > threshold {
			r.exclude(c, reason)
		}
	}
}

func (r *Result) applyMAD(in []candidate, k float64) {
	sample := rts(in)
	median, _ := stats.Median(sample)
	mad, _ := stats.MedianAbsoluteDeviation(sample)
	threshold := k * mad
	reason := fmt.Sprintf("Outlier (MAD method, %g×MAD)", k)
	for _, c := range in {
		if abs(c.rt-median) > threshold {
			r.exclude(c, reason)
		}
	}
}

// applyPercentageTrim drops the lowest and highest p% of survivors by rank.
// The per-tail count is floor(n·p/100), so small batches may trim nothing.
func (r *Result) applyPercentageTrim(in []candidate, percent float64) {
	n := len(in)
	perTail := int(float64(n) * percent / 100.0)
	if perTail < 1 {
		return
	}
	byRT := make([]candidate, n)
	copy(byRT, in)
	sort.Slice(byRT, func(i, j int) bool { return byRT[i].rt < byRT[j].rt })

	reason := fmt.Sprintf("Outlier (percentage trim, %g%%)", percent)
	for i := 0; i < perTail; i++ {
		r.exclude(byRT[i], reason)
		r.exclude(byRT[n-1-i], reason)
	}
}

// applyIQR fences survivors at [Q1 − k·IQR, Q3 + k·IQR]. Quartiles are
// taken by simple rank index on the sorted sample, not interpolated.
func (r *Result) applyIQR(in []candidate, k float64) {
	sample := rts(in)
	sort.Float64s(sample)
	n := len(sample)
	q1 := sample[rankIndex(n, 0.25)]
	q3 := sample[rankIndex(n, 0.75)]
	iqr := q3 - q1
	low, high := q1-k*iqr, q3+k*iqr

	reason := fmt.Sprintf("Outlier (IQR method, %g×IQR)", k)
	for _, c := range in {
		if c.rt < low || c.rt > high {
			r.exclude(c, reason)
		}
	}
}

func rankIndex(n int, q float64) int {
	idx := int(float64(n) * q)
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
