package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rtlab/internal/engine"
	"rtlab/internal/models"
	"rtlab/internal/reliability"
)

// ReliabilityHandler computes test-retest agreement between two sessions,
// or between two raw samples supplied directly.
type ReliabilityHandler struct {
	log   *zap.Logger
	store engine.Store
}

func NewReliabilityHandler(log *zap.Logger, store engine.Store) *ReliabilityHandler {
	return &ReliabilityHandler{log: log, store: store}
}

type reliabilityRequest struct {
	FirstSessionID  string    `json:"firstSessionId"`
	SecondSessionID string    `json:"secondSessionId"`
	FirstSample     []float64 `json:"firstSample"`
	SecondSample    []float64 `json:"secondSample"`
}

// Analyze accepts either two session IDs (using each session's valid,
// corrected RTs in trial order) or two explicit samples.
func (h *ReliabilityHandler) Analyze(c *gin.Context) {
	var req reliabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	first, second := req.FirstSample, req.SecondSample
	if req.FirstSessionID != "" && req.SecondSessionID != "" {
		var err error
		if first, err = h.validRTs(c, req.FirstSessionID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session", "sessionId": req.FirstSessionID})
			return
		}
		if second, err = h.validRTs(c, req.SecondSessionID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session", "sessionId": req.SecondSessionID})
			return
		}
		// Pairing needs equal lengths; sessions may differ when trials
		// were excluded, so truncate to the shorter log.
		if len(first) > len(second) {
			first = first[:len(second)]
		} else if len(second) > len(first) {
			second = second[:len(first)]
		}
	}

	report, err := reliability.Analyze(first, second)
	if err != nil {
		if errors.Is(err, reliability.ErrSampleMismatch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Samples must have equal length and at least two pairs"})
			return
		}
		h.log.Error("Reliability analysis failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// validRTs returns a session's corrected RTs, skipping practice trials,
// no-response trials, and everything the cleaning pipeline excluded.
func (h *ReliabilityHandler) validRTs(c *gin.Context, sessionID string) ([]float64, error) {
	if _, err := h.store.GetSession(c.Request.Context(), sessionID); err != nil {
		return nil, err
	}
	trials, err := h.store.ListTrials(c.Request.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	return ValidRTs(trials), nil
}

// ValidRTs extracts the analyzable corrected reaction times from a trial
// batch.
func ValidRTs(trials []models.TrialRecord) []float64 {
	var out []float64
	for _, t := range trials {
		if t.IsPractice || t.ExcludedFlag || t.RTCorrected == nil {
			continue
		}
		out = append(out, *t.RTCorrected)
	}
	return out
}
