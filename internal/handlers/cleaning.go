package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rtlab/internal/cleaning"
	"rtlab/internal/engine"
	"rtlab/internal/models"
)

// CleaningHandler re-runs the outlier pipeline over a persisted session,
// e.g. with a different method than the one the session completed with.
type CleaningHandler struct {
	log        *zap.Logger
	manager    *engine.Manager
	store      engine.Store
	optionsFor engine.CleaningFactory
}

func NewCleaningHandler(log *zap.Logger, manager *engine.Manager, store engine.Store, optionsFor engine.CleaningFactory) *CleaningHandler {
	if optionsFor == nil {
		optionsFor = cleaning.DefaultOptions
	}
	return &CleaningHandler{log: log, manager: manager, store: store, optionsFor: optionsFor}
}

type cleanRequest struct {
	Method        models.OutlierMethod `json:"method"`
	MinRTMs       *float64             `json:"minRt"`
	MaxRTMs       *float64             `json:"maxRt"`
	SDMultiplier  *float64             `json:"sdMultiplier"`
	MADMultiplier *float64             `json:"madMultiplier"`
	TrimPercent   *float64             `json:"trimPercent"`
	IQRMultiplier *float64             `json:"iqrMultiplier"`
	TrimExtremes  *bool                `json:"trimExtremes"`
}

// Clean runs the pipeline once over the stable, persisted batch and writes
// the verdicts back. Refused while the session is still recording: the
// pipeline must never race trial writes.
func (h *CleaningHandler) Clean(c *gin.Context) {
	sessionID := c.Param("id")
	if h.manager.Active(sessionID) {
		c.JSON(http.StatusConflict, gin.H{"error": "Session still in progress"})
		return
	}

	session, err := h.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session"})
		return
	}

	var req cleanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	opts := h.buildOptions(session, req)

	trials, err := h.store.ListTrials(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error("Failed to load trials for cleaning", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load trials"})
		return
	}

	result := cleaning.Clean(trials, opts)
	for _, v := range result.Verdicts {
		reason := (*string)(nil)
		if v.Excluded {
			r := v.Reason
			reason = &r
		}
		if err := h.store.UpdateTrialVerdict(c.Request.Context(), v.TrialID, v.Excluded, reason); err != nil {
			h.log.Error("Failed to write verdict", zap.Uint("trial_id", v.TrialID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist verdicts"})
			return
		}
	}

	c.JSON(http.StatusOK, result)
}

// buildOptions layers the request over the server defaults for the
// session's paradigm. The method falls back to the session's configured one.
func (h *CleaningHandler) buildOptions(session *models.Session, req cleanRequest) cleaning.Options {
	method := session.Config.OutlierMethod
	if req.Method != "" {
		method = req.Method
	}
	opts := h.optionsFor(session.Config.Paradigm, method)
	if req.MinRTMs != nil {
		opts.MinRTMs = *req.MinRTMs
	}
	if req.MaxRTMs != nil {
		opts.MaxRTMs = *req.MaxRTMs
	}
	if req.SDMultiplier != nil {
		opts.SDMultiplier = *req.SDMultiplier
	}
	if req.MADMultiplier != nil {
		opts.MADMultiplier = *req.MADMultiplier
	}
	if req.TrimPercent != nil {
		opts.TrimPercent = *req.TrimPercent
	}
	if req.IQRMultiplier != nil {
		opts.IQRMultiplier = *req.IQRMultiplier
	}
	if req.TrimExtremes != nil {
		opts.TrimExtremes = *req.TrimExtremes
	}
	return opts
}
