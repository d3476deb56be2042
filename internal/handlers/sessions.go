package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rtlab/internal/engine"
	"rtlab/internal/metrics"
	"rtlab/internal/models"
)

// SessionsHandler drives the session lifecycle endpoints.
type SessionsHandler struct {
	log     *zap.Logger
	manager *engine.Manager
	store   engine.Store
}

func NewSessionsHandler(log *zap.Logger, manager *engine.Manager, store engine.Store) *SessionsHandler {
	return &SessionsHandler{log: log, manager: manager, store: store}
}

type createSessionRequest struct {
	Config      models.TestConfiguration `json:"config"`
	Calibration *models.CalibrationData  `json:"calibration"`
}

// Create validates the configuration and starts the engine. An invalid
// configuration fails before anything is persisted.
func (h *SessionsHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind session request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	eng, err := h.manager.StartSession(c.Request.Context(), req.Config, req.Calibration, subjectID(c))
	if err != nil {
		var confErr *models.ConfigurationError
		if errors.As(err, &confErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": confErr.Message, "field": confErr.Field})
			return
		}
		h.log.Error("Failed to start session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
		return
	}

	session := eng.Session()
	c.JSON(http.StatusCreated, gin.H{
		"sessionId":       session.ID,
		"phase":           eng.Phase(),
		"latencyOffsetMs": session.DeviceLatencyOffsetMs,
	})
}

// Advance confirms the instructions or break screen for clients not using
// the stream.
func (h *SessionsHandler) Advance(c *gin.Context) {
	eng, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
		return
	}
	eng.Advance()
	c.JSON(http.StatusOK, gin.H{"phase": eng.Phase()})
}

// Abort terminates a running session. The in-flight trial is discarded;
// persisted trials stay.
func (h *SessionsHandler) Abort(c *gin.Context) {
	if err := h.manager.AbortSession(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
		return
	}
	c.Status(http.StatusOK)
}

// ListTrials returns a session's persisted trial log.
func (h *SessionsHandler) ListTrials(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.store.GetSession(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session"})
		return
	}
	trials, err := h.store.ListTrials(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error("Failed to list trials", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load trials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trials": trials})
}

// Summary returns the per-session statistical roll-up.
func (h *SessionsHandler) Summary(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.store.GetSession(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session"})
		return
	}
	trials, err := h.store.ListTrials(c.Request.Context(), sessionID)
	if err != nil {
		h.log.Error("Failed to load trials for summary", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load trials"})
		return
	}
	c.JSON(http.StatusOK, metrics.Summarize(trials))
}

// subjectID returns the anonymous subject identity from the cookie
// session, minting one on first contact.
func subjectID(c *gin.Context) string {
	session := sessions.Default(c)
	if id, ok := session.Get("subjectID").(string); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	session.Set("subjectID", id)
	_ = session.Save()
	return id
}
