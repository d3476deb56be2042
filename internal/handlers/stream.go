package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rtlab/internal/cleaning"
	"rtlab/internal/cue"
	"rtlab/internal/engine"
	"rtlab/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy is enforced by the secure-headers middleware;
	// the stream itself carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler attaches a client to a running session over a websocket.
// Downstream: phase changes, stimulus onsets, feedback and resolved trials.
// Upstream: responses and advance confirmations.
type StreamHandler struct {
	log     *zap.Logger
	manager *engine.Manager
	// base is the server-side cue channel (log or MQTT); it keeps
	// firing alongside the stream so bench hardware never goes silent.
	base cue.Actuator
}

func NewStreamHandler(log *zap.Logger, manager *engine.Manager, base cue.Actuator) *StreamHandler {
	return &StreamHandler{log: log, manager: manager, base: base}
}

type streamMessage struct {
	Type      string                `json:"type"`
	Phase     engine.Phase          `json:"phase,omitempty"`
	Identity  string                `json:"identity,omitempty"`
	Timestamp float64               `json:"timestamp,omitempty"`
	Message   string                `json:"message,omitempty"`
	Trial     *models.TrialRecord   `json:"trial,omitempty"`
	Frequency int                   `json:"frequencyHz,omitempty"`
	Verdicts  *cleaning.Result      `json:"verdicts,omitempty"`
	Response  *engine.ResponseEvent `json:"response,omitempty"`
}

// Attach upgrades the connection and wires it into the engine as both its
// observer and its visual/auditory cue channel.
func (h *StreamHandler) Attach(c *gin.Context) {
	eng, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Websocket upgrade failed", zap.Error(err))
		return
	}

	stream := &sessionStream{log: h.log, conn: conn}
	eng.SetActuator(cue.NewMulti(h.base, stream))
	eng.SetCallbacks(engine.Callbacks{
		OnPhaseChange: func(p engine.Phase) {
			stream.send(streamMessage{Type: "phase", Phase: p})
		},
		OnStimulus: func(identity string, ts float64) {
			stream.send(streamMessage{Type: "stimulus", Identity: identity, Timestamp: ts})
		},
		OnStimulusHidden: func() {
			stream.send(streamMessage{Type: "hide"})
		},
		OnFeedback: func(msg string) {
			stream.send(streamMessage{Type: "feedback", Message: msg})
		},
		OnTrialResolved: func(t models.TrialRecord) {
			stream.send(streamMessage{Type: "trial", Trial: &t})
		},
		OnSessionComplete: func(_ *models.Session, verdicts *cleaning.Result) {
			stream.send(streamMessage{Type: "complete", Verdicts: verdicts})
		},
	})
	stream.send(streamMessage{Type: "phase", Phase: eng.Phase()})

	// Read loop. The engine stamps unstamped responses on receipt, so
	// forwarding must not buffer.
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("Trial stream closed unexpectedly", zap.Error(err))
			}
			break
		}
		switch msg.Type {
		case "response":
			if msg.Response != nil {
				eng.SubmitResponse(*msg.Response)
			}
		case "advance":
			eng.Advance()
		}
	}

	eng.SetCallbacks(engine.Callbacks{})
	eng.SetActuator(h.base)
	conn.Close()
}

// sessionStream is the websocket as seen by the engine: an actuator for
// visual and auditory cues plus a serialized message pipe. Engine and read
// loop both write, hence the mutex.
type sessionStream struct {
	log  *zap.Logger
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *sessionStream) send(msg streamMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.Debug("Trial stream write failed", zap.Error(err))
	}
}

func (s *sessionStream) ShowVisualCue(identity string) {
	s.send(streamMessage{Type: "cue", Identity: identity})
}

func (s *sessionStream) HideVisualCue() {
	s.send(streamMessage{Type: "cue_hide"})
}

func (s *sessionStream) PlayAudioCue(frequencyHz int) {
	s.send(streamMessage{Type: "cue_audio", Frequency: frequencyHz})
}

func (s *sessionStream) TriggerHapticPulse() {
	s.send(streamMessage{Type: "cue_haptic"})
}
