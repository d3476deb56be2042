package cue

import (
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Topics the bench hardware subscribes to.
const (
	topicVisual = "rtlab/cue/visual"
	topicAudio  = "rtlab/cue/audio"
	topicHaptic = "rtlab/cue/haptic"
)

// MQTTActuator publishes cues to a lab device broker, for bench setups
// where the tactile or auditory channel is real hardware rather than the
// subject's browser. Publishes are QoS 0 fire-and-forget; a dropped cue
// shows up as a missing trial, not a blocked engine.
type MQTTActuator struct {
	client mqtt.Client
	log    *zap.Logger
}

// NewMQTTActuator connects to the broker. The connection is established
// before any session can use the actuator; a broker that is down fails here
// rather than mid-trial.
func NewMQTTActuator(brokerURL, clientID string, log *zap.Logger) (*MQTTActuator, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Info("Connected to cue broker", zap.String("broker", brokerURL))
	return &MQTTActuator{client: client, log: log}, nil
}

func (a *MQTTActuator) ShowVisualCue(identity string) {
	a.publish(topicVisual, map[string]any{"action": "show", "identity": identity})
}

func (a *MQTTActuator) HideVisualCue() {
	a.publish(topicVisual, map[string]any{"action": "hide"})
}

func (a *MQTTActuator) PlayAudioCue(frequencyHz int) {
	a.publish(topicAudio, map[string]any{"frequencyHz": frequencyHz})
}

func (a *MQTTActuator) TriggerHapticPulse() {
	a.publish(topicHaptic, map[string]any{"pulse": true})
}

func (a *MQTTActuator) publish(topic string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		a.log.Error("Cue payload marshal failed", zap.Error(err))
		return
	}
	a.client.Publish(topic, 0, false, body)
}

// Close disconnects from the broker.
func (a *MQTTActuator) Close() {
	a.client.Disconnect(250)
}
