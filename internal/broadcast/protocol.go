// Package broadcast owns the websocket fan-out for one session: the wire
// envelope, the client registry and application-level liveness.
package broadcast

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Server to client message types.
const (
	TypeStateUpdate      = "STATE_UPDATE"
	TypePing             = "PING"
	TypeMediaControl     = "MEDIA_CONTROL"
	TypeDecisionReceived = "DECISION_RECEIVED"
	TypeSessionEnded     = "SESSION_ENDED"
	TypeError            = "ERROR"
)

// Client to server message types.
const (
	TypeConsumerReady  = "CONSUMER_READY"
	TypePong           = "PONG"
	TypeSubmitDecision = "SUBMIT_DECISION"
	TypeMediaEnded     = "MEDIA_ENDED"
	TypeMediaPosition  = "MEDIA_POSITION"
	TypeMediaDuration  = "MEDIA_DURATION"
	TypeSelectPhase    = "SELECT_PHASE"
	TypeNextSlide      = "NEXT_SLIDE"
	TypePreviousSlide  = "PREVIOUS_SLIDE"
	TypeTogglePlay     = "TOGGLE_PLAY"
	TypeClearAlert     = "CLEAR_ALERT"
	TypeResetDecision  = "RESET_DECISION"
	TypeRetryEffects   = "RETRY_EFFECTS"
	TypeUpdateNotes    = "UPDATE_NOTES"
	TypeEndSession     = "END_SESSION"
)

// Message is the envelope used in both directions. Payload stays raw until
// the receiver knows the type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage wraps a payload struct in an envelope. Payloads are our own
// types; a marshal failure is a programming error and degrades to an empty
// payload rather than dropping the message.
func NewMessage(msgType string, payload interface{}) Message {
	if payload == nil {
		return Message{Type: msgType}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.Errorf("broadcast: marshal %s payload: %v", msgType, err)
		return Message{Type: msgType}
	}
	return Message{Type: msgType, Payload: data}
}

// Actions carried by MEDIA_CONTROL messages to the presentation display.
const (
	MediaActionPlay  = "play"
	MediaActionPause = "pause"
	MediaActionSeek  = "seek"
)

// MediaControlPayload is the body of a MEDIA_CONTROL message. Ack asks the
// display to answer with a MEDIA_POSITION report.
type MediaControlPayload struct {
	Action      string  `json:"action"`
	PositionSec float64 `json:"position_sec"`
	Ack         bool    `json:"ack,omitempty"`
}

// DecisionReceivedPayload tells the submitting team whether its decision was
// stored. The store's uniqueness rule makes this answer authoritative.
type DecisionReceivedPayload struct {
	PhaseID  string `json:"phase_id"`
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
}

// ErrorPayload is the body of an ERROR message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an ERROR message.
func NewError(code, message string) Message {
	return NewMessage(TypeError, ErrorPayload{Code: code, Message: message})
}
