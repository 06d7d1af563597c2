package httpadapter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/PabloGalante/equalizer/internal/domain"
)

// Client messages form a closed set. decodeClientMessage is the only
// constructor and the socket handler switches over every variant.
type clientMessage interface {
	correlationID() string
}

type transcriptMessage struct {
	RequestID string
	Speaker   domain.Speaker
	Text      string
}

type audioMessage struct {
	RequestID string
	Data      []byte
}

type audioStopMessage struct {
	RequestID string
}

type pingMessage struct {
	RequestID string
}

func (m transcriptMessage) correlationID() string { return m.RequestID }
func (m audioMessage) correlationID() string      { return m.RequestID }
func (m audioStopMessage) correlationID() string  { return m.RequestID }
func (m pingMessage) correlationID() string       { return m.RequestID }

type clientEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	Text      string `json:"text,omitempty"`
	Data      string `json:"data,omitempty"`
}

// decodeClientMessage returns the request id it could read even on error,
// so the error reply can still be correlated.
func decodeClientMessage(data []byte) (clientMessage, string, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("%w: malformed message", domain.ErrInvalidInput)
	}

	switch env.Type {
	case "transcript":
		speaker, ok := domain.ParseSpeaker(env.Speaker)
		if !ok {
			return nil, env.RequestID, fmt.Errorf("%w: unknown speaker %q", domain.ErrInvalidInput, env.Speaker)
		}
		return transcriptMessage{RequestID: env.RequestID, Speaker: speaker, Text: env.Text}, env.RequestID, nil
	case "audio":
		audio, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, env.RequestID, fmt.Errorf("%w: audio data is not base64", domain.ErrInvalidInput)
		}
		return audioMessage{RequestID: env.RequestID, Data: audio}, env.RequestID, nil
	case "audio_stop":
		return audioStopMessage{RequestID: env.RequestID}, env.RequestID, nil
	case "ping":
		return pingMessage{RequestID: env.RequestID}, env.RequestID, nil
	default:
		return nil, env.RequestID, fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidInput, env.Type)
	}
}

// Server messages. Each carries its wire tag in Type, set by its constructor.
type serverMessage interface {
	serverMessage()
}

type connectedMessage struct {
	Type         string           `json:"type"`
	RoomID       domain.SessionID `json:"room_id"`
	ObserverID   string           `json:"observer_id"`
	Role         domain.Role      `json:"role"`
	Topic        string           `json:"topic"`
	YourPosition string           `json:"your_position,omitempty"`
}

type historyMessage struct {
	Type  string               `json:"type"`
	Cards []domain.CounterCard `json:"cards"`
	Score int                  `json:"negotiation_score"`
}

type counterCardMessage struct {
	Type  string             `json:"type"`
	Card  domain.CounterCard `json:"card"`
	Score int                `json:"negotiation_score"`
}

type transcriptReceivedMessage struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Source    string           `json:"source"`
	Utterance domain.Utterance `json:"utterance"`
}

type pongMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

type errorMessage struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Code      domain.ErrorCode `json:"code"`
	Message   string           `json:"message"`
}

func (connectedMessage) serverMessage()          {}
func (historyMessage) serverMessage()            {}
func (counterCardMessage) serverMessage()        {}
func (transcriptReceivedMessage) serverMessage() {}
func (pongMessage) serverMessage()               {}
func (errorMessage) serverMessage()              {}

func newHistory(cards []domain.CounterCard, score int) historyMessage {
	if cards == nil {
		cards = []domain.CounterCard{}
	}
	return historyMessage{Type: "history", Cards: cards, Score: score}
}

func newCounterCard(card domain.CounterCard, score int) counterCardMessage {
	return counterCardMessage{Type: "counter_card", Card: card, Score: score}
}

func newTranscriptReceived(requestID, source string, u domain.Utterance) transcriptReceivedMessage {
	return transcriptReceivedMessage{Type: "transcript_received", RequestID: requestID, Source: source, Utterance: u}
}

func newPong(requestID string) pongMessage {
	return pongMessage{Type: "pong", RequestID: requestID}
}

func newErrorMessage(requestID string, err error) errorMessage {
	code := domain.Code(err)
	msg := err.Error()
	if code == domain.CodeInternal {
		msg = "internal error"
	}
	return errorMessage{Type: "error", RequestID: requestID, Code: code, Message: msg}
}
