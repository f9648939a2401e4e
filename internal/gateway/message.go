// Package gateway is the duplex media endpoint for the telephony carrier: it
// accepts the carrier's websocket, decodes control and media messages, drives
// one turn state machine per call, and transmits the machine's outbound
// frames back on the same socket at the real-time cadence.
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Carrier message event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// Message is one carrier websocket message. Exactly one of the event payload
// fields is set, matching Event.
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload announces a new media stream.
type StartPayload struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`

	// From is the caller's phone number, when the carrier forwards it.
	From string `json:"from,omitempty"`

	// CustomParameters carries deployment-specific values configured on the
	// carrier side.
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one base64-encoded μ-law audio frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload announces the end of the media stream.
type StopPayload struct {
	CallSID string `json:"callSid,omitempty"`
}

// MarkPayload acknowledges a previously sent mark.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload carries one keypad digit press.
type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// ParseMessage decodes one carrier message. Unknown events decode into a
// Message with only Event set; callers skip what they do not handle.
func ParseMessage(data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("gateway: decode message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("gateway: message without an event field")
	}
	return msg, nil
}

// FramePayload decodes the base64 audio of a media message.
func (m *Message) FramePayload() ([]byte, error) {
	if m.Media == nil {
		return nil, fmt.Errorf("gateway: %s message without a media payload", m.Event)
	}
	data, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: decode frame payload: %w", err)
	}
	return data, nil
}

// Digit returns the DTMF digit of a dtmf message, or 0 when absent.
func (m *Message) Digit() rune {
	if m.DTMF == nil || m.DTMF.Digit == "" {
		return 0
	}
	return rune(m.DTMF.Digit[0])
}

// EncodeMedia builds the outbound media message for one frame payload.
func EncodeMedia(streamSID string, payload []byte) ([]byte, error) {
	msg := Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(payload)},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode media: %w", err)
	}
	return data, nil
}

// EncodeMark builds an outbound mark message, used to learn when the carrier
// has played out everything sent before it.
func EncodeMark(streamSID, name string) ([]byte, error) {
	msg := Message{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode mark: %w", err)
	}
	return data, nil
}
