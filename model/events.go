package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names as they appear on the wire, client and server side.
const (
	EventCreateRoom       = "create-room"
	EventJoinRoom         = "join-room"
	EventRoomCreated      = "room-created"
	EventRoomJoined       = "room-joined"
	EventRoomJoinError    = "room-join-error"
	EventUserConnected    = "user-connected"
	EventUserDisconnected = "user-disconnected"
	EventSignal           = "signal"
	EventReceiveSignal    = "receive-signal"
	EventGetUsername      = "get-username"
	EventUsernameResponse = "username-response"
	EventChatMessage      = "chat-message"
	EventVideoState       = "video-state-change"
	EventVideoSource      = "video-source-change"
)

var (
	ErrEmptyDisplayName = errors.New("display name is required")
	ErrEmptyRoomID      = errors.New("room id is required")
	ErrEmptyTarget      = errors.New("target connection id is required")
	ErrEmptyText        = errors.New("message text is required")
	ErrEmptySource      = errors.New("video source is required")
	ErrBadVideoType     = errors.New("unknown video type")
)

// Envelope is the framing for every websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type validated interface {
	Validate() error
}

// Decode unmarshals the envelope payload into v and runs its schema
// validation if it has one. Payloads never reach the core unvalidated.
func (e *Envelope) Decode(v any) error {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", e.Event, err)
	}
	if val, ok := v.(validated); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("invalid %s payload: %w", e.Event, err)
		}
	}
	return nil
}

// NewEnvelope wraps an outbound payload. Payload types here are all
// plain structs, so marshalling cannot fail in practice.
func NewEnvelope(event string, v any) Envelope {
	data, _ := json.Marshal(v)
	return Envelope{Event: event, Data: data}
}

// Wire is a bidirectional message channel between the transport
// boundary and the coordination core.
type Wire struct {
	RX chan Envelope
	TX chan Envelope
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Envelope),
		TX: make(chan Envelope),
	}
}

// --- client -> server payloads ---

type CreateRoomPayload struct {
	DisplayName string `json:"displayName"`
}

func (p *CreateRoomPayload) Validate() error {
	if p.DisplayName == "" {
		return ErrEmptyDisplayName
	}
	return nil
}

type JoinRoomPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

func (p *JoinRoomPayload) Validate() error {
	if p.RoomID == "" {
		return ErrEmptyRoomID
	}
	if p.DisplayName == "" {
		return ErrEmptyDisplayName
	}
	return nil
}

type SignalPayload struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	Payload            json.RawMessage `json:"payload"` // opaque negotiation blob
}

func (p *SignalPayload) Validate() error {
	if p.TargetConnectionID == "" {
		return ErrEmptyTarget
	}
	return nil
}

type GetUsernamePayload struct {
	ConnectionID string `json:"connectionId"`
}

func (p *GetUsernamePayload) Validate() error {
	if p.ConnectionID == "" {
		return ErrEmptyTarget
	}
	return nil
}

type ChatMessagePayload struct {
	RoomID string `json:"roomId,omitempty"`
	Text   string `json:"text"`
}

func (p *ChatMessagePayload) Validate() error {
	if p.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// VideoStatePayload carries play/pause/seek reports. VideoType is an
// opaque tag used by receivers for stale-source filtering, so it is
// not validated here.
type VideoStatePayload struct {
	RoomID      string  `json:"roomId,omitempty"`
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	VideoType   string  `json:"videoType,omitempty"`
}

type VideoSourcePayload struct {
	RoomID    string `json:"roomId,omitempty"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	VideoType string `json:"videoType"`
	VideoID   string `json:"videoId,omitempty"`
}

func (p *VideoSourcePayload) Validate() error {
	if p.Source == "" {
		return ErrEmptySource
	}
	if !KnownVideoType(p.VideoType) {
		return fmt.Errorf("%w: %q", ErrBadVideoType, p.VideoType)
	}
	return nil
}

// --- server -> client payloads ---

type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

type RoomJoinedPayload struct {
	RoomID string `json:"roomId"`
}

type RoomJoinErrorPayload struct {
	Message string `json:"message"`
}

// PresencePayload is shared by user-connected and user-disconnected.
type PresencePayload struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type ReceiveSignalPayload struct {
	ConnectionID string          `json:"connectionId"`
	Payload      json.RawMessage `json:"payload"`
}

type UsernameResponsePayload struct {
	DisplayName string `json:"displayName"`
}

type ChatBroadcastPayload struct {
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
}
