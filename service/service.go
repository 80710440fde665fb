package service

import (
	"context"
	"errors"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"watchparty/model"
)

var ErrConnect = errors.New("unable to connect")

type (
	SessionStore interface {
		CreateRoom(connID, displayName string) string
		JoinRoom(roomID, connID, displayName string, onJoin func(state model.VideoState, others []string)) error
		RemoveParticipant(connID string) (model.Departure, bool)
		Participant(connID string) (model.Participant, error)
		DisplayName(roomID, connID string) (string, error)
		Members(roomID string) ([]string, error)
		SetVideoSource(roomID, source, videoType, videoID string) error
		UpdatePlayback(roomID string, merge func(model.PlaybackState) model.PlaybackState) error
	}

	Relay interface {
		Connect(connID string, wire model.Wire)
		Disconnect(connID string)
		Send(ctx context.Context, connID string, env model.Envelope) bool
		Broadcast(ctx context.Context, env model.Envelope, dsts ...string)
	}

	// Service is the room/session coordination core: room lifecycle,
	// video sync, signaling relay and chat fan-out. It talks to the
	// transport boundary only through wires.
	Service struct {
		store    SessionStore
		relay    Relay
		playback PlaybackStrategy
		logger   zerolog.Logger
	}

	Config struct {
		Store    SessionStore
		Relay    Relay
		Playback PlaybackStrategy
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	playback := cfg.Playback
	if playback == nil {
		playback = LastWriteWins{}
	}
	return &Service{
		store:    cfg.Store,
		relay:    cfg.Relay,
		playback: playback,
		logger:   cfg.Logger.With().Str("component", "service").Logger(),
	}
}

// CreateSession registers the connection's wire and starts its
// dispatch loop. Events from one connection are handled in arrival
// order, one at a time.
func (svc *Service) CreateSession(ctx context.Context, connID string, wire model.Wire) error {
	if connID == "" {
		return ErrConnect
	}
	svc.relay.Connect(connID, wire)
	svc.logger.Debug().Str("connID", connID).Msg("session created")

	go svc.dispatchLoop(ctx, connID, wire.RX)
	return nil
}

// DeleteSession tears the connection down: wire unregistered, room
// membership removed, remaining members notified. Idempotent.
func (svc *Service) DeleteSession(ctx context.Context, connID string) error {
	svc.relay.Disconnect(connID)

	dep, ok := svc.store.RemoveParticipant(connID)
	if !ok {
		return nil
	}
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", dep.Participant.RoomID).
		Bool("roomDestroyed", dep.RoomDestroyed).
		Msg("session deleted")

	if dep.RoomDestroyed {
		return nil
	}
	svc.relay.Broadcast(ctx, model.NewEnvelope(model.EventUserDisconnected, model.PresencePayload{
		ConnectionID: connID,
		DisplayName:  dep.Participant.DisplayName,
	}), dep.Remaining...)
	return nil
}

func (svc *Service) dispatchLoop(ctx context.Context, connID string, rx <-chan model.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-rx:
			if !ok {
				return
			}
			svc.dispatch(ctx, connID, env)
		}
	}
}

func (svc *Service) dispatch(ctx context.Context, connID string, env model.Envelope) {
	if e := svc.logger.Trace(); e.Enabled() {
		e.Str("connID", connID).Str("envelope", spew.Sdump(env)).Msg("dispatching")
	}

	var err error
	switch env.Event {
	case model.EventCreateRoom:
		var p model.CreateRoomPayload
		if err = env.Decode(&p); err == nil {
			svc.handleCreateRoom(ctx, connID, p)
		}
	case model.EventJoinRoom:
		var p model.JoinRoomPayload
		if err = env.Decode(&p); err == nil {
			svc.handleJoinRoom(ctx, connID, p)
		}
	case model.EventSignal:
		var p model.SignalPayload
		if err = env.Decode(&p); err == nil {
			svc.handleSignal(ctx, connID, p)
		}
	case model.EventGetUsername:
		var p model.GetUsernamePayload
		if err = env.Decode(&p); err == nil {
			svc.handleGetUsername(ctx, connID, p)
		}
	case model.EventChatMessage:
		var p model.ChatMessagePayload
		if err = env.Decode(&p); err == nil {
			svc.handleChatMessage(ctx, connID, p)
		}
	case model.EventVideoState:
		var p model.VideoStatePayload
		if err = env.Decode(&p); err == nil {
			svc.handleVideoState(ctx, connID, p)
		}
	case model.EventVideoSource:
		var p model.VideoSourcePayload
		if err = env.Decode(&p); err == nil {
			svc.handleVideoSource(ctx, connID, p)
		}
	default:
		svc.logger.Debug().
			Str("connID", connID).
			Str("event", env.Event).
			Msg("unknown event")
	}
	if err != nil {
		svc.logger.Debug().Err(err).Str("connID", connID).Msg("event rejected")
	}
}

func (svc *Service) handleCreateRoom(ctx context.Context, connID string, p model.CreateRoomPayload) {
	roomID := svc.store.CreateRoom(connID, p.DisplayName)
	svc.logger.Info().
		Str("roomID", roomID).
		Str("displayName", p.DisplayName).
		Msg("room created")

	svc.relay.Send(ctx, connID, model.NewEnvelope(model.EventRoomCreated, model.RoomCreatedPayload{
		RoomID: roomID,
	}))
}

func (svc *Service) handleJoinRoom(ctx context.Context, connID string, p model.JoinRoomPayload) {
	var members []string
	// The confirmation and the late-joiner snapshot (exactly one
	// source event and one state event, only when a source has been
	// loaded) are emitted inside the store's join critical section:
	// no live event can list the joiner before these are on its wire.
	err := svc.store.JoinRoom(p.RoomID, connID, p.DisplayName, func(state model.VideoState, others []string) {
		members = others
		svc.relay.Send(ctx, connID, model.NewEnvelope(model.EventRoomJoined, model.RoomJoinedPayload{
			RoomID: p.RoomID,
		}))
		if state.Source == "" {
			return
		}
		svc.relay.Send(ctx, connID, model.NewEnvelope(model.EventVideoSource, model.VideoSourcePayload{
			Type:      "url",
			Source:    state.Source,
			VideoType: state.VideoType,
			VideoID:   state.VideoID,
		}))
		svc.relay.Send(ctx, connID, model.NewEnvelope(model.EventVideoState, model.VideoStatePayload{
			IsPlaying:   state.IsPlaying,
			CurrentTime: state.CurrentTime,
			VideoType:   state.VideoType,
		}))
	})
	if err != nil {
		svc.relay.Send(ctx, connID, model.NewEnvelope(model.EventRoomJoinError, model.RoomJoinErrorPayload{
			Message: "Room does not exist",
		}))
		return
	}
	svc.logger.Info().
		Str("roomID", p.RoomID).
		Str("displayName", p.DisplayName).
		Msg("user joined room")

	svc.relay.Broadcast(ctx, model.NewEnvelope(model.EventUserConnected, model.PresencePayload{
		ConnectionID: connID,
		DisplayName:  p.DisplayName,
	}), members...)
}

// handleSignal forwards the opaque negotiation blob to the target
// connection, tagged with the sender's id. No delivery guarantee.
func (svc *Service) handleSignal(ctx context.Context, connID string, p model.SignalPayload) {
	sent := svc.relay.Send(ctx, p.TargetConnectionID, model.NewEnvelope(model.EventReceiveSignal, model.ReceiveSignalPayload{
		ConnectionID: connID,
		Payload:      p.Payload,
	}))
	if !sent {
		svc.logger.Debug().
			Str("src", connID).
			Str("dst", p.TargetConnectionID).
			Msg("signal dropped")
	}
}

// handleGetUsername resolves a peer's display name within the
// requester's room. Unknown ids are silently dropped; a peer
// connection can legitimately arrive before membership events do.
func (svc *Service) handleGetUsername(ctx context.Context, connID string, p model.GetUsernamePayload) {
	part, err := svc.store.Participant(connID)
	if err != nil {
		return
	}
	name, err := svc.store.DisplayName(part.RoomID, p.ConnectionID)
	if err != nil {
		return
	}
	svc.relay.Send(ctx, connID, model.NewEnvelope(model.EventUsernameResponse, model.UsernameResponsePayload{
		DisplayName: name,
	}))
}

func (svc *Service) handleChatMessage(ctx context.Context, connID string, p model.ChatMessagePayload) {
	part, others, ok := svc.senderRoom(connID, p.RoomID)
	if !ok {
		return
	}
	svc.relay.Broadcast(ctx, model.NewEnvelope(model.EventChatMessage, model.ChatBroadcastPayload{
		DisplayName: part.DisplayName,
		Text:        p.Text,
	}), others...)
}

// senderRoom validates that the sender is a participant and that the
// advisory roomId (when present) matches the sender's actual room.
// It returns the other members of that room.
func (svc *Service) senderRoom(connID, advisoryRoomID string) (model.Participant, []string, bool) {
	part, err := svc.store.Participant(connID)
	if err != nil {
		return model.Participant{}, nil, false
	}
	if advisoryRoomID != "" && advisoryRoomID != part.RoomID {
		return model.Participant{}, nil, false
	}
	members, err := svc.store.Members(part.RoomID)
	if err != nil {
		return model.Participant{}, nil, false
	}
	others := members[:0:0]
	for _, id := range members {
		if id != connID {
			others = append(others, id)
		}
	}
	return part, others, true
}
