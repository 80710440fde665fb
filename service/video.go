package service

import (
	"context"

	"watchparty/model"
)

// handleVideoState applies a play/pause/seek report through the
// playback strategy and fans the raw values out to the other members.
// Receivers compare the videoType tag against their current player
// and ignore stale updates; the server does no filtering.
func (svc *Service) handleVideoState(ctx context.Context, connID string, p model.VideoStatePayload) {
	part, others, ok := svc.senderRoom(connID, p.RoomID)
	if !ok {
		return
	}
	incoming := model.PlaybackState{
		IsPlaying:   p.IsPlaying,
		CurrentTime: p.CurrentTime,
		VideoType:   p.VideoType,
	}
	err := svc.store.UpdatePlayback(part.RoomID, func(current model.PlaybackState) model.PlaybackState {
		return svc.playback.Merge(current, incoming)
	})
	if err != nil {
		return
	}
	svc.relay.Broadcast(ctx, model.NewEnvelope(model.EventVideoState, model.VideoStatePayload{
		IsPlaying:   p.IsPlaying,
		CurrentTime: p.CurrentTime,
		VideoType:   p.VideoType,
	}), others...)
}

// handleVideoSource replaces the room's video source and rebroadcasts
// the normalized event. Playback state always restarts on a source
// change; the originator applied it locally and is excluded.
func (svc *Service) handleVideoSource(ctx context.Context, connID string, p model.VideoSourcePayload) {
	part, others, ok := svc.senderRoom(connID, p.RoomID)
	if !ok {
		return
	}
	if err := svc.store.SetVideoSource(part.RoomID, p.Source, p.VideoType, p.VideoID); err != nil {
		return
	}
	svc.logger.Info().
		Str("roomID", part.RoomID).
		Str("videoType", p.VideoType).
		Msg("video source changed")

	svc.relay.Broadcast(ctx, model.NewEnvelope(model.EventVideoSource, model.VideoSourcePayload{
		Type:      p.Type,
		Source:    p.Source,
		VideoType: p.VideoType,
		VideoID:   p.VideoID,
	}), others...)
}
