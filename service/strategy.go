package service

import "watchparty/model"

// PlaybackStrategy reconciles an incoming playback report with the
// room's current playback state. The relay logic never depends on a
// particular policy; swapping the strategy does not touch it.
type PlaybackStrategy interface {
	Merge(current, incoming model.PlaybackState) model.PlaybackState
}

// LastWriteWins is the default policy: whichever report arrives last
// at the server overwrites the room state unconditionally. Rapid
// concurrent seeks by two members can interleave inconsistently;
// that is accepted, not corrected.
type LastWriteWins struct{}

func (LastWriteWins) Merge(_, incoming model.PlaybackState) model.PlaybackState {
	return incoming
}
