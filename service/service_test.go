package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty/model"
	"watchparty/relay"
	"watchparty/service"
	"watchparty/storage/memory"
)

type fixture struct {
	ctx   context.Context
	store *memory.MemStore
	svc   *service.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.Nop()
	store := memory.NewMemStore()
	svc := service.NewService(service.Config{
		Store:  store,
		Relay:  relay.NewRelay(&logger),
		Logger: &logger,
	})
	return &fixture{ctx: ctx, store: store, svc: svc}
}

// client is a fake transport endpoint: a wire plus a drainer that
// buffers everything the core emits towards this connection.
type client struct {
	id   string
	wire model.Wire
	out  chan model.Envelope
}

func (f *fixture) connect(t *testing.T, id string) *client {
	t.Helper()
	wire := model.NewWire()
	require.NoError(t, f.svc.CreateSession(f.ctx, id, wire))

	out := make(chan model.Envelope, 32)
	go func() {
		for {
			select {
			case env := <-wire.TX:
				out <- env
			case <-f.ctx.Done():
				return
			}
		}
	}()
	return &client{id: id, wire: wire, out: out}
}

func (f *fixture) disconnect(t *testing.T, c *client) {
	t.Helper()
	require.NoError(t, f.svc.DeleteSession(f.ctx, c.id))
}

func (f *fixture) createRoom(t *testing.T, c *client, displayName string) string {
	t.Helper()
	c.send(t, model.EventCreateRoom, model.CreateRoomPayload{DisplayName: displayName})
	created := decode[model.RoomCreatedPayload](t, c.recv(t, model.EventRoomCreated))
	require.Len(t, created.RoomID, 8)
	return created.RoomID
}

func (c *client) send(t *testing.T, event string, payload any) {
	t.Helper()
	select {
	case c.wire.RX <- model.NewEnvelope(event, payload):
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out sending %s", event)
	}
}

func (c *client) recv(t *testing.T, wantEvent string) model.Envelope {
	t.Helper()
	select {
	case env := <-c.out:
		require.Equal(t, wantEvent, env.Event)
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", wantEvent)
		return model.Envelope{}
	}
}

func (c *client) recvNone(t *testing.T) {
	t.Helper()
	select {
	case env := <-c.out:
		t.Fatalf("unexpected %s event", env.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func decode[T any](t *testing.T, env model.Envelope) T {
	t.Helper()
	var p T
	require.NoError(t, env.Decode(&p))
	return p
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t)
	ann := f.connect(t, "conn-ann")

	roomID := f.createRoom(t, ann, "Ann")
	assert.True(t, f.store.HasRoom(roomID))

	// sole member, so nobody else is notified
	ann.recvNone(t)
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, "conn-bob")

	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: "nope1234", DisplayName: "Bob"})
	joinErr := decode[model.RoomJoinErrorPayload](t, bob.recv(t, model.EventRoomJoinError))
	assert.Equal(t, "Room does not exist", joinErr.Message)

	assert.False(t, f.store.HasRoom("nope1234"))
	_, err := f.store.Participant("conn-bob")
	assert.ErrorIs(t, err, memory.ErrParticipantNotFound)

	// the connection stays usable after a failed join
	roomID := f.createRoom(t, bob, "Bob")
	assert.True(t, f.store.HasRoom(roomID))
}

func TestWatchPartyScenario(t *testing.T) {
	f := newFixture(t)

	ann := f.connect(t, "conn-ann")
	roomID := f.createRoom(t, ann, "Ann")

	// Bob joins: Ann is notified, Bob gets no snapshot (no source yet)
	bob := f.connect(t, "conn-bob")
	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, DisplayName: "Bob"})
	joined := decode[model.RoomJoinedPayload](t, bob.recv(t, model.EventRoomJoined))
	assert.Equal(t, roomID, joined.RoomID)

	connected := decode[model.PresencePayload](t, ann.recv(t, model.EventUserConnected))
	assert.Equal(t, "conn-bob", connected.ConnectionID)
	assert.Equal(t, "Bob", connected.DisplayName)
	bob.recvNone(t)

	// Ann loads a YouTube video
	ann.send(t, model.EventVideoSource, model.VideoSourcePayload{
		RoomID:    roomID,
		Type:      "url",
		Source:    "https://youtu.be/dQw4w9WgXcQ",
		VideoType: model.VideoTypeYouTube,
		VideoID:   "dQw4w9WgXcQ",
	})
	source := decode[model.VideoSourcePayload](t, bob.recv(t, model.EventVideoSource))
	assert.Equal(t, model.VideoTypeYouTube, source.VideoType)
	assert.Equal(t, "dQw4w9WgXcQ", source.VideoID)
	ann.recvNone(t)

	state, err := f.store.VideoState(roomID)
	require.NoError(t, err)
	assert.False(t, state.IsPlaying)
	assert.Zero(t, state.CurrentTime)

	// Ann leaves: Bob is notified, the room survives
	f.disconnect(t, ann)
	left := decode[model.PresencePayload](t, bob.recv(t, model.EventUserDisconnected))
	assert.Equal(t, "conn-ann", left.ConnectionID)
	assert.Equal(t, "Ann", left.DisplayName)
	assert.True(t, f.store.HasRoom(roomID))

	// Bob leaves: the room ceases to exist
	f.disconnect(t, bob)
	assert.False(t, f.store.HasRoom(roomID))
}

func TestLateJoinerSnapshot(t *testing.T) {
	f := newFixture(t)

	ann := f.connect(t, "conn-ann")
	roomID := f.createRoom(t, ann, "Ann")

	ann.send(t, model.EventVideoSource, model.VideoSourcePayload{
		Type:      "url",
		Source:    "https://vimeo.com/76979871",
		VideoType: model.VideoTypeVimeo,
		VideoID:   "76979871",
	})
	ann.send(t, model.EventVideoState, model.VideoStatePayload{
		IsPlaying:   true,
		CurrentTime: 42.5,
		VideoType:   model.VideoTypeVimeo,
	})

	bob := f.connect(t, "conn-bob")
	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, DisplayName: "Bob"})
	bob.recv(t, model.EventRoomJoined)

	// exactly one source snapshot followed by one state snapshot,
	// before any live event
	source := decode[model.VideoSourcePayload](t, bob.recv(t, model.EventVideoSource))
	assert.Equal(t, "https://vimeo.com/76979871", source.Source)
	assert.Equal(t, model.VideoTypeVimeo, source.VideoType)

	state := decode[model.VideoStatePayload](t, bob.recv(t, model.EventVideoState))
	assert.True(t, state.IsPlaying)
	assert.Equal(t, 42.5, state.CurrentTime)

	bob.recvNone(t)
}

func TestChatRelay(t *testing.T) {
	f := newFixture(t)

	ann := f.connect(t, "conn-ann")
	roomID := f.createRoom(t, ann, "Ann")
	bob := f.connect(t, "conn-bob")
	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, DisplayName: "Bob"})
	bob.recv(t, model.EventRoomJoined)
	ann.recv(t, model.EventUserConnected)

	ann.send(t, model.EventChatMessage, model.ChatMessagePayload{RoomID: roomID, Text: "hi there"})
	msg := decode[model.ChatBroadcastPayload](t, bob.recv(t, model.EventChatMessage))
	assert.Equal(t, "Ann", msg.DisplayName)
	assert.Equal(t, "hi there", msg.Text)
	ann.recvNone(t)

	t.Run("mismatched room id dropped", func(t *testing.T) {
		ann.send(t, model.EventChatMessage, model.ChatMessagePayload{RoomID: "other123", Text: "leak?"})
		bob.recvNone(t)
	})

	t.Run("non participant dropped", func(t *testing.T) {
		eve := f.connect(t, "conn-eve")
		eve.send(t, model.EventChatMessage, model.ChatMessagePayload{RoomID: roomID, Text: "hello"})
		bob.recvNone(t)
		ann.recvNone(t)
	})
}

func TestSignalRelay(t *testing.T) {
	f := newFixture(t)

	ann := f.connect(t, "conn-ann")
	roomID := f.createRoom(t, ann, "Ann")
	bob := f.connect(t, "conn-bob")
	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, DisplayName: "Bob"})
	bob.recv(t, model.EventRoomJoined)
	ann.recv(t, model.EventUserConnected)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)
	ann.send(t, model.EventSignal, model.SignalPayload{TargetConnectionID: "conn-bob", Payload: offer})

	sig := decode[model.ReceiveSignalPayload](t, bob.recv(t, model.EventReceiveSignal))
	assert.Equal(t, "conn-ann", sig.ConnectionID)
	assert.JSONEq(t, string(offer), string(sig.Payload))

	t.Run("disconnected target dropped silently", func(t *testing.T) {
		f.disconnect(t, bob)
		ann.recv(t, model.EventUserDisconnected)

		ann.send(t, model.EventSignal, model.SignalPayload{TargetConnectionID: "conn-bob", Payload: offer})
		ann.recvNone(t)
		assert.True(t, f.store.HasRoom(roomID), "a dropped signal must not touch room state")
	})
}

func TestGetUsername(t *testing.T) {
	f := newFixture(t)

	ann := f.connect(t, "conn-ann")
	roomID := f.createRoom(t, ann, "Ann")
	bob := f.connect(t, "conn-bob")
	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, DisplayName: "Bob"})
	bob.recv(t, model.EventRoomJoined)
	ann.recv(t, model.EventUserConnected)

	bob.send(t, model.EventGetUsername, model.GetUsernamePayload{ConnectionID: "conn-ann"})
	resp := decode[model.UsernameResponsePayload](t, bob.recv(t, model.EventUsernameResponse))
	assert.Equal(t, "Ann", resp.DisplayName)

	t.Run("peer outside the room", func(t *testing.T) {
		eve := f.connect(t, "conn-eve")
		f.createRoom(t, eve, "Eve")

		bob.send(t, model.EventGetUsername, model.GetUsernamePayload{ConnectionID: "conn-eve"})
		bob.recvNone(t)
	})

	t.Run("requester without a room", func(t *testing.T) {
		loner := f.connect(t, "conn-loner")
		loner.send(t, model.EventGetUsername, model.GetUsernamePayload{ConnectionID: "conn-ann"})
		loner.recvNone(t)
	})
}

func TestBoundaryRejections(t *testing.T) {
	f := newFixture(t)

	ann := f.connect(t, "conn-ann")
	roomID := f.createRoom(t, ann, "Ann")
	bob := f.connect(t, "conn-bob")
	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, DisplayName: "Bob"})
	bob.recv(t, model.EventRoomJoined)
	ann.recv(t, model.EventUserConnected)

	t.Run("unknown event ignored", func(t *testing.T) {
		select {
		case ann.wire.RX <- model.Envelope{Event: "mystery", Data: json.RawMessage(`{}`)}:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out sending")
		}
		bob.recvNone(t)
	})

	t.Run("unknown video type never reaches the room", func(t *testing.T) {
		ann.send(t, model.EventVideoSource, model.VideoSourcePayload{
			Type:      "url",
			Source:    "https://x/y.mp4",
			VideoType: "dailymotion",
		})
		bob.recvNone(t)

		state, err := f.store.VideoState(roomID)
		require.NoError(t, err)
		assert.Empty(t, state.Source)
	})

	t.Run("connection survives rejected input", func(t *testing.T) {
		ann.send(t, model.EventChatMessage, model.ChatMessagePayload{Text: "still here"})
		msg := decode[model.ChatBroadcastPayload](t, bob.recv(t, model.EventChatMessage))
		assert.Equal(t, "still here", msg.Text)
	})
}

func TestPlaybackLastWriteWins(t *testing.T) {
	f := newFixture(t)

	ann := f.connect(t, "conn-ann")
	roomID := f.createRoom(t, ann, "Ann")
	bob := f.connect(t, "conn-bob")
	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, DisplayName: "Bob"})
	bob.recv(t, model.EventRoomJoined)
	ann.recv(t, model.EventUserConnected)

	ann.send(t, model.EventVideoSource, model.VideoSourcePayload{
		Type: "url", Source: "https://x/y.mp4", VideoType: model.VideoTypeDirect,
	})
	bob.recv(t, model.EventVideoSource)

	ann.send(t, model.EventVideoState, model.VideoStatePayload{
		RoomID: roomID, IsPlaying: true, CurrentTime: 10, VideoType: model.VideoTypeDirect,
	})
	bob.recv(t, model.EventVideoState)

	bob.send(t, model.EventVideoState, model.VideoStatePayload{
		RoomID: roomID, IsPlaying: false, CurrentTime: 95.5, VideoType: model.VideoTypeDirect,
	})
	state := decode[model.VideoStatePayload](t, ann.recv(t, model.EventVideoState))
	assert.False(t, state.IsPlaying)
	assert.Equal(t, 95.5, state.CurrentTime)

	// whichever report arrived last owns the room state
	stored, err := f.store.VideoState(roomID)
	require.NoError(t, err)
	assert.False(t, stored.IsPlaying)
	assert.Equal(t, 95.5, stored.CurrentTime)
}

// joinHoldingStore parks the join handler after the store join
// completes, leaving a window for live events to race the snapshot.
type joinHoldingStore struct {
	*memory.MemStore
	joined  chan struct{}
	release chan struct{}
}

func (s *joinHoldingStore) JoinRoom(roomID, connID, displayName string, onJoin func(model.VideoState, []string)) error {
	err := s.MemStore.JoinRoom(roomID, connID, displayName, onJoin)
	if err == nil {
		s.joined <- struct{}{}
		<-s.release
	}
	return err
}

func TestJoinSnapshotPrecedesLiveEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.Nop()
	inner := memory.NewMemStore()
	holding := &joinHoldingStore{
		MemStore: inner,
		joined:   make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	f := &fixture{
		ctx:   ctx,
		store: inner,
		svc: service.NewService(service.Config{
			Store:  holding,
			Relay:  relay.NewRelay(&logger),
			Logger: &logger,
		}),
	}

	ann := f.connect(t, "conn-ann")
	roomID := f.createRoom(t, ann, "Ann")
	ann.send(t, model.EventVideoSource, model.VideoSourcePayload{
		Type: "url", Source: "https://x/y.mp4", VideoType: model.VideoTypeDirect,
	})
	ann.send(t, model.EventVideoState, model.VideoStatePayload{
		IsPlaying: true, CurrentTime: 42.5, VideoType: model.VideoTypeDirect,
	})

	bob := f.connect(t, "conn-bob")
	bob.send(t, model.EventJoinRoom, model.JoinRoomPayload{RoomID: roomID, DisplayName: "Bob"})
	<-holding.joined

	// Bob's join handler is parked mid-join; a live report from Ann
	// now races the snapshot and must still land behind it.
	ann.send(t, model.EventVideoState, model.VideoStatePayload{
		IsPlaying: false, CurrentTime: 99, VideoType: model.VideoTypeDirect,
	})
	require.Eventually(t, func() bool { return len(bob.out) >= 4 }, 2*time.Second, 10*time.Millisecond)
	close(holding.release)

	bob.recv(t, model.EventRoomJoined)
	source := decode[model.VideoSourcePayload](t, bob.recv(t, model.EventVideoSource))
	assert.Equal(t, "https://x/y.mp4", source.Source)

	snapshot := decode[model.VideoStatePayload](t, bob.recv(t, model.EventVideoState))
	assert.Equal(t, 42.5, snapshot.CurrentTime)

	live := decode[model.VideoStatePayload](t, bob.recv(t, model.EventVideoState))
	assert.Equal(t, 99.0, live.CurrentTime)
}

func TestLastWriteWinsMerge(t *testing.T) {
	current := model.PlaybackState{IsPlaying: true, CurrentTime: 10, VideoType: model.VideoTypeYouTube}
	incoming := model.PlaybackState{IsPlaying: false, CurrentTime: 3, VideoType: model.VideoTypeDirect}

	assert.Equal(t, incoming, service.LastWriteWins{}.Merge(current, incoming))
}
