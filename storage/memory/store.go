package memory

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"watchparty/model"
)

const roomIDLength = 8

var (
	ErrRoomNotFound        = errors.New("room is not found")
	ErrParticipantNotFound = errors.New("participant is not found")
)

// MemStore holds all live rooms and participants. Mutations are
// serialized by the mutex, so each message handler observes and
// leaves a consistent state.
type MemStore struct {
	mx           *sync.Mutex
	rooms        map[string]*model.Room
	participants map[string]model.Participant
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:           &sync.Mutex{},
		rooms:        make(map[string]*model.Room),
		participants: make(map[string]model.Participant),
	}
}

// CreateRoom mints a fresh room with the requester as sole member and
// returns the room id. Id collisions are retried, never overwritten.
// A connection already in some room is evicted from it first.
func (ms *MemStore) CreateRoom(connID, displayName string) string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.evictLocked(connID)

	var roomID string
	for {
		roomID = uuid.NewString()[:roomIDLength]
		if _, ok := ms.rooms[roomID]; !ok {
			break
		}
	}

	ms.rooms[roomID] = &model.Room{
		ID: roomID,
		Members: map[string]model.Member{
			connID: {DisplayName: displayName},
		},
	}
	ms.participants[connID] = model.Participant{
		ConnectionID: connID,
		RoomID:       roomID,
		DisplayName:  displayName,
	}
	return roomID
}

// JoinRoom adds the connection to an existing room. The onJoin
// callback receives a copy of the room's video state and the ids of
// the members present before the join, and runs while the mutex is
// still held — the membership change is not yet visible to any other
// handler, so nothing the callback emits can be outrun by a live
// event. A connection already in another room is evicted from it
// first.
func (ms *MemStore) JoinRoom(roomID, connID, displayName string, onJoin func(state model.VideoState, others []string)) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if part, ok := ms.participants[connID]; ok && part.RoomID != roomID {
		ms.evictLocked(connID)
	}

	others := make([]string, 0, len(room.Members))
	for id := range room.Members {
		if id != connID {
			others = append(others, id)
		}
	}

	room.Members[connID] = model.Member{DisplayName: displayName}
	ms.participants[connID] = model.Participant{
		ConnectionID: connID,
		RoomID:       roomID,
		DisplayName:  displayName,
	}
	if onJoin != nil {
		onJoin(room.VideoState, others)
	}
	return nil
}

// evictLocked drops the connection from whatever room it currently
// occupies, destroying the room when it was the last member. Callers
// hold the mutex.
func (ms *MemStore) evictLocked(connID string) {
	part, ok := ms.participants[connID]
	if !ok {
		return
	}
	if room, ok := ms.rooms[part.RoomID]; ok {
		delete(room.Members, connID)
		if len(room.Members) == 0 {
			delete(ms.rooms, part.RoomID)
		}
	}
	delete(ms.participants, connID)
}

// RemoveParticipant drops the connection from its room, destroying
// the room when it was the last member. It is a no-op for unknown
// connections, reported by the second return value.
func (ms *MemStore) RemoveParticipant(connID string) (model.Departure, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	part, ok := ms.participants[connID]
	if !ok {
		return model.Departure{}, false
	}
	delete(ms.participants, connID)

	dep := model.Departure{Participant: part}
	room, ok := ms.rooms[part.RoomID]
	if !ok {
		return dep, true
	}

	delete(room.Members, connID)
	if len(room.Members) == 0 {
		delete(ms.rooms, part.RoomID)
		dep.RoomDestroyed = true
		return dep, true
	}

	dep.Remaining = make([]string, 0, len(room.Members))
	for id := range room.Members {
		dep.Remaining = append(dep.Remaining, id)
	}
	return dep, true
}

func (ms *MemStore) Participant(connID string) (model.Participant, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	part, ok := ms.participants[connID]
	if !ok {
		return model.Participant{}, ErrParticipantNotFound
	}
	return part, nil
}

// DisplayName resolves a member's name within one room only.
func (ms *MemStore) DisplayName(roomID, connID string) (string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}
	member, ok := room.Members[connID]
	if !ok {
		return "", ErrParticipantNotFound
	}
	return member.DisplayName, nil
}

// Members lists the connection ids currently in the room.
func (ms *MemStore) Members(roomID string) ([]string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	ids := make([]string, 0, len(room.Members))
	for id := range room.Members {
		ids = append(ids, id)
	}
	return ids, nil
}

func (ms *MemStore) HasRoom(roomID string) bool {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	_, ok := ms.rooms[roomID]
	return ok
}

// SetVideoSource replaces the room's video source. Changing the
// source always restarts playback state.
func (ms *MemStore) SetVideoSource(roomID, source, videoType, videoID string) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.VideoState = model.VideoState{
		Source:    source,
		VideoType: videoType,
		VideoID:   videoID,
	}
	return nil
}

// UpdatePlayback reconciles an incoming playback report with the
// room's current state through the supplied merge function. A room
// that never loaded a source keeps its default stopped state.
func (ms *MemStore) UpdatePlayback(roomID string, merge func(model.PlaybackState) model.PlaybackState) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.VideoState.Source == "" {
		return nil
	}
	merged := merge(model.PlaybackState{
		IsPlaying:   room.VideoState.IsPlaying,
		CurrentTime: room.VideoState.CurrentTime,
		VideoType:   room.VideoState.VideoType,
	})
	room.VideoState.IsPlaying = merged.IsPlaying
	room.VideoState.CurrentTime = merged.CurrentTime
	room.VideoState.VideoType = merged.VideoType
	return nil
}

// VideoState returns a copy of the room's current video state.
func (ms *MemStore) VideoState(roomID string) (model.VideoState, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.rooms[roomID]
	if !ok {
		return model.VideoState{}, ErrRoomNotFound
	}
	return room.VideoState, nil
}
