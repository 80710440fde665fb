package model

// Video types known to the room player. Anything else is rejected
// on source change.
const (
	VideoTypeDirect  = "direct"
	VideoTypeYouTube = "youtube"
	VideoTypeVimeo   = "vimeo"
)

func KnownVideoType(t string) bool {
	switch t {
	case VideoTypeDirect, VideoTypeYouTube, VideoTypeVimeo:
		return true
	}
	return false
}

// VideoState is the room's authoritative playback record.
// Empty Source means no video has ever been loaded.
type VideoState struct {
	Source      string  `json:"source"`
	VideoType   string  `json:"video_type"`
	VideoID     string  `json:"video_id"`
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
}

// PlaybackState is the play/pause/seek slice of VideoState that
// members report and the merge strategy reconciles.
type PlaybackState struct {
	IsPlaying   bool
	CurrentTime float64
	VideoType   string
}

type Member struct {
	DisplayName string `json:"display_name"`
}

type Room struct {
	ID         string            `json:"room_id"`
	Members    map[string]Member `json:"members"` // keyed by connection id
	VideoState VideoState        `json:"video_state"`
}

// Participant ties a live connection to its room and identity.
type Participant struct {
	ConnectionID string
	RoomID       string
	DisplayName  string
}

// Departure describes the outcome of a member leaving its room.
type Departure struct {
	Participant   Participant
	Remaining     []string // connection ids still in the room
	RoomDestroyed bool
}
