package model

// VideoMetadata describes app content carried by Play and app-specific casts.
type VideoMetadata struct {
	ContentID      int64  `json:"aid"`
	PartID         int64  `json:"cid"`
	EpisodeID      int64  `json:"epid,omitempty"`
	Title          string `json:"title"`
	Uploader       string `json:"upName,omitempty"`
	CoverURL       string `json:"coverUrl,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	StartPosition  int    `json:"currentPosition,omitempty"`
	DanmakuEnabled bool   `json:"danmakuEnabled"`
}

// PlaybackState is an immutable snapshot of playback.
type PlaybackState struct {
	Position       float64      `json:"currentPosition"`
	Duration       float64      `json:"duration"`
	Status         DeviceStatus `json:"status"`
	Volume         float64      `json:"volume"`
	Rate           float64      `json:"playbackRate"`
	BufferProgress float64      `json:"bufferProgress"`
}

// PlayState is the play-state enum pushed to control sessions.
type PlayState int

const (
	PlayStateLoading PlayState = 3
	PlayStatePlaying PlayState = 4
	PlayStatePaused  PlayState = 5
	PlayStateEnded   PlayState = 6
	PlayStateStopped PlayState = 7
)

func (p PlayState) String() string {
	switch p {
	case PlayStateLoading:
		return "loading"
	case PlayStatePlaying:
		return "playing"
	case PlayStatePaused:
		return "paused"
	case PlayStateEnded:
		return "ended"
	case PlayStateStopped:
		return "stopped"
	}
	return "unknown"
}

// CastSource attributes an incoming cast.
type CastSource string

const (
	SourceAirPlay   CastSource = "AirPlay"
	SourceCompanion CastSource = "Bilibili App"
	SourcePeerTV    CastSource = "Peer TV"
	SourceOther     CastSource = "Other"
)

// CastingState is published whenever the receiver starts or stops receiving.
type CastingState struct {
	Receiving bool       `json:"isReceiving"`
	Source    CastSource `json:"source"`
}

// FeatureEvent reports a component becoming available or unavailable.
type FeatureEvent struct {
	Feature   string
	Available bool
	Err       error
}
