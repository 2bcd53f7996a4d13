package device

import (
	"time"

	"github.com/tr1v3r/castlink/internal/model"
)

const (
	frameAuth             = "auth"
	frameGetPlaybackState = "getPlaybackState"
	framePlaybackState    = "playbackState"
	frameStatusChange     = "statusChange"

	// maxFrameSize bounds a single newline-delimited frame.
	maxFrameSize = 1 << 20
)

// frame is the outbound wire shape. Zero fields are left out so each type
// carries only its own fields.
type frame struct {
	Type      string               `json:"type"`
	DeviceID  string               `json:"deviceId,omitempty"`
	Timestamp float64              `json:"timestamp"`
	RequestID string               `json:"requestId,omitempty"`
	Version   string               `json:"version,omitempty"`
	Client    string               `json:"client,omitempty"`
	URL       string               `json:"url,omitempty"`
	Title     string               `json:"title,omitempty"`
	Metadata  *model.VideoMetadata `json:"metadata,omitempty"`
	Position  *float64             `json:"position,omitempty"`
	Volume    *float64             `json:"volume,omitempty"`
	Rate      *float64             `json:"rate,omitempty"`
	RoomID    int64                `json:"roomId,omitempty"`
}

func commandFrame(deviceID string, cmd model.CastCommand) frame {
	f := frame{Type: string(cmd.Kind), DeviceID: deviceID}
	switch cmd.Kind {
	case model.CmdPlay:
		f.URL, f.Title, f.Metadata = cmd.URL, cmd.Title, cmd.Metadata
	case model.CmdPlayContent:
		f.Title, f.Metadata = cmd.Title, cmd.Metadata
	case model.CmdPlayLive:
		f.RoomID = cmd.RoomID
	case model.CmdSeek:
		f.Position = &cmd.Position
	case model.CmdSetVolume:
		f.Volume = &cmd.Level
	case model.CmdSetPlaybackRate:
		f.Rate = &cmd.Rate
	}
	return f
}

// timestamp is seconds since the epoch with sub-second precision.
func timestamp() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
