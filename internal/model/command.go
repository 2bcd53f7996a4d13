package model

import "fmt"

// CommandKind tags the CastCommand union. The string values are the wire
// "type" of outbound device command frames.
type CommandKind string

const (
	CmdPlay            CommandKind = "play"
	CmdPause           CommandKind = "pause"
	CmdResume          CommandKind = "resume"
	CmdStop            CommandKind = "stop"
	CmdSeek            CommandKind = "seek"
	CmdSetVolume       CommandKind = "setVolume"
	CmdSetPlaybackRate CommandKind = "setPlaybackRate"
	// CmdPlayContent plays app content identified by ids rather than a URL.
	CmdPlayContent CommandKind = "playContent"
	// CmdPlayLive opens a live room.
	CmdPlayLive CommandKind = "playLive"
)

// CastCommand is one decoded playback instruction. Only the fields relevant
// to Kind are meaningful; use the constructors below.
type CastCommand struct {
	Kind     CommandKind
	URL      string
	Title    string
	Metadata *VideoMetadata
	Position float64
	Level    float64
	Rate     float64
	RoomID   int64
}

func Play(url, title string, meta *VideoMetadata) CastCommand {
	return CastCommand{Kind: CmdPlay, URL: url, Title: title, Metadata: meta}
}
func Pause() CastCommand                  { return CastCommand{Kind: CmdPause} }
func Resume() CastCommand                 { return CastCommand{Kind: CmdResume} }
func Stop() CastCommand                   { return CastCommand{Kind: CmdStop} }
func Seek(position float64) CastCommand   { return CastCommand{Kind: CmdSeek, Position: position} }
func SetVolume(level float64) CastCommand { return CastCommand{Kind: CmdSetVolume, Level: level} }
func SetPlaybackRate(rate float64) CastCommand {
	return CastCommand{Kind: CmdSetPlaybackRate, Rate: rate}
}
func PlayContent(meta VideoMetadata) CastCommand {
	return CastCommand{Kind: CmdPlayContent, Title: meta.Title, Metadata: &meta}
}
func PlayLive(roomID int64) CastCommand { return CastCommand{Kind: CmdPlayLive, RoomID: roomID} }

// ImpliedStatus is the device status a command implies once sent, if any.
func (c CastCommand) ImpliedStatus() (DeviceStatus, bool) {
	switch c.Kind {
	case CmdPlay, CmdResume:
		return StatusPlaying, true
	case CmdPause:
		return StatusPaused, true
	case CmdStop:
		return StatusConnected, true
	}
	return "", false
}

func (c CastCommand) String() string {
	switch c.Kind {
	case CmdPlay:
		return fmt.Sprintf("play(%s)", c.URL)
	case CmdSeek:
		return fmt.Sprintf("seek(%.1f)", c.Position)
	case CmdSetVolume:
		return fmt.Sprintf("setVolume(%.2f)", c.Level)
	case CmdSetPlaybackRate:
		return fmt.Sprintf("setPlaybackRate(%.2f)", c.Rate)
	case CmdPlayContent:
		if c.Metadata != nil {
			return fmt.Sprintf("playContent(aid=%d cid=%d epid=%d)", c.Metadata.ContentID, c.Metadata.PartID, c.Metadata.EpisodeID)
		}
	case CmdPlayLive:
		return fmt.Sprintf("playLive(%d)", c.RoomID)
	}
	return string(c.Kind)
}
