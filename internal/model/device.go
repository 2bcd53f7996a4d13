package model

import (
	"fmt"
	"time"
)

// DeviceStatus is the lifecycle state of a remote cast-capable device.
type DeviceStatus string

const (
	StatusAvailable    DeviceStatus = "available"
	StatusConnecting   DeviceStatus = "connecting"
	StatusConnected    DeviceStatus = "connected"
	StatusPlaying      DeviceStatus = "playing"
	StatusPaused       DeviceStatus = "paused"
	StatusDisconnected DeviceStatus = "disconnected"
	StatusError        DeviceStatus = "error"
)

// legalTransitions lists every edge of the device state machine. Staying in
// the same state is handled separately and never recorded as a transition.
var legalTransitions = map[DeviceStatus][]DeviceStatus{
	StatusAvailable:    {StatusConnecting, StatusError},
	StatusConnecting:   {StatusConnected, StatusDisconnected, StatusError},
	StatusConnected:    {StatusPlaying, StatusPaused, StatusDisconnected, StatusError},
	StatusPlaying:      {StatusPaused, StatusConnected, StatusDisconnected, StatusError},
	StatusPaused:       {StatusPlaying, StatusConnected, StatusDisconnected, StatusError},
	StatusDisconnected: {StatusConnecting},
	StatusError:        {StatusConnecting, StatusDisconnected},
}

// ParseDeviceStatus maps a wire string onto a known status.
func ParseDeviceStatus(s string) (DeviceStatus, bool) {
	st := DeviceStatus(s)
	_, ok := legalTransitions[st]
	return st, ok
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s DeviceStatus) CanTransition(next DeviceStatus) bool {
	for _, to := range legalTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends a session.
func (s DeviceStatus) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

type Capabilities struct {
	VideoCodecs     []string   `json:"videoCodecs"`
	AudioCodecs     []string   `json:"audioCodecs"`
	MaxResolution   Resolution `json:"maxResolution"`
	HDR             bool       `json:"hdr"`
	Dolby           bool       `json:"dolby"`
	ProtocolVersion string     `json:"protocolVersion"`
}

// DefaultCapabilities is assumed for devices whose discovery reply does not
// advertise any.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		VideoCodecs:     []string{"H.264", "H.265"},
		AudioCodecs:     []string{"AAC", "MP3"},
		MaxResolution:   Resolution{Width: 1920, Height: 1080},
		ProtocolVersion: "1.0",
	}
}

// DeviceKind tells which protocol family a discovered device speaks.
type DeviceKind string

const (
	// KindCloudTV devices speak the JSON frame protocol over TCP.
	KindCloudTV DeviceKind = "cloudtv"
	// KindReceiver devices expose the /cast HTTP routes.
	KindReceiver DeviceKind = "receiver"
	// KindRenderer devices are plain DLNA MediaRenderers.
	KindRenderer DeviceKind = "dlna"
)

type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Model        string       `json:"model"`
	Address      string       `json:"address"`
	Port         int          `json:"port"`
	Kind         DeviceKind   `json:"kind"`
	Location     string       `json:"location,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	Status       DeviceStatus `json:"status"`
	LastSeen     time.Time    `json:"lastSeen"`
}

// HostPort returns the address to dial.
func (d Device) HostPort() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// DeviceEvent is published whenever a device changes status.
type DeviceEvent struct {
	Device Device
	Status DeviceStatus
	Err    error
}
