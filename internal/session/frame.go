package session

import (
	"encoding/json"
	"strconv"

	"github.com/buger/jsonparser"
)

const (
	FrameCommand = "command"
	FrameReply   = "reply"
	FrameEvent   = "event"
)

// Push actions sent to every session.
const (
	ActionPlayState = "OnPlayState"
	ActionProgress  = "OnProgress"
)

// Frame is one message on a control session.
type Frame struct {
	Type   string          `json:"type"`
	Seq    int64           `json:"seq"`
	Action string          `json:"action"`
	Body   json.RawMessage `json:"body,omitempty"`
}

var emptyBody = json.RawMessage(`{}`)

func reply(req Frame, body json.RawMessage) Frame {
	if body == nil {
		body = emptyBody
	}
	return Frame{Type: FrameReply, Seq: req.Seq, Action: req.Action, Body: body}
}

// intField reads key as an integer whether the peer sent a number or a
// numeric string. Missing or malformed values read as zero.
func intField(body []byte, keys ...string) int64 {
	v, typ, _, err := jsonparser.Get(body, keys...)
	if err != nil {
		return 0
	}
	switch typ {
	case jsonparser.Number:
		if i, err := jsonparser.ParseInt(v); err == nil {
			return i
		}
		if f, err := jsonparser.ParseFloat(v); err == nil {
			return int64(f)
		}
	case jsonparser.String:
		if i, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func floatField(body []byte, keys ...string) float64 {
	v, typ, _, err := jsonparser.Get(body, keys...)
	if err != nil {
		return 0
	}
	switch typ {
	case jsonparser.Number:
		f, _ := jsonparser.ParseFloat(v)
		return f
	case jsonparser.String:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	}
	return 0
}

func boolField(body []byte, keys ...string) bool {
	v, typ, _, err := jsonparser.Get(body, keys...)
	if err != nil {
		return false
	}
	switch typ {
	case jsonparser.Boolean:
		b, _ := jsonparser.ParseBoolean(v)
		return b
	case jsonparser.Number:
		f, _ := jsonparser.ParseFloat(v)
		return f != 0
	case jsonparser.String:
		b, _ := strconv.ParseBool(string(v))
		return b
	}
	return false
}

func stringField(body []byte, keys ...string) string {
	s, err := jsonparser.GetString(body, keys...)
	if err != nil {
		return ""
	}
	return s
}

// objectField returns the raw JSON object at keys. An object encoded as a
// JSON string is unwrapped.
func objectField(body []byte, keys ...string) []byte {
	v, typ, _, err := jsonparser.Get(body, keys...)
	if err != nil {
		return nil
	}
	switch typ {
	case jsonparser.Object:
		return v
	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			return nil
		}
		return []byte(s)
	}
	return nil
}
