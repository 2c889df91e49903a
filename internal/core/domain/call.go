package domain

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

// Kinds lists the media kinds a call of this type sends.
func (t CallType) Kinds() []MediaKind {
	if t == CallVideo {
		return []MediaKind{KindAudio, KindVideo}
	}
	return []MediaKind{KindAudio}
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

type CallState int

const (
	StateIdle CallState = iota
	StateOutgoing
	StateIncoming
	StateActive
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoing:
		return "outgoing"
	case StateIncoming:
		return "incoming"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// RemoteUser is the counterpart of a call as far as the client knows it.
type RemoteUser struct {
	ID     UserID `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}
