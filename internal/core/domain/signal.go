package domain

import "encoding/json"

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Body is the payload of every signaling event. Which fields are set depends
// on the event, see the vocabulary table.
type Body struct {
	TargetUserID UserID              `json:"targetUserId,omitempty"`
	CallerUserID UserID              `json:"callerUserId,omitempty"`
	FromUserID   UserID              `json:"fromUserId,omitempty"`
	CallType     CallType            `json:"callType,omitempty"`
	Offer        *SessionDescription `json:"offerSdp,omitempty"`
	Answer       *SessionDescription `json:"answerSdp,omitempty"`
	Candidate    *ICECandidate       `json:"candidate,omitempty"`
	Caller       *RemoteUser         `json:"caller,omitempty"`
}

// Target returns the addressee of an outbound event.
func (b Body) Target() UserID {
	if b.TargetUserID != "" {
		return b.TargetUserID
	}
	return b.CallerUserID
}

// Envelope is a decoded signaling message. From is set by whoever decoded it
// from a trusted source, never by the sender.
type Envelope struct {
	Event Event
	From  UserID
	Body  Body
}

// Frame is the wire representation: one JSON text message per frame.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewFrame(wireName string, body Body) (Frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: wireName, Payload: raw}, nil
}

func (f Frame) Decode() (Body, error) {
	var b Body
	if len(f.Payload) == 0 {
		return b, nil
	}
	err := json.Unmarshal(f.Payload, &b)
	return b, err
}
