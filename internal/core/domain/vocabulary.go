package domain

import (
	"fmt"
	"strings"
)

// Event is a logical signaling event. Each event has one current wire name
// and one or more legacy wire names carrying the same payload.
type Event string

const (
	EventInitiateCall    Event = "initiate-call"
	EventIncomingCall    Event = "incoming-call"
	EventAcceptCall      Event = "accept-call"
	EventCallAccepted    Event = "call-accepted"
	EventICECandidate    Event = "ice-candidate"
	EventNewICECandidate Event = "new-ice-candidate"
	EventEndCall         Event = "decline-or-end-call"
	EventCallTerminated  Event = "call-terminated"
	EventHeartbeat       Event = "heartbeat"
)

type Protocol int

const (
	ProtocolCurrent Protocol = iota
	ProtocolLegacy
)

func (p Protocol) String() string {
	if p == ProtocolLegacy {
		return "legacy"
	}
	return "current"
}

func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "current":
		return ProtocolCurrent, nil
	case "legacy":
		return ProtocolLegacy, nil
	}
	return ProtocolCurrent, fmt.Errorf("unknown signaling protocol %q", s)
}

type wireNames struct {
	current string
	legacy  []string
}

var vocabulary = map[Event]wireNames{
	EventInitiateCall:    {current: "initiate-call", legacy: []string{"call-user"}},
	EventIncomingCall:    {current: "incoming-call", legacy: []string{"call-made"}},
	EventAcceptCall:      {current: "accept-call", legacy: []string{"make-answer"}},
	EventCallAccepted:    {current: "call-accepted", legacy: []string{"answer-made"}},
	EventICECandidate:    {current: "ice-candidate", legacy: []string{"send-ice-candidate"}},
	EventNewICECandidate: {current: "new-ice-candidate", legacy: []string{"ice-candidate-received"}},
	EventEndCall:         {current: "end-call", legacy: []string{"reject-call", "hang-up"}},
	EventCallTerminated:  {current: "call-terminated", legacy: []string{"call-ended"}},
	EventHeartbeat:       {current: "heartbeat", legacy: []string{"ping-presence"}},
}

// relayed maps a client-to-relay event onto the event the counterpart receives.
var relayed = map[Event]Event{
	EventInitiateCall: EventIncomingCall,
	EventAcceptCall:   EventCallAccepted,
	EventICECandidate: EventNewICECandidate,
	EventEndCall:      EventCallTerminated,
}

type wireEntry struct {
	event    Event
	protocol Protocol
}

var wireIndex = func() map[string]wireEntry {
	idx := make(map[string]wireEntry)
	for ev, names := range vocabulary {
		idx[names.current] = wireEntry{event: ev, protocol: ProtocolCurrent}
		for _, n := range names.legacy {
			idx[n] = wireEntry{event: ev, protocol: ProtocolLegacy}
		}
	}
	return idx
}()

// WireNames returns every wire name of e, current name first.
func WireNames(e Event) []string {
	names, ok := vocabulary[e]
	if !ok {
		return nil
	}
	out := make([]string, 0, 1+len(names.legacy))
	out = append(out, names.current)
	return append(out, names.legacy...)
}

// WireName returns the name a client speaking p uses to emit e.
func WireName(e Event, p Protocol) string {
	names, ok := vocabulary[e]
	if !ok {
		return ""
	}
	if p == ProtocolLegacy && len(names.legacy) > 0 {
		return names.legacy[0]
	}
	return names.current
}

// ResolveWire maps a wire name from either vocabulary to its logical event.
func ResolveWire(name string) (Event, Protocol, bool) {
	e, ok := wireIndex[name]
	return e.event, e.protocol, ok
}

// Relayed returns the event the counterpart receives when e reaches the relay.
func Relayed(e Event) (Event, bool) {
	out, ok := relayed[e]
	return out, ok
}

// RelayedEvents lists the client-to-relay events in a stable order.
func RelayedEvents() []Event {
	return []Event{EventInitiateCall, EventAcceptCall, EventICECandidate, EventEndCall}
}
