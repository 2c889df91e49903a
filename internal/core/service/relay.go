package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
	"github.com/vasanthgoud799/connectify-sub001/internal/metrics"
)

// Sender is the authenticated identity bound to a connection.
type Sender struct {
	UserID  domain.UserID
	Profile domain.RemoteUser
}

// relayHandler validates an inbound body and builds the outbound one. An
// empty reason means the event is forwarded.
type relayHandler func(from Sender, in domain.Body) (out domain.Body, reason string)

// Relay forwards signaling events between users. It keeps no call state:
// every frame is judged on its own.
type Relay struct {
	presence port.PresenceLookup
	gateway  port.Gateway
	handlers map[domain.Event]relayHandler
}

func NewRelay(presence port.PresenceLookup, gateway port.Gateway) *Relay {
	return &Relay{
		presence: presence,
		gateway:  gateway,
		handlers: map[domain.Event]relayHandler{
			domain.EventInitiateCall: relayInitiate,
			domain.EventAcceptCall:   relayAccept,
			domain.EventICECandidate: relayCandidate,
			domain.EventEndCall:      relayEnd,
		},
	}
}

// Handle processes one frame read from the sender's connection. Nothing is
// reported back to the sender.
func (r *Relay) Handle(ctx context.Context, from Sender, frame domain.Frame) {
	l := log.With().Str("user_id", from.UserID.String()).Str("type", frame.Type).Logger()

	event, protocol, ok := domain.ResolveWire(frame.Type)
	if !ok {
		r.reject(l, "unknown_event")
		return
	}
	metrics.SignalingMessages.WithLabelValues(string(event), protocol.String()).Inc()

	body, err := frame.Decode()
	if err != nil {
		l.Warn().Err(err).Msg("Malformed signaling payload")
		r.reject(l, "malformed")
		return
	}

	if event == domain.EventHeartbeat {
		r.presence.Heartbeat(ctx, from.UserID)
		return
	}

	handler, ok := r.handlers[event]
	if !ok {
		r.reject(l, "unexpected_event")
		return
	}

	target := body.Target()
	switch {
	case target == "":
		r.reject(l, "missing_target")
		return
	case target == from.UserID:
		r.reject(l, "self_target")
		return
	}

	out, reason := handler(from, body)
	if reason != "" {
		r.reject(l, reason)
		return
	}
	out.FromUserID = from.UserID

	outEvent, _ := domain.Relayed(event)
	r.deliver(ctx, l.With().Str("target_id", target.String()).Logger(), outEvent, target, out)
}

func (r *Relay) reject(l zerolog.Logger, reason string) {
	metrics.SignalingRejected.WithLabelValues(reason).Inc()
	l.Warn().Str("reason", reason).Msg("Signaling frame dropped")
}

// targets resolves every live connection of a user: the registry entry and
// the members of the user's channel, one entry per connection.
func (r *Relay) targets(ctx context.Context, userID domain.UserID) []domain.ConnectionID {
	seen := make(map[domain.ConnectionID]struct{})
	var conns []domain.ConnectionID

	add := func(id domain.ConnectionID) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		conns = append(conns, id)
	}

	if id, ok := r.presence.LookupConnection(ctx, userID); ok {
		add(id)
	}
	for _, id := range r.gateway.ChannelMembers(domain.UserChannel(userID)) {
		add(id)
	}
	return conns
}

func (r *Relay) deliver(ctx context.Context, l zerolog.Logger, event domain.Event, target domain.UserID, body domain.Body) {
	conns := r.targets(ctx, target)
	if len(conns) == 0 {
		metrics.SignalingUnreachable.WithLabelValues(string(event)).Inc()
		l.Debug().Str("event", string(event)).Msg("Target unreachable, event dropped")
		return
	}

	frames := make([]domain.Frame, 0, 3)
	for _, name := range domain.WireNames(event) {
		f, err := domain.NewFrame(name, body)
		if err != nil {
			l.Error().Err(err).Msg("Failed to encode frame")
			return
		}
		frames = append(frames, f)
	}

	for _, conn := range conns {
		delivered := false
		for _, f := range frames {
			if err := r.gateway.Send(ctx, conn, f); err != nil {
				l.Debug().Err(err).Str("connection_id", conn.String()).Msg("Delivery failed")
				continue
			}
			delivered = true
		}
		if delivered {
			metrics.SignalingDeliveries.WithLabelValues(string(event)).Inc()
		}
	}
}

func relayInitiate(from Sender, in domain.Body) (domain.Body, string) {
	if !in.CallType.Valid() {
		return domain.Body{}, "invalid_call_type"
	}
	if in.Offer == nil || in.Offer.SDP == "" {
		return domain.Body{}, "missing_offer"
	}

	caller := from.Profile
	if in.Caller != nil {
		caller = *in.Caller
	}
	caller.ID = from.UserID

	return domain.Body{CallType: in.CallType, Offer: in.Offer, Caller: &caller}, ""
}

func relayAccept(from Sender, in domain.Body) (domain.Body, string) {
	if in.Answer == nil || in.Answer.SDP == "" {
		return domain.Body{}, "missing_answer"
	}
	return domain.Body{Answer: in.Answer}, ""
}

func relayCandidate(from Sender, in domain.Body) (domain.Body, string) {
	if in.Candidate == nil {
		return domain.Body{}, "missing_candidate"
	}
	return domain.Body{Candidate: in.Candidate}, ""
}

func relayEnd(from Sender, in domain.Body) (domain.Body, string) {
	return domain.Body{}, ""
}
