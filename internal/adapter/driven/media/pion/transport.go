package pion

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
)

// CandidateStats counts remote candidates. Applied counts every attempt made
// after the remote description was set; Failed is the subset pion rejected.
type CandidateStats struct {
	Queued  int
	Applied int
	Failed  int
	Dropped int
}

// Transport implements port.MediaTransport on one peer connection.
type Transport struct {
	pc      *webrtc.PeerConnection
	devices Devices
	hooks   port.TransportHooks

	mu        sync.Mutex
	closed    bool
	local     *Stream
	screen    *Stream
	senders   map[domain.MediaKind]*webrtc.RTPSender
	enabled   map[domain.MediaKind]bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	stats     CandidateStats
	remote    *RemoteStream

	// local candidates are held until released
	gateMu   sync.Mutex
	gateOpen bool
	held     []domain.ICECandidate
}

func newTransport(pc *webrtc.PeerConnection, devices Devices, hooks port.TransportHooks) *Transport {
	t := &Transport{
		pc:      pc,
		devices: devices,
		hooks:   hooks,
		senders: make(map[domain.MediaKind]*webrtc.RTPSender),
		enabled: map[domain.MediaKind]bool{domain.KindAudio: true, domain.KindVideo: true},
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		t.localCandidate(candidateFromInit(c.ToJSON()))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug().Str("kind", track.Kind().String()).Str("stream_id", track.StreamID()).Msg("Received remote track")
		t.addRemoteTrack(track)

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			if err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			}); err != nil {
				log.Debug().Err(err).Msg("Failed to request keyframe")
			}
		}

		// playback is not ours; keep the receive buffers moving
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("state", s.String()).Msg("Peer connection state changed")
	})

	return t
}

func candidateFromInit(c webrtc.ICECandidateInit) domain.ICECandidate {
	return domain.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func candidateToInit(c domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (t *Transport) Attach(local port.LocalMedia, callType domain.CallType) error {
	stream, err := asStream(local)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNoPeerConnection
	}
	t.local = stream

	for _, kind := range callType.Kinds() {
		if _, ok := t.senders[kind]; ok {
			continue
		}
		if track := t.local.Track(kind); track != nil {
			sender, err := t.pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add %s track: %w", kind, err)
			}
			t.senders[kind] = sender
			go drainRTCP(sender)
			continue
		}
		if _, err := t.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	// apply mute state set before the senders existed
	return t.syncSenders()
}

func asStream(local port.LocalMedia) (*Stream, error) {
	if local == nil {
		return nil, nil
	}
	s, ok := local.(*Stream)
	if !ok {
		return nil, fmt.Errorf("media: unsupported local media %T", local)
	}
	return s, nil
}

// drainRTCP reads sender reports so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *Transport) CreateOffer() (domain.SessionDescription, error) {
	if t.isClosed() {
		return domain.SessionDescription{}, ErrNoPeerConnection
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *Transport) AcceptOffer(offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := t.setRemote(webrtc.SDPTypeOffer, offer); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *Transport) ApplyAnswer(answer domain.SessionDescription) error {
	return t.setRemote(webrtc.SDPTypeAnswer, answer)
}

// setRemote applies the remote description and replays queued candidates.
func (t *Transport) setRemote(typ webrtc.SDPType, desc domain.SessionDescription) error {
	if t.isClosed() {
		return ErrNoPeerConnection
	}
	if desc.Type != "" && webrtc.NewSDPType(desc.Type) != typ {
		return fmt.Errorf("media: expected %s, got %s", typ, desc.Type)
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("set remote %s: %w", typ, err)
	}

	t.mu.Lock()
	t.remoteSet = true
	queued := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, c := range queued {
		t.apply(c)
	}
	return nil
}

func (t *Transport) AddRemoteCandidate(c domain.ICECandidate) error {
	init := candidateToInit(c)

	t.mu.Lock()
	switch {
	case t.closed:
		t.stats.Dropped++
		t.mu.Unlock()
		return nil
	case !t.remoteSet:
		t.pending = append(t.pending, init)
		t.stats.Queued++
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	return t.apply(init)
}

func (t *Transport) apply(c webrtc.ICECandidateInit) error {
	err := t.pc.AddICECandidate(c)

	t.mu.Lock()
	t.stats.Applied++
	if err != nil {
		t.stats.Failed++
	}
	t.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Str("candidate", c.Candidate).Msg("Remote candidate rejected")
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (t *Transport) Stats() CandidateStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Transport) localCandidate(c domain.ICECandidate) {
	t.gateMu.Lock()
	if !t.gateOpen {
		t.held = append(t.held, c)
		t.gateMu.Unlock()
		return
	}
	t.gateMu.Unlock()
	t.deliver(c)
}

// ReleaseLocalCandidates opens the gate and hands back what was held. The
// hook is not called for those, so the caller may be the hook's consumer.
func (t *Transport) ReleaseLocalCandidates() []domain.ICECandidate {
	t.gateMu.Lock()
	defer t.gateMu.Unlock()
	if t.gateOpen {
		return nil
	}
	t.gateOpen = true
	held := t.held
	t.held = nil
	return held
}

func (t *Transport) deliver(c domain.ICECandidate) {
	if t.hooks.OnLocalCandidate != nil {
		t.hooks.OnLocalCandidate(c)
	}
}

func (t *Transport) addRemoteTrack(track remoteTrack) {
	t.mu.Lock()
	if t.remote == nil {
		id := track.StreamID()
		if id == "" {
			id = uuid.NewString()
		}
		t.remote = &RemoteStream{id: id}
	}
	remote := t.remote
	t.mu.Unlock()

	if remote.add(track) && t.hooks.OnRemoteMedia != nil {
		t.hooks.OnRemoteMedia(remote)
	}
}

// desiredTrack is what the sender of kind should carry right now.
// caller holds mu
func (t *Transport) desiredTrack(kind domain.MediaKind) webrtc.TrackLocal {
	if !t.enabled[kind] {
		return nil
	}
	if kind == domain.KindVideo && t.screen != nil {
		return t.screen.Track(domain.KindVideo)
	}
	return t.local.Track(kind)
}

// syncSenders points every sender at its desired track.
// caller holds mu
func (t *Transport) syncSenders() error {
	for kind, sender := range t.senders {
		want := t.desiredTrack(kind)
		if sender.Track() == want {
			continue
		}
		if err := sender.ReplaceTrack(want); err != nil {
			return fmt.Errorf("replace %s track: %w", kind, err)
		}
	}
	return nil
}

// StartScreenShare captures the display and puts it on the video sender,
// adding one when the call had no outbound video.
func (t *Transport) StartScreenShare(ctx context.Context, onEnded func()) error {
	if t.isClosed() {
		return ErrNoPeerConnection
	}
	screen, err := t.devices.DisplayMedia(ctx)
	if err != nil {
		return err
	}
	if screen.Track(domain.KindVideo) == nil {
		screen.Stop()
		return fmt.Errorf("%w: display capture has no video", ErrDeviceUnreadable)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		screen.Stop()
		return ErrNoPeerConnection
	}
	if t.screen != nil {
		t.screen.Stop()
	}
	t.screen = screen
	screen.OnEnded(onEnded)

	if _, ok := t.senders[domain.KindVideo]; !ok {
		// pion reuses a free video transceiver if one exists
		sender, err := t.pc.AddTrack(screen.Track(domain.KindVideo))
		if err != nil {
			t.screen = nil
			screen.Stop()
			return fmt.Errorf("add screen track: %w", err)
		}
		t.senders[domain.KindVideo] = sender
		go drainRTCP(sender)
	}
	return t.syncSenders()
}

// StopScreenShare puts the camera back on the video sender.
func (t *Transport) StopScreenShare() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.screen == nil {
		return
	}
	t.screen.Stop()
	t.screen = nil
	if err := t.syncSenders(); err != nil {
		log.Warn().Err(err).Msg("Failed to restore camera track")
	}
}

func (t *Transport) ReplaceLocal(local port.LocalMedia) error {
	stream, err := asStream(local)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNoPeerConnection
	}
	t.local = stream
	return t.syncSenders()
}

func (t *Transport) SetEnabled(kind domain.MediaKind, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNoPeerConnection
	}
	t.enabled[kind] = enabled
	return t.syncSenders()
}

// SenderTracks lists the track ID on every sender, "" for an empty one.
func (t *Transport) SenderTracks() []string {
	var out []string
	for _, s := range t.pc.GetSenders() {
		if tr := s.Track(); tr != nil {
			out = append(out, tr.ID())
		} else {
			out = append(out, "")
		}
	}
	return out
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close tears the peer connection down and drops queued candidates. The
// screen capture is released here; camera and microphone belong to the caller.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.stats.Dropped += len(t.pending)
	t.pending = nil
	if t.screen != nil {
		t.screen.Stop()
		t.screen = nil
	}
	t.mu.Unlock()

	return t.pc.Close()
}
