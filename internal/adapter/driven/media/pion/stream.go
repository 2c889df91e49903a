package pion

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

// Stream is a set of local tracks captured together. It implements
// port.LocalMedia.
type Stream struct {
	id     string
	tracks map[domain.MediaKind]webrtc.TrackLocal
	stop   func()

	mu      sync.Mutex
	stopped bool
	onEnded func()
}

// NewStream wraps tracks; stop releases the underlying capture and may be nil.
func NewStream(tracks map[domain.MediaKind]webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks, stop: stop}
}

func (s *Stream) ID() string { return s.id }

// Kinds lists the live tracks. A stopped or ended stream has none.
func (s *Stream) Kinds() []domain.MediaKind {
	if s.isStopped() {
		return nil
	}
	var kinds []domain.MediaKind
	for _, k := range []domain.MediaKind{domain.KindAudio, domain.KindVideo} {
		if s.tracks[k] != nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Track returns the track of kind, or nil once the stream is stopped.
func (s *Stream) Track(kind domain.MediaKind) webrtc.TrackLocal {
	if s == nil || s.isStopped() {
		return nil
	}
	return s.tracks[kind]
}

func (s *Stream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop releases the capture. Safe to call more than once.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
}

// OnEnded registers fn to run when the capture source ends on its own.
func (s *Stream) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// End reports that the source went away (device unplugged, the user stopped
// sharing from the OS). It is ignored after Stop.
func (s *Stream) End() {
	s.mu.Lock()
	fn := s.onEnded
	already := s.stopped
	s.mu.Unlock()
	if already {
		return
	}

	s.Stop()
	if fn != nil {
		fn()
	}
}

// remoteTrack is the part of *webrtc.TrackRemote the transport reads.
type remoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// RemoteStream implements port.RemoteMedia. All remote tracks of a call
// accumulate on one stream.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	kinds  []domain.MediaKind
	tracks []string
}

func (r *RemoteStream) ID() string { return r.id }

func (r *RemoteStream) Kinds() []domain.MediaKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.MediaKind(nil), r.kinds...)
}

func (r *RemoteStream) add(t remoteTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.tracks {
		if id == t.ID() {
			return false
		}
	}
	r.tracks = append(r.tracks, t.ID())
	r.kinds = append(r.kinds, kindOf(t.Kind()))
	return true
}

func kindOf(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeVideo {
		return domain.KindVideo
	}
	return domain.KindAudio
}

func codecType(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}
