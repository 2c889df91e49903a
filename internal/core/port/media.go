package port

import (
	"context"

	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

// LocalMedia is a set of captured local tracks.
type LocalMedia interface {
	Kinds() []domain.MediaKind
	// Stop releases the capture devices. Safe to call more than once.
	Stop()
}

// RemoteMedia is the single stream remote tracks accumulate on.
type RemoteMedia interface {
	ID() string
	Kinds() []domain.MediaKind
}

type TransportHooks struct {
	// OnLocalCandidate receives candidates gathered after the release. It
	// runs on the transport's own goroutines.
	OnLocalCandidate func(domain.ICECandidate)
	// OnRemoteMedia fires every time a remote track is added to the stream.
	OnRemoteMedia func(RemoteMedia)
}

type MediaEngine interface {
	// AcquireLocal captures media for a call of the given type. It returns nil
	// when no local media could be obtained; the call proceeds receive-only.
	AcquireLocal(ctx context.Context, callType domain.CallType) LocalMedia
	NewTransport(hooks TransportHooks) (MediaTransport, error)
}

// MediaTransport owns one peer connection.
type MediaTransport interface {
	// Attach adds local tracks for the call's kinds and receive-only
	// transceivers for kinds local media lacks. local may be nil.
	Attach(local LocalMedia, callType domain.CallType) error
	CreateOffer() (domain.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(offer domain.SessionDescription) (domain.SessionDescription, error)
	ApplyAnswer(answer domain.SessionDescription) error
	// AddRemoteCandidate applies a candidate, or queues it until a remote
	// description exists.
	AddRemoteCandidate(candidate domain.ICECandidate) error
	// ReleaseLocalCandidates opens the gate on gathered candidates and
	// returns the ones held so far; later ones go to OnLocalCandidate. Call it
	// once the offer or answer has been sent.
	ReleaseLocalCandidates() []domain.ICECandidate
	// StartScreenShare swaps the outbound video for a display capture.
	// onEnded fires when the capture ends on its own.
	StartScreenShare(ctx context.Context, onEnded func()) error
	StopScreenShare()
	// ReplaceLocal swaps camera/microphone tracks on the existing senders.
	ReplaceLocal(local LocalMedia) error
	SetEnabled(kind domain.MediaKind, enabled bool) error
	Close() error
}
