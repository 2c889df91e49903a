package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
	"github.com/vasanthgoud799/connectify-sub001/internal/metrics"
)

var (
	ErrInvalidTransition = errors.New("invalid call transition")
	ErrInvalidCall       = errors.New("invalid call request")
	ErrMachineStopped    = errors.New("call machine stopped")

	errNoTransport = errors.New("no media transport for the call")
)

// Session is a snapshot of the call as the machine sees it. Remote and
// CallType are set whenever State is not idle; PendingOffer only while
// incoming.
type Session struct {
	State         domain.CallState
	CallType      domain.CallType
	Remote        *domain.RemoteUser
	PendingOffer  *domain.SessionDescription
	LocalMedia    port.LocalMedia
	RemoteMedia   port.RemoteMedia
	Muted         bool
	CameraOff     bool
	ScreenSharing bool
}

type envelopeHandler func(m *CallMachine, env domain.Envelope)

// CallMachine owns the client side of one user's calls. All state lives on
// the goroutine started by Run; intents, inbound envelopes and async results
// are applied there one at a time.
type CallMachine struct {
	self     domain.RemoteUser
	signaler port.Signaler
	media    port.MediaEngine
	handlers map[domain.Event]envelopeHandler

	ops  chan func()
	done chan struct{}

	// owned by the Run goroutine
	ctx       context.Context
	sess      Session
	transport port.MediaTransport
	cycle     uint64
	// a display capture is on its way; stopShare cancels it on arrival
	sharePending bool
	stopShare    bool

	mu        sync.RWMutex
	snapshot  Session
	listeners []func(Session)
}

func NewCallMachine(self domain.RemoteUser, signaler port.Signaler, media port.MediaEngine) *CallMachine {
	return &CallMachine{
		self:     self,
		signaler: signaler,
		media:    media,
		handlers: map[domain.Event]envelopeHandler{
			domain.EventIncomingCall:    (*CallMachine).onIncomingCall,
			domain.EventCallAccepted:    (*CallMachine).onCallAccepted,
			domain.EventNewICECandidate: (*CallMachine).onRemoteCandidate,
			domain.EventCallTerminated:  (*CallMachine).onCallTerminated,
		},
		ops:  make(chan func(), 64),
		done: make(chan struct{}),
	}
}

// Run processes intents and envelopes until ctx is cancelled or the signaler
// closes its channel. An active call is torn down on exit.
func (m *CallMachine) Run(ctx context.Context) {
	m.ctx = ctx
	defer close(m.done)
	defer m.teardown(false)

	envelopes := m.signaler.Envelopes()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-m.ops:
			op()
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			m.dispatch(env)
		}
	}
}

// Snapshot returns the current session.
func (m *CallMachine) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// OnChange registers fn to be called with every new snapshot. fn runs on the
// machine goroutine and must not call back into the machine synchronously.
func (m *CallMachine) OnChange(fn func(Session)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// do runs fn on the machine goroutine and waits for its result.
func (m *CallMachine) do(fn func() error) error {
	res := make(chan error, 1)
	select {
	case m.ops <- func() { res <- fn() }:
	case <-m.done:
		return ErrMachineStopped
	}
	select {
	case err := <-res:
		return err
	case <-m.done:
		return ErrMachineStopped
	}
}

// post queues fn without waiting. It reports false when the machine is gone.
func (m *CallMachine) post(fn func()) bool {
	select {
	case m.ops <- fn:
		return true
	case <-m.done:
		return false
	}
}

func (m *CallMachine) logger() *zerolog.Logger {
	c := log.With().Str("state", m.sess.State.String())
	if m.sess.Remote != nil {
		c = c.Str("remote_id", m.sess.Remote.ID.String())
	}
	l := c.Logger()
	return &l
}

func (m *CallMachine) changed() {
	m.mu.Lock()
	m.snapshot = m.sess
	listeners := append([]func(Session){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(m.sess)
	}
}

func (m *CallMachine) emit(event domain.Event, body domain.Body) {
	if err := m.signaler.Emit(m.ctx, event, body); err != nil {
		m.logger().Warn().Err(err).Str("event", string(event)).Msg("Failed to emit signaling event")
	}
}

func (m *CallMachine) dispatch(env domain.Envelope) {
	handler, ok := m.handlers[env.Event]
	if !ok {
		m.logger().Debug().Str("event", string(env.Event)).Msg("Ignoring event")
		return
	}
	handler(m, env)
}

// fromRemote reports whether env comes from the user of the current call.
func (m *CallMachine) fromRemote(env domain.Envelope) bool {
	return m.sess.Remote != nil && env.From == m.sess.Remote.ID
}

// StartCall dials target. Media is acquired in the background; the offer is
// sent once it is ready.
func (m *CallMachine) StartCall(target domain.RemoteUser, callType domain.CallType) error {
	if target.ID == "" || target.ID == m.self.ID {
		return fmt.Errorf("%w: bad target %q", ErrInvalidCall, target.ID)
	}
	if !callType.Valid() {
		return fmt.Errorf("%w: call type %q", ErrInvalidCall, callType)
	}

	return m.do(func() error {
		if m.sess.State != domain.StateIdle {
			return fmt.Errorf("%w: start from %s", ErrInvalidTransition, m.sess.State)
		}
		m.cycle++
		remote := target
		m.sess = Session{State: domain.StateOutgoing, CallType: callType, Remote: &remote}
		m.logger().Info().Str("call_type", string(callType)).Msg("Starting call")
		m.changed()

		m.acquire(callType, m.onOutgoingMedia)
		return nil
	})
}

// Answer accepts the pending incoming call.
func (m *CallMachine) Answer() error {
	return m.do(func() error {
		if m.sess.State != domain.StateIncoming {
			return fmt.Errorf("%w: answer from %s", ErrInvalidTransition, m.sess.State)
		}
		offer := *m.sess.PendingOffer
		m.sess.State = domain.StateActive
		m.sess.PendingOffer = nil
		m.logger().Info().Msg("Answering call")
		m.changed()

		m.acquire(m.sess.CallType, func(cycle uint64, local port.LocalMedia) {
			m.onAnswerMedia(cycle, local, offer)
		})
		return nil
	})
}

// Decline rejects the pending incoming call.
func (m *CallMachine) Decline() error {
	return m.do(func() error {
		if m.sess.State != domain.StateIncoming {
			return fmt.Errorf("%w: decline from %s", ErrInvalidTransition, m.sess.State)
		}
		m.teardown(true)
		return nil
	})
}

// HangUp ends the current call. Hanging up while idle does nothing, so a
// hang-up racing a remote termination is harmless.
func (m *CallMachine) HangUp() error {
	return m.do(func() error {
		m.teardown(true)
		return nil
	})
}

// ToggleMute flips the microphone and returns the new muted state.
func (m *CallMachine) ToggleMute() (bool, error) {
	var muted bool
	err := m.do(func() error {
		if m.sess.State == domain.StateIdle {
			return fmt.Errorf("%w: mute while idle", ErrInvalidTransition)
		}
		m.sess.Muted = !m.sess.Muted
		muted = m.sess.Muted
		m.applyEnabled(domain.KindAudio, !muted)
		m.changed()
		return nil
	})
	return muted, err
}

// ToggleCamera flips the camera of a video call and returns the new state.
func (m *CallMachine) ToggleCamera() (bool, error) {
	var off bool
	err := m.do(func() error {
		if m.sess.State == domain.StateIdle || m.sess.CallType != domain.CallVideo {
			return fmt.Errorf("%w: camera toggle needs a video call", ErrInvalidTransition)
		}
		m.sess.CameraOff = !m.sess.CameraOff
		off = m.sess.CameraOff
		m.applyEnabled(domain.KindVideo, !off)
		m.changed()
		return nil
	})
	return off, err
}

func (m *CallMachine) applyEnabled(kind domain.MediaKind, enabled bool) {
	if m.transport == nil {
		return
	}
	if err := m.transport.SetEnabled(kind, enabled); err != nil {
		m.logger().Warn().Err(err).Str("kind", string(kind)).Msg("Failed to update sender")
	}
}

// syncEnabled carries toggles made before the transport had senders.
func (m *CallMachine) syncEnabled() {
	if m.sess.Muted {
		m.applyEnabled(domain.KindAudio, false)
	}
	if m.sess.CameraOff {
		m.applyEnabled(domain.KindVideo, false)
	}
}

// StartScreenShare replaces the outbound video with a display capture. The
// capture is acquired in the background; ScreenSharing flips once it is live.
func (m *CallMachine) StartScreenShare() error {
	return m.do(func() error {
		if m.sess.State != domain.StateActive || m.transport == nil {
			return fmt.Errorf("%w: screen share needs an active call", ErrInvalidTransition)
		}
		if m.sess.ScreenSharing || m.sharePending {
			m.stopShare = false
			return nil
		}
		m.sharePending = true

		cycle, transport, ctx := m.cycle, m.transport, m.ctx
		go func() {
			onEnded := func() {
				m.post(func() { m.restoreCamera(cycle) })
			}
			err := transport.StartScreenShare(ctx, onEnded)
			m.post(func() { m.onScreenShare(cycle, err) })
		}()
		return nil
	})
}

// StopScreenShare ends the share. A capture still being acquired is dropped
// as soon as it arrives.
func (m *CallMachine) StopScreenShare() error {
	return m.do(func() error {
		if m.sharePending {
			m.stopShare = true
			return nil
		}
		if !m.sess.ScreenSharing {
			return fmt.Errorf("%w: not sharing", ErrInvalidTransition)
		}
		m.restoreCamera(m.cycle)
		return nil
	})
}

func (m *CallMachine) onScreenShare(cycle uint64, err error) {
	if cycle != m.cycle {
		return
	}
	cancelled := m.stopShare
	m.sharePending, m.stopShare = false, false
	if err != nil {
		m.logger().Warn().Err(err).Msg("Screen share unavailable")
		return
	}
	m.sess.ScreenSharing = true
	m.changed()
	if cancelled {
		m.restoreCamera(cycle)
	}
}

// restoreCamera ends a screen share. The camera goes back on the existing
// video sender; when the call has no camera capture one is acquired again.
func (m *CallMachine) restoreCamera(cycle uint64) {
	if cycle != m.cycle || !m.sess.ScreenSharing || m.transport == nil {
		return
	}
	m.transport.StopScreenShare()
	m.sess.ScreenSharing = false
	m.changed()

	if !hasKinds(m.sess.LocalMedia, m.sess.CallType.Kinds()) {
		m.acquire(m.sess.CallType, m.onCameraRestored)
	}
}

func hasKinds(local port.LocalMedia, want []domain.MediaKind) bool {
	if local == nil {
		return false
	}
	have := make(map[domain.MediaKind]bool)
	for _, k := range local.Kinds() {
		have[k] = true
	}
	for _, k := range want {
		if !have[k] {
			return false
		}
	}
	return true
}

func (m *CallMachine) onCameraRestored(cycle uint64, local port.LocalMedia) {
	if local == nil {
		m.logger().Warn().Msg("No media after screen share, keeping previous capture")
		return
	}
	if err := m.transport.ReplaceLocal(local); err != nil {
		m.logger().Error().Err(err).Msg("Failed to restore local media")
		local.Stop()
		return
	}
	if old := m.sess.LocalMedia; old != nil {
		old.Stop()
	}
	m.sess.LocalMedia = local
	m.changed()
}

// acquire captures media off the machine goroutine and hands the result to
// next, unless the call it was started for is gone by then.
func (m *CallMachine) acquire(callType domain.CallType, next func(cycle uint64, local port.LocalMedia)) {
	cycle, ctx := m.cycle, m.ctx
	go func() {
		local := m.media.AcquireLocal(ctx, callType)
		stale := func() {
			if local != nil {
				local.Stop()
			}
		}
		ok := m.post(func() {
			if cycle != m.cycle || m.sess.State == domain.StateIdle {
				stale()
				return
			}
			next(cycle, local)
		})
		if !ok {
			stale()
		}
	}()
}

// newTransport creates the transport for the current cycle. Its callbacks
// are dropped once the cycle ends.
func (m *CallMachine) newTransport() (port.MediaTransport, error) {
	cycle := m.cycle
	return m.media.NewTransport(port.TransportHooks{
		// never called on the machine goroutine; held candidates come back
		// from ReleaseLocalCandidates instead
		OnLocalCandidate: func(c domain.ICECandidate) {
			m.post(func() {
				if cycle == m.cycle {
					m.sendCandidate(c)
				}
			})
		},
		OnRemoteMedia: func(rm port.RemoteMedia) {
			m.post(func() {
				if cycle != m.cycle {
					return
				}
				m.sess.RemoteMedia = rm
				m.changed()
			})
		},
	})
}

func (m *CallMachine) sendCandidate(c domain.ICECandidate) {
	if m.sess.Remote == nil {
		return
	}
	m.emit(domain.EventICECandidate, domain.Body{TargetUserID: m.sess.Remote.ID, Candidate: &c})
}

// releaseCandidates forwards what the transport gathered before the offer or
// answer went out.
func (m *CallMachine) releaseCandidates() {
	for _, c := range m.transport.ReleaseLocalCandidates() {
		m.sendCandidate(c)
	}
}

// negotiationFailed ends a call that cannot get its offer or answer out.
func (m *CallMachine) negotiationFailed(step string, err error) {
	metrics.CallNegotiationFailures.WithLabelValues(step).Inc()
	m.logger().Error().Err(err).Str("step", step).Msg("Call negotiation failed")
	m.teardown(true)
}

func (m *CallMachine) onOutgoingMedia(cycle uint64, local port.LocalMedia) {
	if m.sess.State != domain.StateOutgoing {
		if local != nil {
			local.Stop()
		}
		return
	}
	m.sess.LocalMedia = local
	m.changed()

	transport, err := m.newTransport()
	if err != nil {
		m.negotiationFailed("transport", err)
		return
	}
	m.transport = transport

	if err := transport.Attach(local, m.sess.CallType); err != nil {
		m.negotiationFailed("attach", err)
		return
	}
	m.syncEnabled()
	offer, err := transport.CreateOffer()
	if err != nil {
		m.negotiationFailed("offer", err)
		return
	}

	caller := m.self
	m.emit(domain.EventInitiateCall, domain.Body{
		TargetUserID: m.sess.Remote.ID,
		CallType:     m.sess.CallType,
		Offer:        &offer,
		Caller:       &caller,
	})
	m.releaseCandidates()
}

func (m *CallMachine) onAnswerMedia(cycle uint64, local port.LocalMedia, offer domain.SessionDescription) {
	m.sess.LocalMedia = local
	m.changed()

	if m.transport == nil {
		m.negotiationFailed("transport", errNoTransport)
		return
	}
	if err := m.transport.Attach(local, m.sess.CallType); err != nil {
		m.negotiationFailed("attach", err)
		return
	}
	m.syncEnabled()
	answer, err := m.transport.AcceptOffer(offer)
	if err != nil {
		m.negotiationFailed("answer", err)
		return
	}

	m.emit(domain.EventAcceptCall, domain.Body{CallerUserID: m.sess.Remote.ID, Answer: &answer})
	m.releaseCandidates()
}

func (m *CallMachine) onIncomingCall(env domain.Envelope) {
	l := m.logger().With().Str("from", env.From.String()).Logger()
	if m.sess.State != domain.StateIdle {
		l.Info().Msg("Busy, ignoring incoming call")
		return
	}
	if env.From == "" || !env.Body.CallType.Valid() || env.Body.Offer == nil {
		l.Warn().Msg("Malformed incoming call")
		return
	}

	remote := domain.RemoteUser{ID: env.From}
	if c := env.Body.Caller; c != nil {
		remote.Name, remote.Avatar = c.Name, c.Avatar
	}
	offer := *env.Body.Offer

	m.cycle++
	m.sess = Session{
		State:        domain.StateIncoming,
		CallType:     env.Body.CallType,
		Remote:       &remote,
		PendingOffer: &offer,
	}

	// Candidates may arrive before the user answers; the transport queues them.
	transport, err := m.newTransport()
	if err != nil {
		// answering will fail and end the call
		metrics.CallNegotiationFailures.WithLabelValues("transport").Inc()
		l.Error().Err(err).Msg("Failed to create media transport")
	} else {
		m.transport = transport
	}

	m.logger().Info().Str("call_type", string(env.Body.CallType)).Msg("Incoming call")
	m.changed()
}

func (m *CallMachine) onCallAccepted(env domain.Envelope) {
	if m.sess.State != domain.StateOutgoing || !m.fromRemote(env) {
		m.logger().Debug().Str("from", env.From.String()).Msg("Ignoring call-accepted")
		return
	}

	m.sess.State = domain.StateActive
	l := m.logger()
	switch {
	case env.Body.Answer == nil:
		l.Warn().Msg("call-accepted without answer")
	case m.transport == nil:
		l.Warn().Msg("call-accepted before an offer was sent")
	default:
		if err := m.transport.ApplyAnswer(*env.Body.Answer); err != nil {
			metrics.CallNegotiationFailures.WithLabelValues("apply_answer").Inc()
			l.Error().Err(err).Msg("Failed to apply answer")
		}
	}
	l.Info().Msg("Call active")
	m.changed()
}

func (m *CallMachine) onRemoteCandidate(env domain.Envelope) {
	if m.sess.State == domain.StateIdle || !m.fromRemote(env) || env.Body.Candidate == nil {
		return
	}
	if m.transport == nil {
		m.logger().Debug().Msg("Candidate before transport, dropped")
		return
	}
	if err := m.transport.AddRemoteCandidate(*env.Body.Candidate); err != nil {
		m.logger().Warn().Err(err).Msg("Failed to add remote candidate")
	}
}

func (m *CallMachine) onCallTerminated(env domain.Envelope) {
	if m.sess.State == domain.StateIdle || !m.fromRemote(env) {
		return
	}
	m.logger().Info().Msg("Call terminated by remote")
	m.teardown(false)
}

// teardown returns the machine to idle. It is a no-op while idle, so any
// number of racing terminations release resources once.
func (m *CallMachine) teardown(notifyRemote bool) {
	if m.sess.State == domain.StateIdle {
		return
	}
	if notifyRemote && m.sess.Remote != nil {
		m.emit(domain.EventEndCall, domain.Body{TargetUserID: m.sess.Remote.ID})
	}

	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.logger().Warn().Err(err).Msg("Failed to close media transport")
		}
		m.transport = nil
	}
	if m.sess.LocalMedia != nil {
		m.sess.LocalMedia.Stop()
	}

	m.logger().Info().Msg("Call ended")
	m.cycle++
	m.sess = Session{State: domain.StateIdle}
	m.sharePending, m.stopShare = false, false
	m.changed()
}
