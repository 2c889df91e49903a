package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
	"github.com/vasanthgoud799/connectify-sub001/internal/metrics"
)

type emitted struct {
	event domain.Event
	body  domain.Body
}

// mockSignaler records emitted events and feeds envelopes.
type mockSignaler struct {
	mu   sync.Mutex
	sent []emitted
	in   chan domain.Envelope
}

func newMockSignaler() *mockSignaler {
	return &mockSignaler{in: make(chan domain.Envelope, 16)}
}

func (m *mockSignaler) Emit(ctx context.Context, event domain.Event, body domain.Body) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, emitted{event: event, body: body})
	return nil
}

func (m *mockSignaler) Envelopes() <-chan domain.Envelope { return m.in }

func (m *mockSignaler) count(event domain.Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.sent {
		if e.event == event {
			n++
		}
	}
	return n
}

func (m *mockSignaler) last(event domain.Event) (domain.Body, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].event == event {
			return m.sent[i].body, true
		}
	}
	return domain.Body{}, false
}

type mockLocal struct {
	mu    sync.Mutex
	kinds []domain.MediaKind
	stops int
}

func (l *mockLocal) Kinds() []domain.MediaKind { return l.kinds }
func (l *mockLocal) Stop() {
	l.mu.Lock()
	l.stops++
	l.mu.Unlock()
}
func (l *mockLocal) stopCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stops
}

// mockTransport records calls for verification.
type mockTransport struct {
	mu          sync.Mutex
	hooks       port.TransportHooks
	attached    bool
	answerSet   bool
	candidates  int
	released    int
	closes      int
	shareStarts int
	shareStops  int
	disabled    map[domain.MediaKind]bool
	onShareEnd  func()
	replaced    []port.LocalMedia

	held      []domain.ICECandidate
	offerErr  error
	shareGate chan struct{}
}

func (t *mockTransport) Attach(local port.LocalMedia, callType domain.CallType) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached = true
	return nil
}
func (t *mockTransport) CreateOffer() (domain.SessionDescription, error) {
	if t.offerErr != nil {
		return domain.SessionDescription{}, t.offerErr
	}
	return domain.SessionDescription{Type: "offer", SDP: "v=0\r\noffer"}, nil
}
func (t *mockTransport) AcceptOffer(offer domain.SessionDescription) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: "v=0\r\nanswer"}, nil
}
func (t *mockTransport) ApplyAnswer(answer domain.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answerSet = true
	return nil
}
func (t *mockTransport) AddRemoteCandidate(c domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates++
	return nil
}
func (t *mockTransport) ReleaseLocalCandidates() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released++
	held := t.held
	t.held = nil
	return held
}
func (t *mockTransport) StartScreenShare(ctx context.Context, onEnded func()) error {
	if t.shareGate != nil {
		<-t.shareGate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shareStarts++
	t.onShareEnd = onEnded
	return nil
}
func (t *mockTransport) StopScreenShare() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shareStops++
}
func (t *mockTransport) ReplaceLocal(local port.LocalMedia) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replaced = append(t.replaced, local)
	return nil
}
func (t *mockTransport) SetEnabled(kind domain.MediaKind, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled == nil {
		t.disabled = map[domain.MediaKind]bool{}
	}
	t.disabled[kind] = !enabled
	return nil
}
func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *mockTransport) read(fn func(t *mockTransport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t)
}

// mockMedia hands out mockLocal captures. When gate is set, AcquireLocal
// blocks until a value is sent on it. The first noCamera captures are
// audio only. Transports are created with held, offerErr and shareGate.
type mockMedia struct {
	mu         sync.Mutex
	gate       chan struct{}
	deny       bool
	noCamera   int
	locals     []*mockLocal
	transports []*mockTransport

	held      []domain.ICECandidate
	offerErr  error
	shareGate chan struct{}
}

func (m *mockMedia) AcquireLocal(ctx context.Context, callType domain.CallType) port.LocalMedia {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deny {
		return nil
	}
	l := &mockLocal{kinds: callType.Kinds()}
	if len(m.locals) < m.noCamera {
		l.kinds = []domain.MediaKind{domain.KindAudio}
	}
	m.locals = append(m.locals, l)
	return l
}

func (m *mockMedia) NewTransport(hooks port.TransportHooks) (port.MediaTransport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTransport{hooks: hooks, held: m.held, offerErr: m.offerErr, shareGate: m.shareGate}
	m.transports = append(m.transports, t)
	return t, nil
}

func (m *mockMedia) transport(i int) *mockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.transports) {
		return nil
	}
	return m.transports[i]
}

func (m *mockMedia) local(i int) *mockLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.locals) {
		return nil
	}
	return m.locals[i]
}

func (m *mockMedia) acquired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locals)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startMachine(t *testing.T, media *mockMedia) (*CallMachine, *mockSignaler) {
	t.Helper()
	sig := newMockSignaler()
	m := NewCallMachine(domain.RemoteUser{ID: "alice", Name: "Alice"}, sig, media)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.done
	})
	return m, sig
}

func incoming(from domain.UserID) domain.Envelope {
	return domain.Envelope{
		Event: domain.EventIncomingCall,
		From:  from,
		Body: domain.Body{
			FromUserID: from,
			CallType:   domain.CallVideo,
			Offer:      &domain.SessionDescription{Type: "offer", SDP: "v=0\r\nremote"},
			Caller:     &domain.RemoteUser{ID: from, Name: "Bob"},
		},
	}
}

func terminated(from domain.UserID) domain.Envelope {
	return domain.Envelope{Event: domain.EventCallTerminated, From: from, Body: domain.Body{FromUserID: from}}
}

// checkInvariant fails when a snapshot breaks the session field rules.
func checkInvariant(t *testing.T) func(Session) {
	return func(s Session) {
		switch s.State {
		case domain.StateIdle:
			if s.Remote != nil || s.CallType != "" || s.PendingOffer != nil {
				t.Errorf("idle session carries call data: %+v", s)
			}
		case domain.StateIncoming:
			if s.Remote == nil || s.CallType == "" || s.PendingOffer == nil {
				t.Errorf("incoming session incomplete: %+v", s)
			}
		default:
			if s.Remote == nil || s.CallType == "" || s.PendingOffer != nil {
				t.Errorf("%s session inconsistent: %+v", s.State, s)
			}
		}
	}
}

func TestCallMachine_OutgoingCallLifecycle(t *testing.T) {
	media := &mockMedia{}
	m, sig := startMachine(t, media)
	m.OnChange(checkInvariant(t))

	if err := m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallVideo); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "initiate-call", func() bool { return sig.count(domain.EventInitiateCall) == 1 })

	body, _ := sig.last(domain.EventInitiateCall)
	if body.TargetUserID != "bob" || body.CallType != domain.CallVideo || body.Offer == nil {
		t.Errorf("unexpected initiate body: %+v", body)
	}
	if body.Caller == nil || body.Caller.Name != "Alice" {
		t.Errorf("expected caller profile, got %+v", body.Caller)
	}
	tr := media.transport(0)
	waitFor(t, "candidate release", func() bool {
		released := 0
		tr.read(func(tr *mockTransport) { released = tr.released })
		return released == 1
	})
	tr.read(func(tr *mockTransport) {
		if !tr.attached {
			t.Error("expected local media attached")
		}
	})

	sig.in <- domain.Envelope{
		Event: domain.EventCallAccepted,
		From:  "bob",
		Body:  domain.Body{FromUserID: "bob", Answer: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	}
	waitFor(t, "active", func() bool { return m.Snapshot().State == domain.StateActive })
	tr.read(func(tr *mockTransport) {
		if !tr.answerSet {
			t.Error("expected answer applied")
		}
	})

	if err := m.HangUp(); err != nil {
		t.Fatal(err)
	}
	if s := m.Snapshot(); s.State != domain.StateIdle {
		t.Errorf("expected idle, got %s", s.State)
	}
	if sig.count(domain.EventEndCall) != 1 {
		t.Error("expected end-call emitted")
	}
	if media.local(0).stopCount() != 1 {
		t.Errorf("expected local media stopped once, got %d", media.local(0).stopCount())
	}
}

func TestCallMachine_DeclineRacesHangUp(t *testing.T) {
	media := &mockMedia{}
	m, sig := startMachine(t, media)

	_ = m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallVideo)
	waitFor(t, "initiate-call", func() bool { return sig.count(domain.EventInitiateCall) == 1 })

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sig.in <- terminated("bob")
	}()
	go func() {
		defer wg.Done()
		if err := m.HangUp(); err != nil {
			t.Errorf("hang up: %v", err)
		}
	}()
	wg.Wait()

	waitFor(t, "idle", func() bool { return m.Snapshot().State == domain.StateIdle })
	// let a late envelope, if any, be processed
	_ = m.HangUp()

	if n := media.local(0).stopCount(); n != 1 {
		t.Errorf("expected local media stopped once, got %d", n)
	}
	media.transport(0).read(func(tr *mockTransport) {
		if tr.closes != 1 {
			t.Errorf("expected transport closed once, got %d", tr.closes)
		}
	})
}

func TestCallMachine_DoubleTerminateSingleTeardown(t *testing.T) {
	media := &mockMedia{}
	m, sig := startMachine(t, media)

	sig.in <- incoming("bob")
	waitFor(t, "incoming", func() bool { return m.Snapshot().State == domain.StateIncoming })
	_ = m.Answer()
	waitFor(t, "accept-call", func() bool { return sig.count(domain.EventAcceptCall) == 1 })

	sig.in <- terminated("bob")
	sig.in <- terminated("bob")
	waitFor(t, "idle", func() bool { return m.Snapshot().State == domain.StateIdle })
	_ = m.HangUp()

	media.transport(0).read(func(tr *mockTransport) {
		if tr.closes != 1 {
			t.Errorf("expected one teardown, transport closed %d times", tr.closes)
		}
	})
	if n := media.local(0).stopCount(); n != 1 {
		t.Errorf("expected one teardown, media stopped %d times", n)
	}
	if sig.count(domain.EventEndCall) != 0 {
		t.Error("remote termination must not be echoed back")
	}
}

func TestCallMachine_AnswerFlow(t *testing.T) {
	media := &mockMedia{}
	m, sig := startMachine(t, media)
	m.OnChange(checkInvariant(t))

	sig.in <- incoming("bob")
	waitFor(t, "incoming", func() bool { return m.Snapshot().State == domain.StateIncoming })

	s := m.Snapshot()
	if s.Remote.Name != "Bob" || s.PendingOffer.SDP != "v=0\r\nremote" {
		t.Errorf("unexpected incoming session: %+v", s)
	}

	// early candidate reaches the transport before the answer
	sig.in <- domain.Envelope{Event: domain.EventNewICECandidate, From: "bob", Body: domain.Body{Candidate: &domain.ICECandidate{Candidate: "candidate:1"}}}
	waitFor(t, "candidate forwarded", func() bool {
		n := 0
		media.transport(0).read(func(tr *mockTransport) { n = tr.candidates })
		return n == 1
	})

	if err := m.Answer(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "accept-call", func() bool { return sig.count(domain.EventAcceptCall) == 1 })
	body, _ := sig.last(domain.EventAcceptCall)
	if body.CallerUserID != "bob" || body.Answer == nil {
		t.Errorf("unexpected accept body: %+v", body)
	}
	if m.Snapshot().State != domain.StateActive {
		t.Errorf("expected active, got %s", m.Snapshot().State)
	}
}

func TestCallMachine_DeclineNotifiesCaller(t *testing.T) {
	media := &mockMedia{}
	m, sig := startMachine(t, media)

	sig.in <- incoming("bob")
	waitFor(t, "incoming", func() bool { return m.Snapshot().State == domain.StateIncoming })

	if err := m.Decline(); err != nil {
		t.Fatal(err)
	}
	body, ok := sig.last(domain.EventEndCall)
	if !ok || body.TargetUserID != "bob" {
		t.Errorf("expected end-call to bob, got %+v (%v)", body, ok)
	}
	if m.Snapshot().State != domain.StateIdle {
		t.Error("expected idle")
	}
	if media.acquired() != 0 {
		t.Error("declining must not acquire media")
	}
}

func TestCallMachine_IgnoresOtherUsers(t *testing.T) {
	media := &mockMedia{}
	m, sig := startMachine(t, media)

	sig.in <- incoming("bob")
	waitFor(t, "incoming", func() bool { return m.Snapshot().State == domain.StateIncoming })

	sig.in <- incoming("carol")
	sig.in <- terminated("carol")
	waitFor(t, "envelopes consumed", func() bool { return len(sig.in) == 0 })
	// a synchronous intent runs after the envelope being processed
	_, _ = m.ToggleMute()

	s := m.Snapshot()
	if s.State != domain.StateIncoming || s.Remote.ID != "bob" {
		t.Errorf("unrelated users changed the call: %+v", s)
	}
	if sig.count(domain.EventEndCall) != 0 {
		t.Error("busy incoming call must be ignored, not declined")
	}
}

func TestCallMachine_StaleMediaReleased(t *testing.T) {
	media := &mockMedia{gate: make(chan struct{})}
	m, sig := startMachine(t, media)

	_ = m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallAudio)
	_ = m.HangUp()
	media.gate <- struct{}{}

	waitFor(t, "late media released", func() bool {
		l := media.local(0)
		return l != nil && l.stopCount() == 1
	})
	if media.transport(0) != nil {
		t.Error("no transport may be created for a finished call")
	}
	if sig.count(domain.EventInitiateCall) != 0 {
		t.Error("no offer may be sent for a finished call")
	}
}

func TestCallMachine_MediaDeniedStillOffers(t *testing.T) {
	media := &mockMedia{deny: true}
	m, sig := startMachine(t, media)

	_ = m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallVideo)
	waitFor(t, "initiate-call", func() bool { return sig.count(domain.EventInitiateCall) == 1 })

	if m.Snapshot().LocalMedia != nil {
		t.Error("expected no local media")
	}
	media.transport(0).read(func(tr *mockTransport) {
		if !tr.attached {
			t.Error("transport must still be attached for receive-only")
		}
	})
}

func TestCallMachine_InvalidIntents(t *testing.T) {
	m, _ := startMachine(t, &mockMedia{})

	if err := m.Answer(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("answer while idle: %v", err)
	}
	if err := m.Decline(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("decline while idle: %v", err)
	}
	if err := m.StartCall(domain.RemoteUser{ID: "alice"}, domain.CallAudio); !errors.Is(err, ErrInvalidCall) {
		t.Errorf("self call: %v", err)
	}
	if err := m.StartCall(domain.RemoteUser{ID: "bob"}, "hologram"); !errors.Is(err, ErrInvalidCall) {
		t.Errorf("bad call type: %v", err)
	}
	if err := m.HangUp(); err != nil {
		t.Errorf("hang up while idle should be a no-op, got %v", err)
	}

	_ = m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallAudio)
	if err := m.StartCall(domain.RemoteUser{ID: "carol"}, domain.CallAudio); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second call: %v", err)
	}
	if _, err := m.ToggleCamera(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("camera toggle on audio call: %v", err)
	}
}

func TestCallMachine_LocalCandidatesGoToRemote(t *testing.T) {
	media := &mockMedia{}
	m, sig := startMachine(t, media)

	_ = m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallAudio)
	waitFor(t, "initiate-call", func() bool { return sig.count(domain.EventInitiateCall) == 1 })

	media.transport(0).hooks.OnLocalCandidate(domain.ICECandidate{Candidate: "candidate:local"})
	waitFor(t, "ice-candidate", func() bool { return sig.count(domain.EventICECandidate) == 1 })

	body, _ := sig.last(domain.EventICECandidate)
	if body.TargetUserID != "bob" || body.Candidate.Candidate != "candidate:local" {
		t.Errorf("unexpected candidate body: %+v", body)
	}

	_ = m.HangUp()
	media.transport(0).hooks.OnLocalCandidate(domain.ICECandidate{Candidate: "candidate:late"})
	_ = m.HangUp()
	if sig.count(domain.EventICECandidate) != 1 {
		t.Error("candidates from a finished call must be dropped")
	}
}

func TestCallMachine_MuteAndScreenShare(t *testing.T) {
	media := &mockMedia{}
	m, sig := startMachine(t, media)

	sig.in <- incoming("bob")
	waitFor(t, "incoming", func() bool { return m.Snapshot().State == domain.StateIncoming })
	_ = m.Answer()
	waitFor(t, "accept-call", func() bool { return sig.count(domain.EventAcceptCall) == 1 })
	tr := media.transport(0)

	if muted, err := m.ToggleMute(); err != nil || !muted {
		t.Fatalf("mute: %v %v", muted, err)
	}
	tr.read(func(tr *mockTransport) {
		if !tr.disabled[domain.KindAudio] {
			t.Error("expected audio sender disabled")
		}
	})

	if err := m.StartScreenShare(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sharing", func() bool { return m.Snapshot().ScreenSharing })

	// capture ends out of band
	var onEnded func()
	tr.read(func(tr *mockTransport) { onEnded = tr.onShareEnd })
	onEnded()
	waitFor(t, "share ended", func() bool { return !m.Snapshot().ScreenSharing })

	tr.read(func(tr *mockTransport) {
		if tr.shareStarts != 1 || tr.shareStops != 1 {
			t.Errorf("expected one start and one stop, got %d/%d", tr.shareStarts, tr.shareStops)
		}
	})
	if media.acquired() != 1 {
		t.Errorf("camera still live, re-acquisition not expected (acquired %d)", media.acquired())
	}
	if !m.Snapshot().Muted {
		t.Error("mute must survive a screen share")
	}
	if err := m.StopScreenShare(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stop without share: %v", err)
	}
}

func TestCallMachine_HeldCandidatesSentAfterOffer(t *testing.T) {
	held := make([]domain.ICECandidate, 100)
	for i := range held {
		held[i] = domain.ICECandidate{Candidate: fmt.Sprintf("candidate:%d", i)}
	}
	media := &mockMedia{held: held}
	m, sig := startMachine(t, media)

	_ = m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallAudio)
	waitFor(t, "held candidates", func() bool { return sig.count(domain.EventICECandidate) == len(held) })

	sig.mu.Lock()
	if sig.sent[0].event != domain.EventInitiateCall {
		t.Errorf("expected initiate-call before candidates, got %s", sig.sent[0].event)
	}
	sig.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- m.HangUp() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hang-up blocked after releasing candidates")
	}
	if m.Snapshot().State != domain.StateIdle {
		t.Error("expected idle after hang-up")
	}
}

func TestCallMachine_ShareEndReacquiresCamera(t *testing.T) {
	// the camera is unavailable when the call starts
	media := &mockMedia{noCamera: 1}
	m, sig := startMachine(t, media)

	_ = m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallVideo)
	waitFor(t, "initiate-call", func() bool { return sig.count(domain.EventInitiateCall) == 1 })
	sig.in <- domain.Envelope{
		Event: domain.EventCallAccepted,
		From:  "bob",
		Body:  domain.Body{FromUserID: "bob", Answer: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	}
	waitFor(t, "active", func() bool { return m.Snapshot().State == domain.StateActive })
	first := media.local(0)

	if err := m.StartScreenShare(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sharing", func() bool { return m.Snapshot().ScreenSharing })
	if err := m.StopScreenShare(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "camera restored", func() bool { return m.Snapshot().LocalMedia == port.LocalMedia(media.local(1)) })

	if media.acquired() != 2 {
		t.Errorf("expected a second capture, got %d", media.acquired())
	}
	tr := media.transport(0)
	tr.read(func(tr *mockTransport) {
		if len(tr.replaced) != 1 || tr.replaced[0] != port.LocalMedia(media.local(1)) {
			t.Errorf("expected the new capture on the senders, got %v", tr.replaced)
		}
	})
	if n := first.stopCount(); n != 1 {
		t.Errorf("expected old capture stopped once, got %d", n)
	}
	if n := media.local(1).stopCount(); n != 0 {
		t.Errorf("new capture stopped early: %d", n)
	}

	_ = m.HangUp()
	if n := first.stopCount(); n != 1 {
		t.Errorf("old capture stopped again on hang-up: %d", n)
	}
	if n := media.local(1).stopCount(); n != 1 {
		t.Errorf("expected new capture released on hang-up, got %d", n)
	}
}

func TestCallMachine_OfferFailureEndsCall(t *testing.T) {
	before := testutil.ToFloat64(metrics.CallNegotiationFailures.WithLabelValues("offer"))
	media := &mockMedia{offerErr: errors.New("no codecs")}
	m, sig := startMachine(t, media)
	m.OnChange(checkInvariant(t))

	_ = m.StartCall(domain.RemoteUser{ID: "bob"}, domain.CallVideo)
	waitFor(t, "end-call", func() bool { return sig.count(domain.EventEndCall) == 1 })

	if m.Snapshot().State != domain.StateIdle {
		t.Errorf("expected idle, got %s", m.Snapshot().State)
	}
	if sig.count(domain.EventInitiateCall) != 0 {
		t.Error("no offer should have been sent")
	}
	if n := media.local(0).stopCount(); n != 1 {
		t.Errorf("expected capture released once, got %d", n)
	}
	media.transport(0).read(func(tr *mockTransport) {
		if tr.closes != 1 {
			t.Errorf("expected transport closed, got %d", tr.closes)
		}
	})
	if got := testutil.ToFloat64(metrics.CallNegotiationFailures.WithLabelValues("offer")); got != before+1 {
		t.Errorf("expected failure counted, got %v -> %v", before, got)
	}
}

func TestCallMachine_StopWhileShareStarting(t *testing.T) {
	gate := make(chan struct{})
	media := &mockMedia{shareGate: gate}
	m, sig := startMachine(t, media)

	sig.in <- incoming("bob")
	waitFor(t, "incoming", func() bool { return m.Snapshot().State == domain.StateIncoming })
	_ = m.Answer()
	waitFor(t, "accept-call", func() bool { return sig.count(domain.EventAcceptCall) == 1 })

	if err := m.StartScreenShare(); err != nil {
		t.Fatal(err)
	}
	if err := m.StopScreenShare(); err != nil {
		t.Fatalf("stop while the capture is pending: %v", err)
	}
	close(gate)

	tr := media.transport(0)
	waitFor(t, "share dropped", func() bool {
		stops := 0
		tr.read(func(tr *mockTransport) { stops = tr.shareStops })
		return stops == 1 && !m.Snapshot().ScreenSharing
	})
	tr.read(func(tr *mockTransport) {
		if tr.shareStarts != 1 {
			t.Errorf("expected one capture, got %d", tr.shareStarts)
		}
	})
}
