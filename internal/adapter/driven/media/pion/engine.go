package pion

import (
	"context"
	"errors"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
)

var (
	ErrPermissionDenied         = errors.New("media: permission denied")
	ErrDeviceUnreadable         = errors.New("media: device unreadable")
	ErrConstraintsUnsatisfiable = errors.New("media: constraints cannot be satisfied")
	ErrNoPeerConnection         = errors.New("media: peer connection closed")
)

// Constraints describe a capture request.
type Constraints struct {
	Audio            bool
	Video            bool
	EchoCancellation bool
	NoiseSuppression bool
}

// Devices captures local media. Implementations classify failures with the
// package sentinels.
type Devices interface {
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// CodecRegistrar is implemented by devices that encode with a fixed codec
// set and must populate the media engine themselves.
type CodecRegistrar interface {
	RegisterCodecs(m *webrtc.MediaEngine) error
}

// Engine implements port.MediaEngine on pion/webrtc.
type Engine struct {
	api     *webrtc.API
	config  webrtc.Configuration
	devices Devices
}

func NewEngine(iceServers []string, devices Devices) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if r, ok := devices.(CodecRegistrar); ok {
		if err := r.RegisterCodecs(m); err != nil {
			return nil, err
		}
	} else if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}

	// Ride out short relay or NAT outages instead of failing the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	var servers []webrtc.ICEServer
	if len(iceServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: iceServers})
	}

	return &Engine{
		api:     api,
		config:  webrtc.Configuration{ICEServers: servers},
		devices: devices,
	}, nil
}

// AcquireLocal asks for microphone, plus camera on video calls. A camera
// that cannot be read or cannot meet the constraints degrades the call to
// audio; any other failure leaves it receive-only.
func (e *Engine) AcquireLocal(ctx context.Context, callType domain.CallType) port.LocalMedia {
	c := Constraints{
		Audio:            true,
		Video:            callType == domain.CallVideo,
		EchoCancellation: true,
		NoiseSuppression: true,
	}

	s, err := e.devices.UserMedia(ctx, c)
	if err == nil {
		return s
	}
	l := log.With().Str("call_type", string(callType)).Logger()

	if c.Video && (errors.Is(err, ErrDeviceUnreadable) || errors.Is(err, ErrConstraintsUnsatisfiable)) {
		l.Warn().Err(err).Msg("Camera unavailable, retrying audio only")
		c.Video = false
		if s, err = e.devices.UserMedia(ctx, c); err == nil {
			return s
		}
	}

	l.Warn().Err(err).Msg("No local media, continuing receive-only")
	return nil
}

func (e *Engine) NewTransport(hooks port.TransportHooks) (port.MediaTransport, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}
	return newTransport(pc, e.devices, hooks), nil
}
