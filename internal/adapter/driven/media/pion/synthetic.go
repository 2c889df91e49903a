package pion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticDevices produces tracks without touching hardware. Audio carries
// Opus silence; video tracks exist but send nothing. The flags simulate the
// failure modes of real devices.
type SyntheticDevices struct {
	NoCamera     bool
	NoMicrophone bool
	DenyAll      bool
	NoDisplay    bool
}

func (d SyntheticDevices) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if d.DenyAll {
		return nil, ErrPermissionDenied
	}
	if c.Video && d.NoCamera {
		return nil, fmt.Errorf("%w: no camera", ErrDeviceUnreadable)
	}
	if c.Audio && d.NoMicrophone {
		return nil, fmt.Errorf("%w: no microphone", ErrDeviceUnreadable)
	}

	streamID := uuid.NewString()
	tracks := make(map[domain.MediaKind]webrtc.TrackLocal)
	var stops []func()

	if c.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio-"+streamID, streamID,
		)
		if err != nil {
			return nil, err
		}
		tracks[domain.KindAudio] = audio
		stops = append(stops, pumpSilence(audio))
	}
	if c.Video {
		video, err := newVP8Track("camera-"+streamID, streamID)
		if err != nil {
			return nil, err
		}
		tracks[domain.KindVideo] = video
	}

	return NewStream(tracks, func() {
		for _, stop := range stops {
			stop()
		}
	}), nil
}

func (d SyntheticDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if d.DenyAll {
		return nil, ErrPermissionDenied
	}
	if d.NoDisplay {
		return nil, fmt.Errorf("%w: no display", ErrDeviceUnreadable)
	}
	streamID := uuid.NewString()
	video, err := newVP8Track("screen-"+streamID, streamID)
	if err != nil {
		return nil, err
	}
	return NewStream(map[domain.MediaKind]webrtc.TrackLocal{domain.KindVideo: video}, nil), nil
}

func newVP8Track(id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id, streamID,
	)
}

// pumpSilence writes silence until the returned stop is called.
func pumpSilence(track *webrtc.TrackLocalStaticSample) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// unbound tracks drop samples
				_ = track.WriteSample(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond})
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
