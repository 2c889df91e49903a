//go:build mediadevices

package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/adapter/driven/media/pion"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

// Devices implements pion.Devices and pion.CodecRegistrar. Echo
// cancellation and noise suppression are requested but the native drivers
// do not implement them.
type Devices struct {
	selector *mediadevices.CodecSelector
}

func NewDevices() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	for _, d := range mediadevices.EnumerateDevices() {
		log.Debug().Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("Media device found")
	}
	return &Devices{selector: selector}, nil
}

func (d *Devices) RegisterCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

func (d *Devices) UserMedia(ctx context.Context, c pion.Constraints) (*pion.Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras feed the encoder broken frames
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classify(err)
	}
	return wrap(ms), nil
}

func (d *Devices) DisplayMedia(ctx context.Context) (*pion.Stream, error) {
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(*mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, classify(err)
	}
	return wrap(ms), nil
}

func wrap(ms mediadevices.MediaStream) *pion.Stream {
	tracks := make(map[domain.MediaKind]webrtc.TrackLocal)
	all := ms.GetTracks()
	for _, t := range all {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			tracks[domain.KindVideo] = t
		} else {
			tracks[domain.KindAudio] = t
		}
	}

	s := pion.NewStream(tracks, func() {
		for _, t := range all {
			t.Close()
		}
	})
	for _, t := range all {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Local track ended")
			}
			s.End()
		})
	}
	return s
}

func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", pion.ErrPermissionDenied, err)
	case strings.Contains(err.Error(), "constraints"):
		return fmt.Errorf("%w: %v", pion.ErrConstraintsUnsatisfiable, err)
	default:
		return fmt.Errorf("%w: %v", pion.ErrDeviceUnreadable, err)
	}
}
