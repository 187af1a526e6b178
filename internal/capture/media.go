package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	// Registers the screen capture driver used by GetDisplayMedia.
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

const (
	DefaultFrameRate = 15
	DefaultBitRate   = 2_000_000
)

// Stream is an acquired set of local tracks. Close stops capture.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// Source acquires a screen stream. Acquire may block on OS permission
// prompts and is run off the session loop.
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
}

type MediaOptions struct {
	// Display selects the screen driver, by the same index DisplayBounds takes.
	Display   int
	FrameRate float64
	BitRate   int
	Logger    *slog.Logger
}

// DisplayMedia captures the screen and encodes it as VP8.
type DisplayMedia struct {
	opts     MediaOptions
	selector *mediadevices.CodecSelector
	logger   *slog.Logger

	getDisplayMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
	enumerate       func() []mediadevices.MediaDeviceInfo
}

func NewDisplayMedia(opts MediaOptions) (*DisplayMedia, error) {
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.BitRate <= 0 {
		opts.BitRate = DefaultBitRate
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	vp8, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vp8.BitRate = opts.BitRate
	// About one key frame per second of video.
	vp8.KeyFrameInterval = int(opts.FrameRate)

	return &DisplayMedia{
		opts:            opts,
		selector:        mediadevices.NewCodecSelector(mediadevices.WithVideoEncoders(&vp8)),
		logger:          logger.With("component", "capture"),
		getDisplayMedia: mediadevices.GetDisplayMedia,
		enumerate:       mediadevices.EnumerateDevices,
	}, nil
}

// Populate registers the encoder codecs on the engine used to build peer
// connections.
func (d *DisplayMedia) Populate(me *webrtc.MediaEngine) {
	d.selector.Populate(me)
}

type acquired struct {
	stream mediadevices.MediaStream
	err    error
}

// deviceID finds the screen driver registered for the configured display.
// Driver IDs are generated at registration, only the label is stable.
func (d *DisplayMedia) deviceID() (string, error) {
	label := screenLabel(d.opts.Display)
	for _, dev := range d.enumerate() {
		if dev.DeviceType == driver.Screen && dev.Label == label {
			return dev.DeviceID, nil
		}
	}
	return "", fmt.Errorf("%w: no screen driver %q", ErrNoDisplay, label)
}

func (d *DisplayMedia) Acquire(ctx context.Context) (Stream, error) {
	id, err := d.deviceID()
	if err != nil {
		return nil, err
	}

	done := make(chan acquired, 1)
	go func() {
		s, err := d.getDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.DeviceID = prop.StringExact(id)
				c.FrameRate = prop.Float(d.opts.FrameRate)
			},
			Codec: d.selector,
		})
		done <- acquired{stream: s, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("get display media: %w", res.err)
		}
		st := newMediaStream(res.stream, d.logger)
		if len(st.tracks) == 0 {
			_ = st.Close()
			return nil, fmt.Errorf("get display media: %w", ErrNoDisplay)
		}
		return st, nil
	case <-ctx.Done():
		// Release whatever the pending call eventually yields.
		go func() {
			if res := <-done; res.err == nil {
				_ = newMediaStream(res.stream, d.logger).Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type mediaStream struct {
	tracks []mediadevices.Track
}

func newMediaStream(s mediadevices.MediaStream, logger *slog.Logger) *mediaStream {
	st := &mediaStream{}
	if s == nil {
		return st
	}
	for _, track := range s.GetVideoTracks() {
		id := track.ID()
		track.OnEnded(func(err error) {
			logger.Info("capture track ended", "track", id, "err", err)
		})
		st.tracks = append(st.tracks, track)
	}
	return st
}

func (s *mediaStream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *mediaStream) Close() error {
	var errs []error
	for _, t := range s.tracks {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
