// Package peertest provides in-process networking and media for tests that
// negotiate real peer connections.
package peertest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// VNetAPIs returns two APIs attached to one virtual router, so that peer
// connections built from them reach each other without touching the host
// network. The router is stopped on test cleanup.
func VNetAPIs(t testing.TB) (*webrtc.API, *webrtc.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	return newVNetAPI(t, netA), newVNetAPI(t, netB)
}

func newVNetAPI(t testing.TB, n *vnet.Net) *webrtc.API {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("register codecs: %v", err)
	}
	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	)
}

// Media is a single VP8 sample track standing in for a screen capture.
type Media struct {
	Track *webrtc.TrackLocalStaticSample

	closed atomic.Int32
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

func NewMedia(t testing.TB) *Media {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen", "remotedesk-test",
	)
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Media{Track: track, stop: cancel}

	// Samples are written from the start; the track drops them until bound.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		frame := make([]byte, 64)
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				_ = track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
			}
		}
	}()
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func (m *Media) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{m.Track} }

func (m *Media) Close() error {
	if m.closed.Add(1) == 1 {
		m.stop()
		m.wg.Wait()
	}
	return nil
}

// Closed reports how many times Close was called.
func (m *Media) Closed() int { return int(m.closed.Load()) }
