package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"remotedesk/internal/capture"
	"remotedesk/internal/config"
	"remotedesk/internal/identity"
	"remotedesk/internal/input"
	"remotedesk/internal/peer"
	"remotedesk/internal/relay"
	"remotedesk/internal/rtclog"
	"remotedesk/internal/session"
	"remotedesk/internal/signal"
	"remotedesk/internal/types"
	"remotedesk/internal/viewer"
)

var errRelayLost = errors.New("relay connection lost")

// newAPI builds the WebRTC API shared by every session of this process.
// With capture enabled the encoder codecs are registered, otherwise pion's
// defaults.
func newAPI(media *capture.DisplayMedia, logger *slog.Logger) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if media != nil {
		media.Populate(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: rtclog.NewFactory(logger)}
	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)), nil
}

func runPeer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	account, err := identity.Generate()
	if err != nil {
		return err
	}
	logger = logger.With("account", account.ID)

	var (
		media    *capture.DisplayMedia
		geometry capture.GeometryFunc
		executor *input.Robot
	)
	if cfg.Capture.Enabled {
		if runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" {
			// Keep working from a plain tty on X hosts.
			_ = os.Setenv("DISPLAY", ":0")
		}
		bounds, err := capture.DisplayBounds(cfg.Capture.Display)
		if err != nil {
			return fmt.Errorf("display %d: %w", cfg.Capture.Display, err)
		}
		media, err = capture.NewDisplayMedia(capture.MediaOptions{
			Display:   cfg.Capture.Display,
			FrameRate: cfg.Capture.FrameRate,
			BitRate:   cfg.Capture.BitRate,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		geometry = capture.DisplayGeometry(cfg.Capture.Display)
		executor = input.NewRobot(bounds.Min, logger)
	}

	api, err := newAPI(media, logger)
	if err != nil {
		return err
	}

	var token string
	if cfg.Relay.TokenSecret != "" {
		token, err = relay.IssueToken(cfg.Relay.TokenSecret, account.ID, cfg.Relay.TokenTTL, time.Now())
		if err != nil {
			return err
		}
	}

	channel, err := signal.Dial(ctx, signal.Options{
		Address:           cfg.Signal.Address,
		Port:              cfg.Signal.Port,
		AccountID:         account.ID,
		Token:             token,
		HeartbeatInterval: cfg.Signal.HeartbeatInterval,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer channel.Close()

	receiver := types.Receiver{ID: cfg.Connect.ID, Key: cfg.Connect.Key}
	iceServers := cfg.ICEServers()
	ctrlCfg := session.Config{
		Account: account,
		Sender:  channel,
		NewPeer: func(generation uint64, post func(peer.Event)) (*peer.Session, error) {
			return peer.New(peer.Config{API: api, ICEServers: iceServers, Logger: logger}, generation, post)
		},
		Geometry: geometry,
		Logger:   logger,
	}
	// Typed nils would defeat the controller's capability checks.
	if media != nil {
		ctrlCfg.Capture = media
	}
	if executor != nil {
		ctrlCfg.Executor = executor
	}
	ctrl := session.New(ctrlCfg)
	ctrl.OnError(func(err error) {
		logger.Warn("session error", "err", err)
	})
	channel.OnEnvelope(ctrl.HandleEnvelope)

	var win *viewer.Window
	if cfg.Viewer.Enabled {
		win = viewer.New(ctrl, viewer.Options{
			Title:   cfg.Viewer.Title,
			Width:   cfg.Viewer.Width,
			Height:  cfg.Viewer.Height,
			Account: account,
			Connect: receiver,
			Logger:  logger,
		})
		ctrl.SetViewSize(win.ViewSize)
		ctrl.OnTrack(win.Sink)
	}

	logger.Info("peer ready",
		"id", account.ID,
		"key", account.Key,
		"capture", cfg.Capture.Enabled,
		"viewer", cfg.Viewer.Enabled,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := ctrl.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-channel.Done():
			if gctx.Err() == nil {
				return errRelayLost
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	if receiver.ID != "" {
		g.Go(func() error {
			if err := ctrl.RequestControl(gctx, receiver); err != nil {
				return fmt.Errorf("request control of %s: %w", receiver.ID, err)
			}
			logger.Info("requested control", "receiver", receiver.ID)
			return nil
		})
	}

	if win != nil {
		// ebiten owns the main goroutine until the window closes.
		if err := win.Run(gctx); err != nil {
			logger.Error("viewer stopped", "err", err)
		}
		cancel()
	}

	return g.Wait()
}
