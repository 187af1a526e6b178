package viewer

import (
	"context"
	"time"

	"github.com/hajimehoshi/ebiten/v2"

	"remotedesk/internal/peer"
)

// Hotkeys act on the local session and are never forwarded.
const (
	DisconnectKey = ebiten.KeyF8
	ConnectKey    = ebiten.KeyF9

	actionTimeout = 5 * time.Second
)

func isHotkey(k ebiten.Key) bool {
	return k == DisconnectKey || k == ConnectKey
}

// hotkey starts the action bound to k. Actions go through the session loop
// and must not hold up the frame.
func (w *Window) hotkey(k ebiten.Key) bool {
	switch k {
	case DisconnectKey:
		go w.disconnect()
	case ConnectKey:
		go w.connect()
	default:
		return false
	}
	return true
}

func (w *Window) disconnect() {
	ctx, cancel := context.WithTimeout(w.ctx, actionTimeout)
	defer cancel()
	if err := w.remote.Close(ctx); err != nil {
		w.logger.Warn("close session", "err", err)
		return
	}
	w.logger.Info("session closed from viewer")
}

func (w *Window) connect() {
	target := w.opts.Connect
	if target.ID == "" {
		w.logger.Warn("no receiver to connect to, set connect.id")
		return
	}
	ctx, cancel := context.WithTimeout(w.ctx, actionTimeout)
	defer cancel()

	st, err := w.remote.Status(ctx)
	if err != nil {
		w.logger.Warn("connect", "receiver", target.ID, "err", err)
		return
	}
	if st.State != peer.StateIdle {
		w.logger.Info("connect ignored while a session is active", "state", st.State)
		return
	}
	if err := w.remote.RequestControl(ctx, target); err != nil {
		w.logger.Warn("connect", "receiver", target.ID, "err", err)
		return
	}
	w.logger.Info("requested control", "receiver", target.ID)
}
