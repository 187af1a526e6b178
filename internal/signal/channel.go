// Package signal is the client side of the relay connection: JSON envelope
// framing over a websocket plus the periodic liveness envelope.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"remotedesk/internal/types"
)

// ErrConnection is returned when the relay cannot be reached or the websocket
// handshake fails. It is not retried.
var ErrConnection = errors.New("signal: connection failed")

const (
	// DefaultHeartbeatInterval keeps the relay from treating the connection as idle.
	DefaultHeartbeatInterval = 60 * time.Second

	writeWait = 5 * time.Second
)

// NewTickerFunc creates a ticker and returns its channel and stop function.
type NewTickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Options struct {
	Address   string
	Port      string
	AccountID string
	// Token is sent as a bearer token when the relay requires one.
	Token string

	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	Logger            *slog.Logger

	// NewTicker overrides the liveness ticker; nil uses time.NewTicker.
	NewTicker NewTickerFunc
}

// Handler receives inbound envelopes in arrival order.
type Handler func(env types.Envelope)

// Channel is a connected relay websocket registered under one account id.
type Channel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	handlerOnce sync.Once
	handler     Handler

	closeOnce sync.Once
	done      chan struct{}
}

// URL returns the relay endpoint for an account.
func URL(address, port, accountID string) string {
	u := url.URL{
		Scheme:  "ws",
		Host:    net.JoinHostPort(address, port),
		Path:    "/remote/" + accountID,
		RawPath: "/remote/" + url.PathEscape(accountID),
	}
	return u.String()
}

// Dial connects to the relay and starts the liveness task. The first heart
// is sent before Dial returns.
func Dial(ctx context.Context, opts Options) (*Channel, error) {
	if opts.Address == "" || opts.Port == "" || opts.AccountID == "" {
		return nil, fmt.Errorf("%w: address, port and account id are required", ErrConnection)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	newTicker := opts.NewTicker
	if newTicker == nil {
		newTicker = realTicker
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	target := URL(opts.Address, opts.Port, opts.AccountID)
	var header http.Header
	if opts.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + opts.Token}}
	}
	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, target, err)
	}

	c := &Channel{
		conn:   conn,
		logger: logger.With("component", "signal", "account", opts.AccountID),
		done:   make(chan struct{}),
	}
	c.logger.Info("relay connected", "url", target)

	c.Send(types.Heart())
	tick, stop := newTicker(interval)
	go c.heartbeat(tick, stop)

	return c, nil
}

func (c *Channel) heartbeat(tick <-chan time.Time, stop func()) {
	defer stop()
	for {
		select {
		case <-c.done:
			return
		case <-tick:
			// A tick racing Close must not produce a send.
			select {
			case <-c.done:
				return
			default:
			}
			c.Send(types.Heart())
		}
	}
}

// Send writes env to the relay. When the channel is closed the envelope is
// dropped; nothing is queued.
func (c *Channel) Send(env types.Envelope) {
	select {
	case <-c.done:
		c.logger.Debug("drop envelope on closed channel", "type", env.MessageType)
		return
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		c.logger.Warn("envelope write failed", "type", env.MessageType, "err", err)
	}
}

// OnEnvelope installs the inbound handler and starts reading. Only the first
// call has an effect.
func (c *Channel) OnEnvelope(h Handler) {
	c.handlerOnce.Do(func() {
		c.handler = h
		go c.readLoop()
	})
}

func (c *Channel) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("relay read failed", "err", err)
			}
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed envelope", "err", err)
			continue
		}
		c.handler(env)
	}
}

// Done is closed once the channel is closed, locally or by the relay.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close stops the liveness task and closes the websocket. It is idempotent.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.logger.Info("relay connection closed")
	})
	return err
}
