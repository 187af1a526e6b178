// Package relay implements the signaling relay: one websocket per account id,
// envelopes routed verbatim by their receiver field.
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"remotedesk/internal/types"
)

const (
	DefaultIdleTimeout = 150 * time.Second

	maxMessageBytes = 1 << 20
	writeWait       = 5 * time.Second
)

type Config struct {
	// IdleTimeout closes a connection that sent nothing for this long. It
	// must exceed the client heartbeat interval.
	IdleTimeout time.Duration
	// TokenSecret, when set, requires every registration to carry a bearer
	// token issued for the account by IssueToken.
	TokenSecret string
	Logger      *slog.Logger
}

type Server struct {
	registry    *Registry
	idleTimeout time.Duration
	tokenSecret string
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		registry:    NewRegistry(),
		idleTimeout: cfg.IdleTimeout,
		tokenSecret: cfg.TokenSecret,
		logger:      cfg.Logger.With("component", "relay"),
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (s *Server) Registry() *Registry { return s.registry }

// Close drops every registered peer.
func (s *Server) Close() {
	if n := s.registry.CloseAll(); n > 0 {
		s.logger.Info("closed peer connections", "count", n)
	}
}

// Handler serves the relay routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /remote/{account}", s.handleRemote)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if account == "" {
		http.Error(w, "missing account", http.StatusBadRequest)
		return
	}
	if s.tokenSecret != "" {
		if err := VerifyToken(s.tokenSecret, account, BearerToken(r)); err != nil {
			s.logger.Warn("registration rejected", "account", account, "err", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "err", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	conn := &peerConn{ws: ws}
	if old := s.registry.Register(account, conn); old != nil {
		s.logger.Info("replacing connection", "account", account)
		_ = old.ws.Close()
	}
	s.logger.Info("connected", "account", account)

	defer func() {
		s.registry.Unregister(account, conn)
		_ = ws.Close()
		s.logger.Info("disconnected", "account", account)
	}()

	for {
		_ = ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read ended", "account", account, "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.route(account, data)
	}
}

// route forwards data unchanged to the receiver's connection. Liveness
// envelopes and envelopes for unknown receivers are dropped.
func (s *Server) route(from string, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("malformed envelope", "account", from, "err", err)
		return
	}
	if env.MessageType == types.MessageHeart {
		return
	}
	if env.Sender != from {
		s.logger.Warn("drop envelope with forged sender", "account", from, "sender", env.Sender, "type", env.MessageType)
		return
	}
	target := s.registry.lookup(env.Receiver)
	if target == nil {
		s.logger.Debug("drop envelope for unknown receiver", "type", env.MessageType, "receiver", env.Receiver)
		return
	}
	if err := target.writeText(data); err != nil {
		s.logger.Warn("forward failed", "receiver", env.Receiver, "err", err)
		return
	}
	s.logger.Debug("forwarded", "type", env.MessageType, "from", from, "to", env.Receiver)
}
