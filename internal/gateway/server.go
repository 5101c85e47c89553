// Package gateway is the socket front of the realtime core. It serves two
// namespaces over the same protocol: widget connections authenticate with a
// visitor credential and the embedding host's allow-list, operator
// connections with an operator credential and an active membership.
//
// Each connection gets one reader (which dispatches events in order) and one
// writer. Room fan-out goes through a realtime.Broadcaster so delivery works
// the same whether the bus is local or Redis-backed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-sitechat/internal/auth"
	"github.com/tbourn/go-sitechat/internal/config"
	"github.com/tbourn/go-sitechat/internal/observability"
	"github.com/tbourn/go-sitechat/internal/realtime"
	"github.com/tbourn/go-sitechat/internal/services"
	"github.com/tbourn/go-sitechat/internal/sysutil"
)

// Close codes sent when a handshake is refused.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

// Handshake rejection codes carried in the error frame.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeDomainNotAllowed = "DOMAIN_NOT_ALLOWED"
	CodeInternal         = "INTERNAL"
)

// Deps are the collaborators the gateway dispatches into.
type Deps struct {
	Issuer    *auth.Issuer
	Access    *services.AccessService
	Messages  *services.MessageService
	Calls     *services.CallService
	Presence  *services.PresenceService
	Hub       *realtime.Hub
	Broadcast *realtime.Broadcaster
}

// Server upgrades HTTP requests into protocol connections.
type Server struct {
	Deps
	cfg      config.RealtimeConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewServer returns a gateway server.
func NewServer(d Deps, cfg config.RealtimeConfig, log zerolog.Logger) *Server {
	return &Server{
		Deps: d,
		cfg:  cfg,
		log:  log.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{auth.WSProtocol},
			// Widgets are embedded cross-origin; the host is checked
			// against the channel allow-list after the upgrade instead.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:   time.Now,
		conns: make(map[string]*Conn),
	}
}

// ServeWidget handles the widget namespace.
func (s *Server) ServeWidget(w http.ResponseWriter, r *http.Request) {
	s.serve(realtime.NamespaceWidget, w, r)
}

// ServeOperator handles the operator namespace.
func (s *Server) ServeOperator(w http.ResponseWriter, r *http.Request) {
	s.serve(realtime.NamespaceOperator, w, r)
}

// Connections returns the number of live connections on this process.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseAll closes every live connection. Hijacked sockets are not closed by
// http.Server.Shutdown, so callers invoke this during shutdown.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) serve(ns realtime.Namespace, w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("ns", string(ns)).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	actor, err := s.authenticate(ctx, ns, r, token)
	if err != nil {
		s.reject(ws, ns, err)
		return
	}

	var limiter *rate.Limiter
	if s.cfg.EventRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.EventRPS), s.cfg.EventBurst)
	}
	c := newConn(ws, ns, actor, s.cfg.SendBuffer, limiter, s.log)

	switch ns {
	case realtime.NamespaceWidget:
		s.Hub.Join(ns, realtime.ConversationRoom(actor.ConversationID), c)
	case realtime.NamespaceOperator:
		s.Hub.Join(ns, realtime.ChannelRoom(actor.ChannelID), c)
	}
	s.track(c, true)
	observability.WSConnections.WithLabelValues(string(ns)).Inc()
	c.log.Info().Msg("connected")

	go c.writeLoop(s.cfg.PingInterval)

	err = c.readLoop(s.cfg.ReadLimit, s.cfg.PingInterval, func(f Frame) {
		s.dispatch(ctx, c, f)
	})

	s.Hub.LeaveAll(c.ID())
	s.track(c, false)
	observability.WSConnections.WithLabelValues(string(ns)).Dec()
	c.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Info().Msg("disconnected")
	} else {
		c.log.Info().Err(err).Msg("connection dropped")
	}
}

func (s *Server) track(c *Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c.ID()] = c
	} else {
		delete(s.conns, c.ID())
	}
}

// authenticate verifies the credential for the namespace and runs the
// namespace-specific collaborator check.
func (s *Server) authenticate(ctx context.Context, ns realtime.Namespace, r *http.Request, token string) (services.Actor, error) {
	if token == "" {
		return services.Actor{}, fmt.Errorf("%w: missing credential", services.ErrUnauthenticated)
	}
	claims, err := s.Issuer.Verify(token)
	if err != nil {
		return services.Actor{}, fmt.Errorf("%w: %v", services.ErrUnauthenticated, err)
	}

	switch ns {
	case realtime.NamespaceWidget:
		if claims.Kind != auth.KindWidget {
			return services.Actor{}, fmt.Errorf("%w: operator credential on widget namespace", services.ErrUnauthenticated)
		}
		if err := s.Access.CheckDomain(ctx, claims.ChannelID, sysutil.EmbeddingOrigin(r.Header)); err != nil {
			return services.Actor{}, err
		}
	case realtime.NamespaceOperator:
		if claims.Kind != auth.KindOperator {
			return services.Actor{}, fmt.Errorf("%w: widget credential on operator namespace", services.ErrUnauthenticated)
		}
		if err := s.Access.CheckMembership(ctx, claims.ChannelID, claims.UserID); err != nil {
			return services.Actor{}, err
		}
	}
	return services.ActorFromClaims(claims), nil
}

// reject emits a best-effort error frame with the reason, then closes.
func (s *Server) reject(ws *websocket.Conn, ns realtime.Namespace, err error) {
	closeCode, code := CloseUnauthorized, CodeUnauthorized
	switch {
	case errors.Is(err, services.ErrDomainNotAllowed):
		closeCode, code = CloseForbidden, CodeDomainNotAllowed
	case errors.Is(err, services.ErrNotMember):
		closeCode, code = CloseForbidden, CodeForbidden
	case services.Classify(err) == services.OutcomePersistenceFailure:
		closeCode, code = websocket.CloseInternalServerErr, CodeInternal
	}
	s.log.Warn().Err(err).Str("ns", string(ns)).Str("code", code).Msg("handshake rejected")

	deadline := time.Now().Add(writeWait)
	if f, ferr := NewFrame(EventError, ErrorPayload{Message: err.Error(), Code: code}); ferr == nil {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.WriteJSON(f)
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, code), deadline)
	_ = ws.Close()
}
