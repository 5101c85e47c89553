package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-sitechat/internal/gateway"
)

// ErrRejected is returned by Run when the gateway refuses the handshake.
// Reconnecting with the same credential would be refused again.
var ErrRejected = errors.New("client: handshake rejected")

// Receiver consumes what a transport reads. *Agent implements it.
type Receiver interface {
	Handle(f gateway.Frame)
	OnReconnect()
	OnDisconnect()
}

// DefaultReconnectDelays backs off between dial attempts; the last value
// repeats.
var DefaultReconnectDelays = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// WSTransport keeps one gateway connection alive.
type WSTransport struct {
	URL     string
	Token   string
	Origin  string
	Dialer  *websocket.Dialer
	Backoff []time.Duration
	Log     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport returns a transport for url (ws:// or wss://).
func NewWSTransport(url, token, origin string, log zerolog.Logger) *WSTransport {
	return &WSTransport{
		URL:     url,
		Token:   token,
		Origin:  origin,
		Dialer:  websocket.DefaultDialer,
		Backoff: DefaultReconnectDelays,
		Log:     log.With().Str("component", "ws_transport").Logger(),
	}
}

// Emit writes one frame. It fails with ErrOffline between connections.
func (t *WSTransport) Emit(event string, payload any) error {
	f, err := gateway.NewFrame(event, payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrOffline
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(f)
}

// Connected reports whether a socket is currently open.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Run dials, feeds frames to r and redials with backoff until ctx ends or
// the gateway rejects the credential.
func (t *WSTransport) Run(ctx context.Context, r Receiver) error {
	attempt := 0
	for {
		conn, err := t.dial(ctx)
		if err == nil {
			attempt = 0
			err = t.session(ctx, conn, r)
			if errors.Is(err, ErrRejected) {
				return err
			}
			t.Log.Info().Err(err).Msg("connection lost")
		} else {
			t.Log.Warn().Err(err).Int("attempt", attempt+1).Msg("dial failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := t.Backoff[min(attempt, len(t.Backoff)-1)]
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+t.Token)
	if t.Origin != "" {
		hdr.Set("Origin", t.Origin)
	}
	conn, _, err := t.Dialer.DialContext(ctx, t.URL, hdr)
	return conn, err
}

// session runs one connection to completion. A successful handshake is
// silent, so the receiver is told about the connection as soon as the
// upgrade completes; a refusal then arrives as an error frame and a close.
func (t *WSTransport) session(ctx context.Context, conn *websocket.Conn, r Receiver) error {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		_ = conn.Close()
		r.OnDisconnect()
	}()

	r.OnReconnect()
	for {
		var f gateway.Frame
		if err := conn.ReadJSON(&f); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == gateway.CloseUnauthorized || ce.Code == gateway.CloseForbidden) {
				return fmt.Errorf("%w: %d %s", ErrRejected, ce.Code, ce.Text)
			}
			return err
		}
		r.Handle(f)
	}
}
