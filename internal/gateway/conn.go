package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-sitechat/internal/realtime"
	"github.com/tbourn/go-sitechat/internal/services"
)

const writeWait = 10 * time.Second

// Conn is one authenticated socket. All writes go through a single writer
// goroutine fed by a buffered channel, so Deliver never blocks the hub.
type Conn struct {
	id    string
	ns    realtime.Namespace
	ws    *websocket.Conn
	actor services.Actor
	log   zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

func newConn(ws *websocket.Conn, ns realtime.Namespace, actor services.Actor, buffer int, limiter *rate.Limiter, log zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:    id,
		ns:    ns,
		ws:    ws,
		actor: actor,
		log: log.With().
			Str("conn_id", id).
			Str("ns", string(ns)).
			Str("channel_id", actor.ChannelID).
			Str("conversation_id", actor.ConversationID).
			Str("subject", actor.Subject()).
			Logger(),
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// ID implements realtime.Subscriber.
func (c *Conn) ID() string { return c.id }

// Actor returns the session context bound at handshake.
func (c *Conn) Actor() services.Actor { return c.actor }

// Deliver implements realtime.Subscriber.
func (c *Conn) Deliver(env realtime.Envelope) bool {
	b, err := json.Marshal(Frame{Event: env.Event, Data: env.Data})
	if err != nil {
		return false
	}
	return c.enqueue(b)
}

// Emit queues an event for this connection only.
func (c *Conn) Emit(event string, payload any) bool {
	f, err := NewFrame(event, payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return false
	}
	b, err := json.Marshal(f)
	if err != nil {
		return false
	}
	if !c.enqueue(b) {
		c.log.Warn().Str("event", event).Msg("send buffer full; dropping event")
		return false
	}
	return true
}

func (c *Conn) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still buffered, best effort.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readLoop reads frames until the socket fails. Malformed and rate-limited
// frames are answered with an error event and skipped.
func (c *Conn) readLoop(readLimit int64, pingInterval time.Duration, handle func(Frame)) error {
	pongWait := pingInterval * 2
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			c.Emit(EventError, ErrorPayload{Message: "malformed frame"})
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.Emit(EventError, ErrorPayload{Message: "rate limited", Code: "RATE_LIMITED"})
			continue
		}
		handle(f)
	}
}
