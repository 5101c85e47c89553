package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names carried in Frame.Event.
const (
	EventMessageSend        = "message:send"
	EventMessageAck         = "message:ack"
	EventMessageNew         = "message:new"
	EventSyncRequest        = "sync:request"
	EventSyncResponse       = "sync:response"
	EventPresenceHeartbeat  = "presence:heartbeat"
	EventPresenceUpdate     = "presence:update"
	EventConversationJoin   = "operator:conversation:join"
	EventConversationJoined = "operator:conversation:joined"
	EventCallOffer          = "call:offer"
	EventCallAnswer         = "call:answer"
	EventCallICE            = "call:ice"
	EventCallHangup         = "call:hangup"
	EventCallBusy           = "call:busy"
	EventCallRing           = "call:ring"
	EventCallFailed         = "call:failed"
	EventError              = "error"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMissingPayload = errors.New("missing payload")
)

// Frame is the JSON envelope of every socket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}

//
// Inbound payloads (client -> server)
//

// Inbound is the closed set of events a client may send. Decode returns
// exactly one of the concrete types below.
type Inbound interface {
	inboundEvent() string
}

// SendMessage is message:send.
type SendMessage struct {
	ConversationID  string `json:"conversationId"`
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId"`
}

// SyncRequest is sync:request.
type SyncRequest struct {
	ConversationID string `json:"conversationId"`
	SinceCreatedAt string `json:"sinceCreatedAt,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// PresenceHeartbeat is presence:heartbeat. It has no payload.
type PresenceHeartbeat struct{}

// JoinConversation is operator:conversation:join (and the joined reply).
type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

// CallSignal is the shared payload of every call:* event. SDP and Candidate
// are relayed verbatim.
type CallSignal struct {
	CallID         string          `json:"callId"`
	ConversationID string          `json:"conversationId,omitempty"`
	ChannelID      string          `json:"channelId,omitempty"`
	FromRole       string          `json:"fromRole,omitempty"`
	Kind           string          `json:"kind,omitempty"`
	SDP            json.RawMessage `json:"sdp,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
}

type (
	CallOffer  struct{ CallSignal }
	CallAnswer struct{ CallSignal }
	CallICE    struct{ CallSignal }
	CallHangup struct{ CallSignal }
	CallBusy   struct{ CallSignal }
)

func (SendMessage) inboundEvent() string       { return EventMessageSend }
func (SyncRequest) inboundEvent() string       { return EventSyncRequest }
func (PresenceHeartbeat) inboundEvent() string { return EventPresenceHeartbeat }
func (JoinConversation) inboundEvent() string  { return EventConversationJoin }
func (CallOffer) inboundEvent() string         { return EventCallOffer }
func (CallAnswer) inboundEvent() string        { return EventCallAnswer }
func (CallICE) inboundEvent() string           { return EventCallICE }
func (CallHangup) inboundEvent() string        { return EventCallHangup }
func (CallBusy) inboundEvent() string          { return EventCallBusy }

// Decode validates the frame's shape and returns its typed payload.
// Unknown events and unknown payload fields are rejected.
func Decode(f Frame) (Inbound, error) {
	switch f.Event {
	case EventMessageSend:
		var v SendMessage
		return v, decodeStrict(f.Data, &v)
	case EventSyncRequest:
		var v SyncRequest
		return v, decodeStrict(f.Data, &v)
	case EventPresenceHeartbeat:
		return PresenceHeartbeat{}, nil
	case EventConversationJoin:
		var v JoinConversation
		return v, decodeStrict(f.Data, &v)
	case EventCallOffer:
		var v CallOffer
		err := decodeStrict(f.Data, &v.CallSignal)
		return v, err
	case EventCallAnswer:
		var v CallAnswer
		err := decodeStrict(f.Data, &v.CallSignal)
		return v, err
	case EventCallICE:
		var v CallICE
		err := decodeStrict(f.Data, &v.CallSignal)
		return v, err
	case EventCallHangup:
		var v CallHangup
		err := decodeStrict(f.Data, &v.CallSignal)
		return v, err
	case EventCallBusy:
		var v CallBusy
		err := decodeStrict(f.Data, &v.CallSignal)
		return v, err
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}

func decodeStrict(data json.RawMessage, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ErrMissingPayload
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

//
// Outbound payloads (server -> client)
//

// MessageNew is message:new. ClientMessageID lets the sender's other tabs
// reconcile their optimistic entries.
type MessageNew struct {
	ServerMessageID string    `json:"serverMessageId"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	ConversationID  string    `json:"conversationId"`
	Text            string    `json:"text"`
	SenderType      string    `json:"senderType"`
	SenderID        *string   `json:"senderId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SyncResponse is sync:response.
type SyncResponse struct {
	ConversationID string       `json:"conversationId"`
	Messages       []MessageNew `json:"messages"`
}

// ErrorPayload is the error event. Code is set on handshake rejections.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
