package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(event, data string) Frame {
	f := Frame{Event: event}
	if data != "" {
		f.Data = json.RawMessage(data)
	}
	return f
}

func TestDecode_SendMessage(t *testing.T) {
	in, err := Decode(frame(EventMessageSend, `{"conversationId":"c1","text":"hi","clientMessageId":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, SendMessage{ConversationID: "c1", Text: "hi", ClientMessageID: "m1"}, in)
}

func TestDecode_SyncRequest(t *testing.T) {
	in, err := Decode(frame(EventSyncRequest, `{"conversationId":"c1","sinceCreatedAt":"2025-01-01T00:00:00Z","limit":50}`))
	require.NoError(t, err)
	req, ok := in.(SyncRequest)
	require.True(t, ok)
	assert.Equal(t, 50, req.Limit)
	assert.Equal(t, "2025-01-01T00:00:00Z", req.SinceCreatedAt)
}

func TestDecode_HeartbeatNeedsNoPayload(t *testing.T) {
	in, err := Decode(frame(EventPresenceHeartbeat, ""))
	require.NoError(t, err)
	assert.IsType(t, PresenceHeartbeat{}, in)
}

func TestDecode_CallEventsShareSignal(t *testing.T) {
	data := `{"callId":"k1","conversationId":"c1","sdp":{"type":"offer","sdp":"v=0"}}`
	cases := map[string]any{
		EventCallOffer:  CallOffer{},
		EventCallAnswer: CallAnswer{},
		EventCallICE:    CallICE{},
		EventCallHangup: CallHangup{},
		EventCallBusy:   CallBusy{},
	}
	for event, want := range cases {
		t.Run(event, func(t *testing.T) {
			in, err := Decode(frame(event, data))
			require.NoError(t, err)
			assert.IsType(t, want, in)
		})
	}

	in, err := Decode(frame(EventCallOffer, data))
	require.NoError(t, err)
	sig := in.(CallOffer).CallSignal
	assert.Equal(t, "k1", sig.CallID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(sig.SDP))
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
		want error
	}{
		{"unknown event", frame("message:edit", `{}`), ErrUnknownEvent},
		{"server-only event", frame(EventMessageAck, `{}`), ErrUnknownEvent},
		{"missing payload", frame(EventMessageSend, ""), ErrMissingPayload},
		{"null payload", frame(EventSyncRequest, "null"), ErrMissingPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.f)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_UnknownFieldRejected(t *testing.T) {
	_, err := Decode(frame(EventMessageSend, `{"conversationId":"c1","text":"hi","clientMessageId":"m1","admin":true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid payload")
}

func TestDecode_WrongFieldType(t *testing.T) {
	_, err := Decode(frame(EventSyncRequest, `{"conversationId":"c1","limit":"ten"}`))
	assert.Error(t, err)
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(EventError, ErrorPayload{Message: "nope"})
	require.NoError(t, err)
	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":{"message":"nope"}}`, string(b))

	f, err = NewFrame(EventPresenceHeartbeat, nil)
	require.NoError(t, err)
	b, _ = json.Marshal(f)
	assert.JSONEq(t, `{"event":"presence:heartbeat"}`, string(b))
}

func TestMessageNew_OmitsVisitorSenderID(t *testing.T) {
	b, err := json.Marshal(MessageNew{ServerMessageID: "s1", ConversationID: "c1", Text: "hi", SenderType: "visitor"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "senderId")
	assert.NotContains(t, string(b), "clientMessageId")
}
