// Package realtime is the room broadcast fabric shared by both gateway
// namespaces. Connections subscribe to rooms on a per-process Hub; a Bus
// carries envelopes to every process's hub so delivery works the same on
// one node or many.
package realtime

import "encoding/json"

// Namespace separates widget and operator connections. The protocol is the
// same on both; authentication differs.
type Namespace string

const (
	NamespaceWidget   Namespace = "widget"
	NamespaceOperator Namespace = "operator"
)

// Namespaces lists both namespaces.
var Namespaces = []Namespace{NamespaceWidget, NamespaceOperator}

// ConversationRoom names the room for one conversation.
func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }

// ChannelRoom names the room for one channel.
func ChannelRoom(channelID string) string { return "channel:" + channelID }

// Envelope is one event addressed to a room in a namespace.
type Envelope struct {
	Namespace Namespace       `json:"ns"`
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	// ExceptConn skips one connection, typically the sender.
	ExceptConn string `json:"except,omitempty"`
}
