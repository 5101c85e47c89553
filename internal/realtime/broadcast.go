package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// Broadcaster addresses protocol events to rooms through a Bus.
type Broadcaster struct {
	bus Bus
}

// NewBroadcaster returns a Broadcaster publishing on bus.
func NewBroadcaster(bus Bus) *Broadcaster { return &Broadcaster{bus: bus} }

// ToConversation sends an event to conversation:{id} in both namespaces,
// skipping except (pass "" to include everyone).
func (b *Broadcaster) ToConversation(ctx context.Context, conversationID, event string, payload any, except string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var errs []error
	for _, ns := range Namespaces {
		errs = append(errs, b.bus.Publish(ctx, Envelope{
			Namespace:  ns,
			Room:       ConversationRoom(conversationID),
			Event:      event,
			Data:       data,
			ExceptConn: except,
		}))
	}
	return errors.Join(errs...)
}

// ToChannelOperators sends an event to channel:{id} in the operator namespace.
func (b *Broadcaster) ToChannelOperators(ctx context.Context, channelID, event string, payload any, except string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.bus.Publish(ctx, Envelope{
		Namespace:  NamespaceOperator,
		Room:       ChannelRoom(channelID),
		Event:      event,
		Data:       data,
		ExceptConn: except,
	})
}
