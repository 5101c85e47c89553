package callstate

// IncomingCall describes an offer received from the peer.
type IncomingCall struct {
	CallID         string
	ConversationID string
	ChannelID      string
	Kind           string
	FromRole       string
	SDP            string
}

// Session is the local call descriptor that travels with a Machine.
type Session struct {
	CallID         string
	ConversationID string
	ChannelID      string
	Kind           string
	FromRole       string
	Outgoing       bool
	Incoming       *IncomingCall
	RemoteSDP      string
}
