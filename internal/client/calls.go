package client

import (
	"encoding/json"

	"github.com/tbourn/go-sitechat/internal/callstate"
	"github.com/tbourn/go-sitechat/internal/gateway"
	"github.com/tbourn/go-sitechat/internal/services"
)

// StartCall places an outgoing call. The caller goes straight to connecting,
// so the machine's watchdog bounds how long an unanswered call rings.
func (a *Agent) StartCall(callID, kind string, sdp json.RawMessage) error {
	m := a.calls
	if a.clearSettled() != callstate.Idle {
		return ErrCallActive
	}
	m.SetSession(callstate.Session{
		CallID:         callID,
		ConversationID: a.conversationID,
		Kind:           kind,
		FromRole:       a.role,
		Outgoing:       true,
	})
	m.Transition(callstate.Ringing)
	m.Transition(callstate.Accepted)
	m.Transition(callstate.Connecting)

	err := a.transport.Emit(gateway.EventCallOffer, gateway.CallSignal{
		CallID:         callID,
		ConversationID: a.conversationID,
		Kind:           kind,
		SDP:            sdp,
	})
	if err != nil {
		m.Transition(callstate.Failed)
	}
	return err
}

// AcceptCall answers the ringing call.
func (a *Agent) AcceptCall(sdp json.RawMessage) error {
	m := a.calls
	s := m.Session()
	if m.State() != callstate.Ringing || s.CallID == "" {
		return ErrNoCall
	}
	m.Transition(callstate.Accepted)
	err := a.transport.Emit(gateway.EventCallAnswer, gateway.CallSignal{
		CallID:         s.CallID,
		ConversationID: a.conversationID,
		SDP:            sdp,
	})
	if err != nil {
		m.Transition(callstate.Failed)
		return err
	}
	m.Transition(callstate.Connecting)
	return nil
}

// DeclineCall answers the ringing call with busy.
func (a *Agent) DeclineCall() error {
	m := a.calls
	s := m.Session()
	if m.State() != callstate.Ringing || s.CallID == "" {
		return ErrNoCall
	}
	m.Transition(callstate.Busy)
	return a.transport.Emit(gateway.EventCallBusy, gateway.CallSignal{CallID: s.CallID, ConversationID: a.conversationID})
}

// SendCandidate relays a local ICE candidate for the active call.
func (a *Agent) SendCandidate(candidate json.RawMessage) error {
	s := a.calls.Session()
	if s.CallID == "" {
		return ErrNoCall
	}
	return a.transport.Emit(gateway.EventCallICE, gateway.CallSignal{
		CallID:         s.CallID,
		ConversationID: a.conversationID,
		Candidate:      candidate,
	})
}

// CallConnected marks media as flowing.
func (a *Agent) CallConnected() bool {
	return a.calls.Transition(callstate.InCall)
}

// Hangup ends the active call locally and tells the peer.
func (a *Agent) Hangup(reason string) error {
	m := a.calls
	s := m.Session()
	if s.CallID == "" {
		return ErrNoCall
	}
	m.Transition(callstate.Ended)
	return a.transport.Emit(gateway.EventCallHangup, gateway.CallSignal{
		CallID:         s.CallID,
		ConversationID: a.conversationID,
		Reason:         reason,
	})
}

// clearSettled drops a call that already failed or was declined so a new
// one can start without waiting for the server's hangup.
func (a *Agent) clearSettled() callstate.State {
	st := a.calls.State()
	if st == callstate.Failed || st == callstate.Busy {
		a.calls.Reset()
		return callstate.Idle
	}
	return st
}

// abandonCall runs when the connect watchdog gives up. The peer and the
// call record learn about it through a hangup with reason timeout.
func (a *Agent) abandonCall(s callstate.Session) {
	if s.CallID == "" {
		return
	}
	err := a.transport.Emit(gateway.EventCallHangup, gateway.CallSignal{
		CallID:         s.CallID,
		ConversationID: a.conversationID,
		Reason:         services.EndedTimeout,
	})
	if err != nil {
		a.log.Warn().Err(err).Str("call_id", s.CallID).Msg("emit call:hangup after watchdog")
	}
}

// handleCall drives the local machine from a relayed signal.
func (a *Agent) handleCall(event string, sig gateway.CallSignal) {
	if sig.ConversationID != "" && sig.ConversationID != a.conversationID {
		return
	}
	m := a.calls
	state := m.State()
	current := m.Session().CallID == sig.CallID

	switch event {
	case gateway.EventCallRing, gateway.EventCallOffer:
		if !current {
			state = a.clearSettled()
		}
		if state == callstate.Idle {
			m.SetSession(callstate.Session{
				CallID:         sig.CallID,
				ConversationID: sig.ConversationID,
				ChannelID:      sig.ChannelID,
				Kind:           sig.Kind,
				FromRole:       sig.FromRole,
				Incoming: &callstate.IncomingCall{
					CallID:         sig.CallID,
					ConversationID: sig.ConversationID,
					ChannelID:      sig.ChannelID,
					Kind:           sig.Kind,
					FromRole:       sig.FromRole,
				},
			})
			m.Transition(callstate.Ringing)
			current = true
		}
		if current && event == gateway.EventCallOffer && len(sig.SDP) > 0 {
			m.UpdateSession(func(s *callstate.Session) {
				s.RemoteSDP = string(sig.SDP)
				if s.Incoming != nil {
					s.Incoming.SDP = string(sig.SDP)
				}
			})
		}
	case gateway.EventCallAnswer:
		if current && state == callstate.Connecting {
			m.UpdateSession(func(s *callstate.Session) { s.RemoteSDP = string(sig.SDP) })
			m.Transition(callstate.InCall)
		}
	case gateway.EventCallHangup:
		if current && state != callstate.Idle && state != callstate.Ended {
			m.Transition(callstate.Ended)
		}
	case gateway.EventCallBusy:
		if current {
			if callstate.Allowed(state, callstate.Busy) {
				m.Transition(callstate.Busy)
			} else if state != callstate.Idle && state != callstate.Ended {
				m.Transition(callstate.Ended)
			}
		}
	case gateway.EventCallFailed:
		if current && callstate.Allowed(state, callstate.Failed) {
			m.Transition(callstate.Failed)
		}
	}

	if a.onSignal != nil && (current || event == gateway.EventCallRing) {
		a.onSignal(event, sig)
	}
}
