// Package services holds the realtime core's business logic: sessions,
// access checks, message delivery, call signaling and presence.
// This file centralizes the service-level error values so that callers can
// classify them with errors.Is (see Classify) and translate them into socket
// events or HTTP status codes at the transport layer.
package services

import (
	"errors"
	"fmt"
)

// Authentication errors. A connection presenting one of these is refused.
var (
	// ErrUnauthenticated indicates a missing or unverifiable credential.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotMember is returned when an operator has no active membership on
	// the channel the credential names.
	ErrNotMember = errors.New("membership inactive or missing")

	// ErrDomainNotAllowed is returned when the widget's embedding host is not
	// on the channel's allow-list.
	ErrDomainNotAllowed = errors.New("DOMAIN_NOT_ALLOWED")

	// ErrChannelNotFound indicates the credential or request names an unknown channel.
	ErrChannelNotFound = errors.New("channel not found")
)

// Validation errors. The operation is aborted before any state change.
var (
	// ErrConversationNotFound indicates the conversation id does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationMismatch is returned when the conversation is not the
	// one bound to the connection (or not on the operator's channel).
	ErrConversationMismatch = errors.New("conversation not accessible from this session")

	// ErrEmptyText is returned when the normalized text is empty.
	ErrEmptyText = errors.New("text is empty")

	// ErrTextTooLong is returned when the text exceeds the configured rune limit.
	ErrTextTooLong = errors.New("text too long")

	// ErrMissingClientID is returned when a send carries no clientMessageId.
	ErrMissingClientID = errors.New("clientMessageId is required")

	// ErrClientIDTooLong is returned when a clientMessageId exceeds 128 bytes.
	ErrClientIDTooLong = errors.New("clientMessageId too long")

	// ErrClientIDConflict is returned when a clientMessageId already names a
	// message in a different conversation or from a different sender.
	ErrClientIDConflict = errors.New("clientMessageId already used by another message")

	// ErrInvalidPayload covers malformed call signaling payloads.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrCallNotFound indicates the call id has no record.
	ErrCallNotFound = errors.New("call not found")

	// ErrCallEnded is returned when answering a call whose record is terminal.
	ErrCallEnded = errors.New("call already ended")
)

// ErrForbidden is returned when the connection is not a party to the call's
// conversation or channel.
var ErrForbidden = errors.New("FORBIDDEN")

// ErrPersistence marks failures of the relational store. Callers must not
// acknowledge anything when they see it.
var ErrPersistence = errors.New("persistence failure")

// persistErr wraps a store error so it classifies as a persistence failure
// while keeping the underlying cause inspectable.
func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
