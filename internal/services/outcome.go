package services

import "errors"

// Outcome is the explicit result kind of a core operation. The gateway
// decides per kind whether to tear the connection down, emit an error event,
// emit call:failed, or stay silent.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeAuthFailure
	OutcomeValidationFailure
	OutcomeAccessDenied
	OutcomePersistenceFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeValidationFailure:
		return "validation_failure"
	case OutcomeAccessDenied:
		return "access_denied"
	case OutcomePersistenceFailure:
		return "persistence_failure"
	}
	return "unknown"
}

// Classify maps an error returned by this package onto its Outcome.
// Unrecognized errors are treated as persistence failures so that nothing is
// acknowledged on an unexpected path.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrNotMember),
		errors.Is(err, ErrDomainNotAllowed),
		errors.Is(err, ErrChannelNotFound):
		return OutcomeAuthFailure
	case errors.Is(err, ErrForbidden):
		return OutcomeAccessDenied
	case errors.Is(err, ErrPersistence):
		return OutcomePersistenceFailure
	case errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrConversationMismatch),
		errors.Is(err, ErrEmptyText),
		errors.Is(err, ErrTextTooLong),
		errors.Is(err, ErrMissingClientID),
		errors.Is(err, ErrClientIDTooLong),
		errors.Is(err, ErrClientIDConflict),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrCallNotFound),
		errors.Is(err, ErrCallEnded):
		return OutcomeValidationFailure
	}
	return OutcomePersistenceFailure
}
