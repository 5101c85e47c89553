package services

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeOK},
		{ErrUnauthenticated, OutcomeAuthFailure},
		{ErrNotMember, OutcomeAuthFailure},
		{ErrDomainNotAllowed, OutcomeAuthFailure},
		{fmt.Errorf("handshake: %w", ErrChannelNotFound), OutcomeAuthFailure},
		{ErrForbidden, OutcomeAccessDenied},
		{ErrEmptyText, OutcomeValidationFailure},
		{ErrTextTooLong, OutcomeValidationFailure},
		{ErrMissingClientID, OutcomeValidationFailure},
		{ErrConversationMismatch, OutcomeValidationFailure},
		{ErrClientIDConflict, OutcomeValidationFailure},
		{ErrCallEnded, OutcomeValidationFailure},
		{persistErr("insert", errors.New("disk I/O error")), OutcomePersistenceFailure},
		{errors.New("something unexpected"), OutcomePersistenceFailure},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestPersistErr_KeepsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := persistErr("insert message", cause)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, cause) {
		t.Fatalf("wrapped error lost a link: %v", err)
	}
}

func TestOutcome_String(t *testing.T) {
	if OutcomeAccessDenied.String() != "access_denied" || Outcome(99).String() != "unknown" {
		t.Fatal("unexpected Outcome strings")
	}
}

func TestFailureReason(t *testing.T) {
	cases := map[error]string{
		ErrForbidden:                       ReasonForbidden,
		ErrInvalidPayload:                  ReasonInvalidPayload,
		ErrCallNotFound:                    ReasonNotFound,
		ErrCallEnded:                       ReasonRecordFailed,
		persistErr("x", errors.New("boom")): ReasonRecordFailed,
	}
	for err, want := range cases {
		if got := FailureReason(err); got != want {
			t.Errorf("FailureReason(%v) = %q, want %q", err, got, want)
		}
	}
}
