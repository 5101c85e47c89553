// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Generic codes mirror HTTP status semantics. The
// domain-specific ones name session and delivery failures that a status code
// alone cannot distinguish (a widget on a host outside the channel's
// allow-list gets 403 domain_not_allowed, an operator without an active
// membership gets 403 not_member).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "domain_not_allowed",
//	  "message": "DOMAIN_NOT_ALLOWED"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeDomainNotAllowed = "domain_not_allowed"
	ErrCodeNotMember        = "not_member"
	ErrCodeSendFailed       = "send_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeSessionFailed    = "session_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
