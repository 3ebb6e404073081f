// Package handlers defines HTTP-layer error codes used by the debug API.
//
// Codes are lowercase snake_case and stable: clients (and the occasional
// curl session) branch on them rather than on message text.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeSubmitFailed = "submit_failed"
	ErrCodeNoSession    = "no_active_session"
)
