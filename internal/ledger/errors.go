package ledger

import "errors"

var (
	// ErrUnknownOracle is returned when the submitting identity is not registered.
	ErrUnknownOracle = errors.New("unknown oracle")

	// ErrIndexMismatch is returned when the request index is not one of the oracle's slots.
	ErrIndexMismatch = errors.New("index does not match oracle request")

	// ErrUnknownRequest is returned when no request was opened under the key.
	ErrUnknownRequest = errors.New("no request for key")

	// ErrRequestClosed is returned when the request already reached quorum.
	// Callers treat it as "response not needed".
	ErrRequestClosed = errors.New("request closed")

	// ErrDuplicateSubmission is returned when an oracle responds twice to a request.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrRequestsExhausted is returned by Open when every index was already used for the
	// flight and none can be reopened.
	ErrRequestsExhausted = errors.New("all request indexes used for flight")
)
