// Package api defines the JSON request and response types exchanged with the
// irkeyd HTTP control surface.
package api

// Action names accepted by POST /action.
const (
	ActionClick = "click"
	ActionDown  = "down"
	ActionUp    = "up"
)

// Stable error codes returned in ErrorResponse.ErrorCode.
const (
	ErrCodeMalformedRequest = "malformed_request"
	ErrCodeUnknownAction    = "unknown_action"
	ErrCodeUnknownKey       = "unknown_key"
	ErrCodeEmptyScancodes   = "empty_scancodes"
	ErrCodeCommandFailed    = "command_failed"
	ErrCodeToolMissing      = "tool_missing"
)

// ActionRequest is the body for POST /action.
type ActionRequest struct {
	// Action selects the operation: click, down, or up.
	Action string `json:"action"`
	// Key is the logical button name from the key table.
	Key string `json:"key"`
	// ClientID identifies the remote-control client holding the key. Required
	// for down/up so concurrent clients track independent press sessions.
	ClientID string `json:"client_id"`
}

// ActionResponse acknowledges a successful action.
type ActionResponse struct {
	// OK is true for every non-error response.
	OK bool `json:"ok"`
	// Msg reports the outcome: sent, started, already down, stopping, not active.
	Msg string `json:"msg"`
}

// ErrorResponse is the canonical error envelope for API errors.
type ErrorResponse struct {
	// OK is always false on errors, mirroring the success envelope.
	OK bool `json:"ok"`
	// ErrorCode is the stable irkeyd error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
}
