// Package dispatcher routes incoming COMMS messages to coordinator methods.
package dispatcher

import "encoding/json"

// CoordinatorRequest is the JSON envelope for incoming COMMS coordinator requests.
type CoordinatorRequest struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// CoordinatorResponse is the JSON envelope for COMMS coordinator responses.
type CoordinatorResponse struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// InvocationContext holds context from the caller. Deadline carries an
// absolute RFC3339 timestamp after which the work is pointless; the
// dispatcher bounds the request context with it.
type InvocationContext struct {
	UserID        string `json:"userId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Env           string `json:"env,omitempty"`
	Deadline      string `json:"deadline,omitempty"`
}
