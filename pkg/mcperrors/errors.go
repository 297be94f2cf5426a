// Package mcperrors provides the dual-channel error taxonomy for the tool
// server. A ProtocolError aborts the call with a JSON-RPC error object; an
// ExecutionError is delivered as a successful response whose payload carries
// a tool-failure marker. Every error leaving the tool boundary is classified
// into exactly one of the two kinds before it reaches a transport.
package mcperrors

import (
	"errors"
	"fmt"

	"github.com/mdtools/mdtd/pkg/protocol"
)

// ProtocolError aborts a call at the protocol level. It is rendered as the
// error member of a JSON-RPC response.
type ProtocolError struct {
	Code    protocol.ErrorCode
	Message string
	Data    interface{}
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return e.Message
}

// ToResponse renders the error as a JSON-RPC error response for the given
// request id.
func (e *ProtocolError) ToResponse(id interface{}) *protocol.Response {
	return protocol.NewErrorResponse(id, e.Code, e.Message, e.Data)
}

// ExecutionError marks a tool that ran but failed at the business level. It
// is rendered as a successful JSON-RPC response whose result payload carries
// the isError marker.
type ExecutionError struct {
	Text string
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	return e.Text
}

// ToResult renders the failure as a tool result payload.
func (e *ExecutionError) ToResult() *protocol.CallToolResult {
	return protocol.NewErrorResult(e.Text)
}

// NewProtocolError creates a protocol error with the given code
func NewProtocolError(code protocol.ErrorCode, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// NewProtocolErrorf creates a protocol error with a formatted message
func NewProtocolErrorf(code protocol.ErrorCode, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewExecutionError creates an execution error carrying the failure text
func NewExecutionError(text string) *ExecutionError {
	return &ExecutionError{Text: text}
}

// InvalidRequest creates a -32600 protocol error
func InvalidRequest(reason string) *ProtocolError {
	return NewProtocolError(protocol.InvalidRequest, reason)
}

// MethodNotFound creates a -32601 protocol error naming the method
func MethodNotFound(method string) *ProtocolError {
	return NewProtocolErrorf(protocol.MethodNotFound, "Method not found: %s", method)
}

// InternalError creates a -32603 protocol error with the cause in data
func InternalError(cause string) *ProtocolError {
	return &ProtocolError{
		Code:    protocol.InternalError,
		Message: "Internal error",
		Data:    map[string]string{"detail": cause},
	}
}

// RateLimited creates a -32000 protocol error for a rate-limit denial. The
// message always names the configured per-window maximum; when retryAfter is
// positive the retry hint is embedded in the message as well and carried as
// structured data for the HTTP transport's Retry-After header.
func RateLimited(maxRequests int, retryAfter int) *ProtocolError {
	msg := fmt.Sprintf("rate limit exceeded: maximum %d requests per window", maxRequests)
	if retryAfter > 0 {
		msg = fmt.Sprintf("%s, retry after %d seconds", msg, retryAfter)
	}
	return &ProtocolError{
		Code:    protocol.ServerError,
		Message: msg,
		Data:    &RateLimitData{MaxRequests: maxRequests, RetryAfter: retryAfter},
	}
}

// AsProtocolError extracts a ProtocolError from an error chain
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// AsExecutionError extracts an ExecutionError from an error chain
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
