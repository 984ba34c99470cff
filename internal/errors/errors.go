// Package errors provides standardized error codes for the client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (transport, command, merge, cache, discovery)
//   - error: The specific error type within that domain
//
// These codes are stable and can be surfaced to the UI layer for
// programmatic error handling. Human-readable messages are provided
// alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Transport domain - duplex channel errors
	CodeTransportDialFailed  = "transport.dial_failed"  // WebSocket dial failed
	CodeTransportClosed      = "transport.closed"       // Connection closed unexpectedly
	CodeTransportGaveUp      = "transport.gave_up"      // Reconnect attempt ceiling reached
	CodeTransportBadFrame    = "transport.bad_frame"    // Unparseable inbound frame
	CodeTransportWriteFailed = "transport.write_failed" // Outbound write failed

	// Command domain - request/response dispatch errors
	CodeCommandHTTPFailed  = "command.http_failed"  // Non-2xx response or network failure
	CodeCommandBadResponse = "command.bad_response" // JSON parse failure on response body
	CodeCommandRejected    = "command.rejected"     // Host returned {success:false, error}

	// Merge domain - update merge protocol violations
	CodeMergeIdMismatch = "merge.id_mismatch" // Update routed to the wrong entity

	// Cache domain - local snapshot cache errors
	CodeCacheOpenFailed  = "cache.open_failed"  // Database open failed
	CodeCacheQueryFailed = "cache.query_failed" // Database query failed
	CodeCacheSaveFailed  = "cache.save_failed"  // Failed to save snapshot
	CodeCacheNotCached   = "cache.not_cached"   // No snapshot stored for the key

	// Discovery domain - mDNS browse errors
	CodeDiscoveryFailed = "discovery.failed"  // mDNS resolver failure
	CodeDiscoveryNoHost = "discovery.no_host" // No host found before timeout

	// General domain - catch-all errors
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "transport.gave_up")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// GetCode extracts the error code from an error, falling back to
// CodeUnknown for unrecognized errors and "" for nil.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// CommandRejected creates a "command.rejected" error from a host error string.
func CommandRejected(errStr string) *CodedError {
	return New(CodeCommandRejected, errStr)
}

// IdMismatch creates a "merge.id_mismatch" error. This indicates a protocol
// invariant violation, not a recoverable runtime condition; callers treat it
// as fatal.
func IdMismatch(kind, want, got string) *CodedError {
	return New(CodeMergeIdMismatch, fmt.Sprintf("%s update for id %s routed to entity %s", kind, got, want))
}
