package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCodedError_ErrorString(t *testing.T) {
	e := New(CodeTransportGaveUp, "giving up")
	if got := e.Error(); got != "transport.gave_up: giving up" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(CodeCommandHTTPFailed, "request failed", fmt.Errorf("dial tcp: refused"))
	if got := wrapped.Error(); got != "command.http_failed: request failed (dial tcp: refused)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	wrapped := Wrap(CodeCacheOpenFailed, "open failed", cause)
	if !stderrors.Is(wrapped, cause) {
		t.Error("errors.Is does not see the cause")
	}
}

func TestGetCodeAndMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		message string
	}{
		{"nil", nil, "", ""},
		{"coded", New(CodeMergeIdMismatch, "wrong id"), CodeMergeIdMismatch, "wrong id"},
		{"plain", fmt.Errorf("plain"), CodeUnknown, "plain"},
		{"wrapped coded", fmt.Errorf("outer: %w", New(CodeDiscoveryNoHost, "none")), CodeDiscoveryNoHost, "none"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetCode(tc.err); got != tc.code {
				t.Errorf("GetCode = %q, want %q", got, tc.code)
			}
			if got := GetMessage(tc.err); got != tc.message {
				t.Errorf("GetMessage = %q, want %q", got, tc.message)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := CommandRejected("no such session")
	if !IsCode(err, CodeCommandRejected) {
		t.Error("IsCode missed matching code")
	}
	if IsCode(err, CodeTransportClosed) {
		t.Error("IsCode matched wrong code")
	}
	if IsCode(nil, CodeCommandRejected) {
		t.Error("IsCode matched nil error")
	}
}

func TestIdMismatch(t *testing.T) {
	err := IdMismatch("session", "s1", "s2")
	if !IsCode(err, CodeMergeIdMismatch) {
		t.Errorf("code = %q", GetCode(err))
	}
}
