package types

import (
	"errors"
	"testing"
)

func TestCodedErrorMessage(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewError(CodeTransportError, "request failed", cause)
	if got := err.Error(); got != "transport_error: request failed: socket closed" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() cannot see the cause through Unwrap")
	}

	bare := NewError(CodeNotFound, "no such interface", nil)
	if got := bare.Error(); got != "not_found: no such interface" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNormalizeHeaders(t *testing.T) {
	got := NormalizeHeaders(map[string]string{
		"Content-Type": "text/html",
		"X-Custom":     "v",
	})
	if got["content-type"] != "text/html" || got["x-custom"] != "v" {
		t.Errorf("NormalizeHeaders() = %v", got)
	}
	if _, ok := got["Content-Type"]; ok {
		t.Error("original casing survived normalization")
	}
}
