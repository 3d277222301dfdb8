package types

import (
	"fmt"
	"strings"
)

// Error codes for stable mapping across the CLI and the inspection API.
const (
	CodeNotFound         = "not_found"
	CodePermissionDenied = "permission_denied"
	CodeInvalidInput     = "invalid_input"
	CodeTimeout          = "timeout"
	CodeTransportError   = "transport_error"
)

// CodedError is a typed error used for stable error mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError. Cause may be nil.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// CapturedRequest is an HTTP request reconstructed from captured traffic or
// built from manual input. Header names are lower-cased at construction.
type CapturedRequest struct {
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body,omitempty"`
	SourceIP   string            `json:"source_ip"`
	SourcePort uint16            `json:"source_port"`
}

// ResponseInfo is the outcome of one executed HTTP request.
type ResponseInfo struct {
	Status         int               `json:"status"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	Cookies        []string          `json:"cookies"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	FinalURL       string            `json:"final_url"`
}

// NormalizeHeaders lower-cases header names so lookups never depend on the
// wire casing. Later duplicates win.
func NormalizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}
