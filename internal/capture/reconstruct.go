package capture

import (
	"bytes"
	"strings"

	"github.com/jspahr/packetlens/internal/types"
)

// minHTTPPayload is the smallest payload worth inspecting; anything shorter
// cannot hold a request line.
const minHTTPPayload = 16

// shortScanLimit is the payload size up to which a full contains-scan for a
// method token is performed. Larger payloads must start with the method.
const shortScanLimit = 64

var httpMethods = []string{
	"GET", "POST", "PUT", "DELETE", "HEAD",
	"OPTIONS", "PATCH", "CONNECT", "TRACE",
}

// ContainsHTTPMethod reports whether the payload starts with a standard HTTP
// method token, or (for short payloads) contains one anywhere.
func ContainsHTTPMethod(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	for _, method := range httpMethods {
		token := []byte(method + " ")
		if bytes.HasPrefix(data, token) {
			return true
		}
		if len(data) <= shortScanLimit && bytes.Contains(data, token) {
			return true
		}
	}
	return false
}

// Reconstruct attempts to extract an HTTP request from a single captured
// segment's payload. The body is left empty: without stream reassembly only
// the header block of this one segment is trusted. A false return means the
// segment does not carry a recognizable HTTP request; that is routine for
// non-HTTP traffic and never an error.
func Reconstruct(seg Segment) (*types.CapturedRequest, bool) {
	req, ok := parsePayload(seg.Payload)
	if !ok {
		return nil, false
	}
	req.SourceIP = seg.SrcIP
	req.SourcePort = seg.SrcPort
	return req, true
}

// ReconstructWithBody is the full-packet variant: everything after the blank
// line terminating the header block is taken as the body.
func ReconstructWithBody(seg Segment) (*types.CapturedRequest, bool) {
	req, ok := Reconstruct(seg)
	if !ok {
		return nil, false
	}
	if body := sliceBody(seg.Payload); len(body) > 0 {
		req.Body = body
	}
	return req, true
}

func parsePayload(payload []byte) (*types.CapturedRequest, bool) {
	if len(payload) < minHTTPPayload {
		return nil, false
	}
	if !ContainsHTTPMethod(payload) {
		return nil, false
	}

	lines := strings.Split(string(payload), "\n")

	// Locate the request line: first line with >=3 whitespace-separated
	// parts whose first token is a known method. Mid-stream payloads may
	// carry garbage before it.
	requestLineIndex := -1
	var parts []string
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || len(line) < 5 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 3 && isKnownMethod(fields[0]) {
			requestLineIndex = i
			parts = fields
			break
		}
	}
	if requestLineIndex < 0 || len(parts) < 3 {
		return nil, false
	}

	method := parts[0]
	path := parts[1]

	headers := make(map[string]string)
	var lastHeader string
	for i := requestLineIndex + 1; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			break
		}

		// Folded continuation lines extend the previous header value.
		if line[0] == ' ' || line[0] == '\t' {
			if lastHeader != "" {
				headers[lastHeader] = headers[lastHeader] + " " + strings.TrimSpace(line)
			}
			continue
		}

		colon := strings.Index(line, ":")
		if colon <= 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])
		headers[name] = value
		lastHeader = name
	}

	return &types.CapturedRequest{
		Method:  method,
		URL:     deriveURL(path, headers),
		Headers: headers,
	}, true
}

// deriveURL composes an absolute URL from the request path and headers. The
// scheme is https when an x-forwarded-proto header says so or the path
// already carries it; the host comes from the Host header.
func deriveURL(path string, headers map[string]string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	scheme := "http"
	if headers["x-forwarded-proto"] == "https" {
		scheme = "https"
	}

	if strings.HasPrefix(path, "//") {
		return scheme + ":" + path
	}
	return scheme + "://" + headers["host"] + path
}

func sliceBody(payload []byte) []byte {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if idx := bytes.Index(payload, sep); idx >= 0 {
			body := payload[idx+len(sep):]
			if len(body) == 0 {
				return nil
			}
			out := make([]byte, len(body))
			copy(out, body)
			return out
		}
	}
	return nil
}

func isKnownMethod(token string) bool {
	for _, m := range httpMethods {
		if token == m {
			return true
		}
	}
	return false
}
