package capture

import (
	"testing"
	"time"
)

func segWithPayload(payload string) Segment {
	return Segment{
		SrcIP:     "192.168.1.10",
		DstIP:     "93.184.216.34",
		SrcPort:   54321,
		DstPort:   80,
		Protocol:  "TCP",
		Payload:   []byte(payload),
		Timestamp: time.Now(),
	}
}

func TestReconstructBasicGet(t *testing.T) {
	payload := "GET /index.html HTTP/1.1\r\nHost: a.com\r\nUser-Agent: curl/8.0\r\n\r\n"
	req, ok := Reconstruct(segWithPayload(payload))
	if !ok {
		t.Fatalf("Reconstruct() ok = false, want request")
	}
	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.URL != "http://a.com/index.html" {
		t.Errorf("URL = %q, want http://a.com/index.html", req.URL)
	}
	if req.Headers["host"] != "a.com" {
		t.Errorf("host header = %q, want a.com", req.Headers["host"])
	}
	if req.SourceIP != "192.168.1.10" || req.SourcePort != 54321 {
		t.Errorf("source = %s:%d, want 192.168.1.10:54321", req.SourceIP, req.SourcePort)
	}
}

func TestReconstructHTTPSScheme(t *testing.T) {
	payload := "POST /api/v1/login HTTP/1.1\r\nHost: secure.example.com\r\nX-Forwarded-Proto: https\r\n\r\n"
	req, ok := Reconstruct(segWithPayload(payload))
	if !ok {
		t.Fatalf("Reconstruct() ok = false, want request")
	}
	if req.URL != "https://secure.example.com/api/v1/login" {
		t.Errorf("URL = %q, want https scheme", req.URL)
	}
}

func TestReconstructRejections(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no method token", "Host: a.com\r\nAccept: */*\r\nContent-Type: text/plain\r\n\r\n"},
		{"unknown method", "FOO /path HTTP/1.1\r\nHost: a.com\r\n\r\n"},
		{"too short", "GET /"},
		{"binary noise", string([]byte{0x16, 0x03, 0x01, 0x02, 0x00, 0x01, 0x00, 0x01, 0xfc, 0x03, 0x03, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Reconstruct(segWithPayload(tt.payload)); ok {
				t.Fatalf("Reconstruct() accepted payload, want rejection")
			}
		})
	}
}

func TestReconstructAbsoluteURL(t *testing.T) {
	payload := "GET http://proxy-target.com/resource HTTP/1.1\r\nHost: proxy-target.com\r\n\r\n"
	req, ok := Reconstruct(segWithPayload(payload))
	if !ok {
		t.Fatalf("Reconstruct() ok = false, want request")
	}
	if req.URL != "http://proxy-target.com/resource" {
		t.Errorf("URL = %q, want absolute form preserved", req.URL)
	}
}

func TestReconstructWithBody(t *testing.T) {
	payload := "POST /submit HTTP/1.1\r\nHost: a.com\r\nContent-Type: application/json\r\n\r\n{\"key\":\"value\"}"
	req, ok := ReconstructWithBody(segWithPayload(payload))
	if !ok {
		t.Fatalf("ReconstructWithBody() ok = false, want request")
	}
	if string(req.Body) != `{"key":"value"}` {
		t.Errorf("Body = %q, want JSON payload", req.Body)
	}

	// The headers-only variant must leave the body empty.
	bare, ok := Reconstruct(segWithPayload(payload))
	if !ok {
		t.Fatalf("Reconstruct() ok = false, want request")
	}
	if len(bare.Body) != 0 {
		t.Errorf("Reconstruct() body = %q, want empty", bare.Body)
	}
}

func TestReconstructFoldedHeader(t *testing.T) {
	payload := "GET / HTTP/1.1\r\nHost: a.com\r\nX-Long: first\r\n second\r\n\r\n"
	req, ok := Reconstruct(segWithPayload(payload))
	if !ok {
		t.Fatalf("Reconstruct() ok = false, want request")
	}
	if req.Headers["x-long"] != "first second" {
		t.Errorf("x-long = %q, want folded continuation merged", req.Headers["x-long"])
	}
}

func TestContainsHTTPMethod(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"prefix", "GET / HTTP/1.1\r\n", true},
		{"delete prefix", "DELETE /x HTTP/1.1\r\n", true},
		{"embedded short", "xx POST /y", true},
		{"no method", "Hello world, nothing here", false},
		{"embedded past scan limit", string(make([]byte, 70)) + "GET /late", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsHTTPMethod([]byte(tt.payload)); got != tt.want {
				t.Errorf("ContainsHTTPMethod() = %v, want %v", got, tt.want)
			}
		})
	}
}
