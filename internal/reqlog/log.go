package reqlog

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jspahr/packetlens/internal/metrics"
	"github.com/jspahr/packetlens/internal/types"
)

// Source tags for log entries.
const (
	SourceMonitored = "monitored"
	SourceManual    = "manual"
	SourceReplay    = "replay"
)

// bodyPreviewLimit caps the stored body preview.
const bodyPreviewLimit = 1000

// RequestInfo is the request half of a log entry.
type RequestInfo struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers"`
	BodyPreview string            `json:"body_preview"`
	SourceIP    string            `json:"source_ip"`
	SourcePort  uint16            `json:"source_port"`
}

// Entry is one appended request/response record. Entries are never mutated
// after Append.
type Entry struct {
	Timestamp time.Time           `json:"timestamp"`
	Request   RequestInfo         `json:"request"`
	Response  *types.ResponseInfo `json:"response,omitempty"`
	Source    string              `json:"source"`
}

// Stats are aggregate counters derived from a full log scan.
type Stats struct {
	TotalRequests       int            `json:"total_requests"`
	MonitoredRequests   int            `json:"monitored_requests"`
	ManualRequests      int            `json:"manual_requests"`
	ReplayRequests      int            `json:"replay_requests"`
	SuccessfulRequests  int            `json:"successful_requests"`
	FailedRequests      int            `json:"failed_requests"`
	Methods             map[string]int `json:"methods"`
	TotalResponseTime   int64          `json:"total_response_time"`
	AverageResponseTime int64          `json:"average_response_time"`
}

// Log is an append-only JSON-lines request log. One writer, any number of
// readers, all going through the same mutex-guarded handle.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates parent directories as needed and opens the log for appending.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{file: file, path: path}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append serializes the entry to one JSON line and flushes it to disk before
// returning. Write failures are surfaced, never swallowed.
func (l *Log) Append(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	metrics.LogAppends.Inc()
	return nil
}

// Recent returns the last limit successfully-parsed entries in chronological
// order. Unparseable lines are skipped with a warning; a missing file means
// an empty log.
func (l *Log) Recent(limit int) ([]Entry, error) {
	lines, err := l.readLines()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for i := len(lines) - 1; i >= 0 && len(entries) < limit; i-- {
		entry, ok := parseLine(lines[i])
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	reverse(entries)
	return entries, nil
}

// Search returns up to limit entries whose URL, method, body preview, or any
// header value contains query (case-insensitive), newest-first scan restored
// to chronological order.
func (l *Log) Search(query string, limit int) ([]Entry, error) {
	lines, err := l.readLines()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)

	var matches []Entry
	for i := len(lines) - 1; i >= 0 && len(matches) < limit; i-- {
		entry, ok := parseLine(lines[i])
		if !ok {
			continue
		}
		if entryMatches(entry, q) {
			matches = append(matches, entry)
		}
	}
	reverse(matches)
	return matches, nil
}

// Stats scans the whole log once and classifies every entry by source tag,
// method, and response status class. The average is zero for an empty log.
func (l *Log) Stats() (Stats, error) {
	lines, err := l.readLines()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Methods: make(map[string]int)}
	for _, line := range lines {
		entry, ok := parseLine(line)
		if !ok {
			continue
		}
		stats.TotalRequests++

		switch entry.Source {
		case SourceMonitored:
			stats.MonitoredRequests++
		case SourceManual:
			stats.ManualRequests++
		case SourceReplay:
			stats.ReplayRequests++
		}

		stats.Methods[entry.Request.Method]++

		if entry.Response != nil {
			switch {
			case entry.Response.Status >= 200 && entry.Response.Status < 300:
				stats.SuccessfulRequests++
			case entry.Response.Status >= 400:
				stats.FailedRequests++
			}
			stats.TotalResponseTime += entry.Response.ResponseTimeMs
		}
	}

	if stats.TotalRequests > 0 {
		stats.AverageResponseTime = stats.TotalResponseTime / int64(stats.TotalRequests)
	}
	return stats, nil
}

func (l *Log) readLines() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func parseLine(line string) (Entry, bool) {
	var entry Entry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		slog.Warn("skipping unparseable log line", "error", err)
		return Entry{}, false
	}
	return entry, true
}

func entryMatches(entry Entry, q string) bool {
	if strings.Contains(strings.ToLower(entry.Request.URL), q) ||
		strings.Contains(strings.ToLower(entry.Request.Method), q) ||
		strings.Contains(strings.ToLower(entry.Request.BodyPreview), q) {
		return true
	}
	for _, v := range entry.Request.Headers {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// NewEntry builds a log entry from a captured or manual request, truncating
// the body preview. The response may be nil.
func NewEntry(req *types.CapturedRequest, resp *types.ResponseInfo, source string) Entry {
	return Entry{
		Timestamp: time.Now().UTC(),
		Request: RequestInfo{
			Method:      req.Method,
			URL:         req.URL,
			Headers:     req.Headers,
			BodyPreview: Preview(string(req.Body)),
			SourceIP:    req.SourceIP,
			SourcePort:  req.SourcePort,
		},
		Response: resp,
		Source:   source,
	}
}

// Preview truncates a body to the stored preview limit.
func Preview(body string) string {
	if len(body) > bodyPreviewLimit {
		return body[:bodyPreviewLimit] + "..."
	}
	return body
}
