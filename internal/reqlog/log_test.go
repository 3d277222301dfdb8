package reqlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jspahr/packetlens/internal/types"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "requests.log"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func appendRequest(t *testing.T, log *Log, method, url, source string, status int) {
	t.Helper()
	req := &types.CapturedRequest{
		Method:  method,
		URL:     url,
		Headers: map[string]string{"host": "a.com"},
	}
	var resp *types.ResponseInfo
	if status != 0 {
		resp = &types.ResponseInfo{Status: status, ResponseTimeMs: 100, FinalURL: url}
	}
	if err := log.Append(NewEntry(req, resp, source)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func TestAppendRecentOrder(t *testing.T) {
	log := openTestLog(t)
	for i := 0; i < 5; i++ {
		appendRequest(t, log, "GET", fmt.Sprintf("http://a.com/%d", i), SourceMonitored, 0)
	}

	entries, err := log.Recent(3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Recent(3) = %d entries, want 3", len(entries))
	}
	// Chronological order of the newest three.
	for i, want := range []string{"http://a.com/2", "http://a.com/3", "http://a.com/4"} {
		if entries[i].Request.URL != want {
			t.Errorf("entry[%d].URL = %q, want %q", i, entries[i].Request.URL, want)
		}
	}
}

func TestRecentEmptyLog(t *testing.T) {
	log := openTestLog(t)
	entries, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Recent() on empty log = %d entries", len(entries))
	}
}

func TestRecentSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	appendRequest(t, log, "GET", "http://a.com/ok", SourceManual, 200)
	if err := log.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.WriteString("{not json at all\n"); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	_ = f.Close()

	log, err = Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer log.Close()

	entries, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Request.URL != "http://a.com/ok" {
		t.Errorf("Recent() = %+v, want single valid entry", entries)
	}
}

func TestSearch(t *testing.T) {
	log := openTestLog(t)
	appendRequest(t, log, "GET", "http://a.com/login", SourceMonitored, 0)
	appendRequest(t, log, "POST", "http://a.com/api/users", SourceManual, 201)
	appendRequest(t, log, "GET", "http://b.com/api/items", SourceMonitored, 0)

	t.Run("by url substring", func(t *testing.T) {
		entries, err := log.Search("API", 10)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Search(API) = %d entries, want 2", len(entries))
		}
	})

	t.Run("by method", func(t *testing.T) {
		entries, err := log.Search("post", 10)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(entries) != 1 || entries[0].Request.Method != "POST" {
			t.Errorf("Search(post) = %+v", entries)
		}
	})

	t.Run("by header value", func(t *testing.T) {
		entries, err := log.Search("a.com", 10)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		// All three entries carry host: a.com.
		if len(entries) != 3 {
			t.Errorf("Search(a.com) = %d entries, want 3", len(entries))
		}
	})

	t.Run("limit newest first", func(t *testing.T) {
		entries, err := log.Search("api", 1)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(entries) != 1 || entries[0].Request.URL != "http://b.com/api/items" {
			t.Errorf("Search(api, 1) = %+v, want newest match", entries)
		}
	})

	t.Run("no match", func(t *testing.T) {
		entries, err := log.Search("absent", 10)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("Search(absent) = %d entries, want 0", len(entries))
		}
	})
}

func TestStats(t *testing.T) {
	log := openTestLog(t)

	t.Run("empty log", func(t *testing.T) {
		stats, err := log.Stats()
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.TotalRequests != 0 || stats.AverageResponseTime != 0 {
			t.Errorf("Stats() = %+v, want zeros", stats)
		}
	})

	appendRequest(t, log, "GET", "http://a.com/1", SourceMonitored, 0)
	appendRequest(t, log, "GET", "http://a.com/2", SourceManual, 200)
	appendRequest(t, log, "POST", "http://a.com/3", SourceManual, 404)
	appendRequest(t, log, "GET", "http://a.com/4", SourceReplay, 500)

	t.Run("populated log", func(t *testing.T) {
		stats, err := log.Stats()
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.TotalRequests != 4 {
			t.Errorf("TotalRequests = %d, want 4", stats.TotalRequests)
		}
		if stats.MonitoredRequests != 1 || stats.ManualRequests != 2 || stats.ReplayRequests != 1 {
			t.Errorf("source counts = %d/%d/%d, want 1/2/1",
				stats.MonitoredRequests, stats.ManualRequests, stats.ReplayRequests)
		}
		if stats.SuccessfulRequests != 1 {
			t.Errorf("SuccessfulRequests = %d, want 1", stats.SuccessfulRequests)
		}
		if stats.FailedRequests != 2 {
			t.Errorf("FailedRequests = %d, want 2", stats.FailedRequests)
		}
		if stats.Methods["GET"] != 3 || stats.Methods["POST"] != 1 {
			t.Errorf("Methods = %v", stats.Methods)
		}
		// 300ms across 4 entries, integer division.
		if stats.AverageResponseTime != 75 {
			t.Errorf("AverageResponseTime = %d, want 75", stats.AverageResponseTime)
		}
	})
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("x", 1500)
	got := Preview(long)
	if len(got) != 1003 || !strings.HasSuffix(got, "...") {
		t.Errorf("Preview() len = %d, want 1000 chars plus ellipsis", len(got))
	}
	if Preview("short") != "short" {
		t.Error("short body must pass through unchanged")
	}
}
