package replay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jspahr/packetlens/internal/client"
	"github.com/jspahr/packetlens/internal/cookie"
	"github.com/jspahr/packetlens/internal/reqlog"
	"github.com/jspahr/packetlens/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *reqlog.Log) {
	t.Helper()
	log, err := reqlog.Open(filepath.Join(t.TempDir(), "requests.log"))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })

	store := cookie.NewStore(filepath.Join(t.TempDir(), "cookies.json"))
	return NewEngine(client.New(store), log), log
}

func seedEntry(t *testing.T, log *reqlog.Log, method, url, source string) {
	t.Helper()
	req := &types.CapturedRequest{Method: method, URL: url, Headers: map[string]string{"host": "a.com"}}
	if err := log.Append(reqlog.NewEntry(req, nil, source)); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func TestRunReplaysLoggedRequests(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	engine, log := newTestEngine(t)
	seedEntry(t, log, "GET", srv.URL+"/one", reqlog.SourceMonitored)
	seedEntry(t, log, "GET", srv.URL+"/two", reqlog.SourceMonitored)

	summary, err := engine.Run(context.Background(), Options{Limit: 10, Count: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Requests != 2 || summary.Attempts != 4 {
		t.Errorf("summary = %+v, want 2 requests / 4 attempts", summary)
	}
	if summary.Succeeded != 4 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want all successes", summary)
	}
	if hits.Load() != 4 {
		t.Errorf("server hits = %d, want 4", hits.Load())
	}

	// Every successful attempt is logged back with the replay tag.
	entries, err := log.Recent(100)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	replays := 0
	for _, entry := range entries {
		if entry.Source == reqlog.SourceReplay {
			replays++
		}
	}
	if replays != 4 {
		t.Errorf("replay log entries = %d, want 4", replays)
	}
}

func TestRunSourceFilter(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	engine, log := newTestEngine(t)
	seedEntry(t, log, "GET", srv.URL+"/captured", reqlog.SourceMonitored)
	seedEntry(t, log, "POST", srv.URL+"/typed", reqlog.SourceManual)

	summary, err := engine.Run(context.Background(), Options{Limit: 10, Source: reqlog.SourceManual, Count: 1})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Requests != 1 || summary.Attempts != 1 {
		t.Errorf("summary = %+v, want the single manual entry", summary)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestRunFailuresDoNotAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	liveURL := srv.URL
	defer srv.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	engine, log := newTestEngine(t)
	seedEntry(t, log, "GET", deadURL+"/gone", reqlog.SourceMonitored)
	seedEntry(t, log, "GET", liveURL+"/alive", reqlog.SourceMonitored)

	summary, err := engine.Run(context.Background(), Options{Limit: 10, Count: 1})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Failed != 1 || summary.Succeeded != 1 {
		t.Errorf("summary = %+v, want one failure and one success", summary)
	}
}

func TestRunEmptyLog(t *testing.T) {
	engine, _ := newTestEngine(t)
	summary, err := engine.Run(context.Background(), Options{Limit: 10, Count: 3})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Requests != 0 || summary.Attempts != 0 {
		t.Errorf("summary = %+v, want empty run", summary)
	}
}

func TestRunCanceledContext(t *testing.T) {
	engine, log := newTestEngine(t)
	seedEntry(t, log, "GET", "http://127.0.0.1:1/void", reqlog.SourceMonitored)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Run(ctx, Options{Limit: 10, Count: 1}); err == nil {
		t.Fatal("Run() error = nil, want context error")
	}
}
