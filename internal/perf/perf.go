package perf

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptrace"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jspahr/packetlens/internal/client"
)

// Severity is the performance class assigned to a measured response time.
type Severity string

const (
	SeverityExcellent Severity = "excellent"
	SeverityGood      Severity = "good"
	SeverityAverage   Severity = "average"
	SeverityPoor      Severity = "poor"
	SeverityCritical  Severity = "critical"
)

// Fixed classification thresholds in milliseconds.
const (
	thresholdExcellent = 100
	thresholdGood      = 500
	thresholdAverage   = 1000
	thresholdPoor      = 3000
)

// interIterationDelay is slept between test iterations.
const interIterationDelay = 100 * time.Millisecond

// Classify buckets a total response time into a severity class.
func Classify(totalMs int64) Severity {
	switch {
	case totalMs <= thresholdExcellent:
		return SeverityExcellent
	case totalMs <= thresholdGood:
		return SeverityGood
	case totalMs <= thresholdAverage:
		return SeverityAverage
	case totalMs <= thresholdPoor:
		return SeverityPoor
	default:
		return SeverityCritical
	}
}

// PhaseTimings are measured sub-phase durations for one request, taken from
// transport-layer callbacks. A phase that did not occur (reused connection,
// plain HTTP) is zero.
type PhaseTimings struct {
	DNSMs       int64 `json:"dns_ms"`
	ConnectMs   int64 `json:"connect_ms"`
	TLSMs       int64 `json:"tls_ms"`
	FirstByteMs int64 `json:"first_byte_ms"`
	DownloadMs  int64 `json:"download_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// Analysis is the result of one test iteration.
type Analysis struct {
	URL          string       `json:"url"`
	Iteration    int          `json:"iteration"`
	Status       int          `json:"status"`
	Timings      PhaseTimings `json:"timings"`
	ResponseSize int          `json:"response_size_bytes"`
	Severity     Severity     `json:"severity"`
}

// Runner issues sequential GET requests against one URL and classifies each
// iteration's latency.
type Runner struct {
	client *client.Client
}

// NewRunner creates a performance runner on top of the HTTP client.
func NewRunner(c *client.Client) *Runner {
	return &Runner{client: c}
}

// Run executes iterations sequential GETs with a short fixed delay between
// them. A failed iteration is logged and excluded from the results; it never
// aborts the run.
func (r *Runner) Run(ctx context.Context, url string, iterations int) ([]Analysis, error) {
	var results []Analysis

	slog.Info("running performance test", "url", url, "iterations", iterations)

	for i := 1; i <= iterations; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		analysis, err := r.runOnce(ctx, url, i)
		if err != nil {
			slog.Warn("performance iteration failed", "iteration", i, "error", err)
		} else {
			slog.Info("performance iteration completed",
				"iteration", i, "total_ms", analysis.Timings.TotalMs, "severity", analysis.Severity)
			results = append(results, analysis)
		}

		if i < iterations {
			time.Sleep(interIterationDelay)
		}
	}

	return results, nil
}

func (r *Runner) runOnce(ctx context.Context, url string, iteration int) (Analysis, error) {
	var rec phaseRecorder
	traceCtx := httptrace.WithClientTrace(ctx, rec.trace())

	start := time.Now()
	resp, err := r.client.Do(traceCtx, client.Request{
		Method:          "GET",
		URL:             url,
		TimeoutSeconds:  30,
		FollowRedirects: true,
	})
	if err != nil {
		return Analysis{}, err
	}
	total := time.Since(start)

	timings := rec.timings(start, total)
	return Analysis{
		URL:          url,
		Iteration:    iteration,
		Status:       resp.Status,
		Timings:      timings,
		ResponseSize: len(resp.Body),
		Severity:     Classify(timings.TotalMs),
	}, nil
}

// phaseRecorder collects httptrace callback timestamps. Callbacks can fire
// from transport goroutines, hence the mutex.
type phaseRecorder struct {
	mu           sync.Mutex
	dnsStart     time.Time
	dnsDone      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	firstByte    time.Time
}

func (p *phaseRecorder) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			p.stamp(&p.dnsStart)
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			p.stamp(&p.dnsDone)
		},
		ConnectStart: func(string, string) {
			p.stamp(&p.connectStart)
		},
		ConnectDone: func(string, string, error) {
			p.stamp(&p.connectDone)
		},
		TLSHandshakeStart: func() {
			p.stamp(&p.tlsStart)
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			p.stamp(&p.tlsDone)
		},
		GotFirstResponseByte: func() {
			p.stamp(&p.firstByte)
		},
	}
}

func (p *phaseRecorder) stamp(t *time.Time) {
	p.mu.Lock()
	if t.IsZero() {
		*t = time.Now()
	}
	p.mu.Unlock()
}

func (p *phaseRecorder) timings(start time.Time, total time.Duration) PhaseTimings {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := PhaseTimings{TotalMs: total.Milliseconds()}
	t.DNSMs = span(p.dnsStart, p.dnsDone)
	t.ConnectMs = span(p.connectStart, p.connectDone)
	t.TLSMs = span(p.tlsStart, p.tlsDone)
	if !p.firstByte.IsZero() {
		t.FirstByteMs = p.firstByte.Sub(start).Milliseconds()
		t.DownloadMs = total.Milliseconds() - t.FirstByteMs
	}
	return t
}

func span(from, to time.Time) int64 {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return to.Sub(from).Milliseconds()
}

// WriteReport writes the analyses as a pretty-printed JSON array.
func WriteReport(path string, analyses []Analysis) error {
	data, err := json.MarshalIndent(analyses, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Summarize renders a human-readable summary: request count, min/avg/max and
// the severity distribution.
func Summarize(analyses []Analysis) string {
	if len(analyses) == 0 {
		return "No performance data available"
	}

	times := make([]int64, 0, len(analyses))
	dist := make(map[Severity]int)
	var sum int64
	for _, a := range analyses {
		times = append(times, a.Timings.TotalMs)
		sum += a.Timings.TotalMs
		dist[a.Severity]++
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "=== PERFORMANCE ANALYSIS SUMMARY ===\n\n")
	fmt.Fprintf(&b, "Total Requests: %d\n", len(analyses))
	fmt.Fprintf(&b, "Average Response Time: %dms\n", sum/int64(len(analyses)))
	fmt.Fprintf(&b, "Minimum Response Time: %dms\n", times[0])
	fmt.Fprintf(&b, "Maximum Response Time: %dms\n", times[len(times)-1])
	fmt.Fprintf(&b, "\nPerformance Distribution:\n")
	fmt.Fprintf(&b, "  excellent (<=%dms): %d\n", thresholdExcellent, dist[SeverityExcellent])
	fmt.Fprintf(&b, "  good      (<=%dms): %d\n", thresholdGood, dist[SeverityGood])
	fmt.Fprintf(&b, "  average   (<=%dms): %d\n", thresholdAverage, dist[SeverityAverage])
	fmt.Fprintf(&b, "  poor      (<=%dms): %d\n", thresholdPoor, dist[SeverityPoor])
	fmt.Fprintf(&b, "  critical  (>%dms): %d\n", thresholdPoor, dist[SeverityCritical])
	return b.String()
}
