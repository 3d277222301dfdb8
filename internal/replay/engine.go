package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/jspahr/packetlens/internal/client"
	"github.com/jspahr/packetlens/internal/metrics"
	"github.com/jspahr/packetlens/internal/reqlog"
	"github.com/jspahr/packetlens/internal/types"
)

// Options controls one replay run.
type Options struct {
	// Limit selects how many recent log entries are considered.
	Limit int
	// Source filters entries by source tag; empty means all.
	Source string
	// Count is the repetition count for each request.
	Count int
	// Delay is slept between repeats of one request; twice the delay is
	// slept between distinct requests.
	Delay time.Duration
}

// Summary reports the outcome of a run.
type Summary struct {
	Requests  int
	Attempts  int
	Succeeded int
	Failed    int
}

// Engine re-issues logged requests through the HTTP client, logging every
// attempt as a replay entry. A failed attempt is reported and never aborts
// the remaining replays.
type Engine struct {
	client *client.Client
	log    *reqlog.Log
}

// NewEngine creates a replay engine.
func NewEngine(c *client.Client, log *reqlog.Log) *Engine {
	return &Engine{client: c, log: log}
}

// Run replays the selected entries sequentially.
func (e *Engine) Run(ctx context.Context, opts Options) (*Summary, error) {
	entries, err := e.log.Recent(opts.Limit)
	if err != nil {
		return nil, err
	}

	var requests []types.CapturedRequest
	for _, entry := range entries {
		if opts.Source != "" && entry.Source != opts.Source {
			continue
		}
		requests = append(requests, types.CapturedRequest{
			Method:  entry.Request.Method,
			URL:     entry.Request.URL,
			Headers: entry.Request.Headers,
			Body:    []byte(entry.Request.BodyPreview),
		})
	}

	summary := &Summary{Requests: len(requests)}
	if len(requests) == 0 {
		slog.Info("no requests found to replay")
		return summary, nil
	}

	slog.Info("starting replay", "requests", len(requests), "count", opts.Count, "delay", opts.Delay)

	for i := range requests {
		req := &requests[i]
		for attempt := 1; attempt <= opts.Count; attempt++ {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Attempts++

			resp, err := e.client.Replay(ctx, req)
			if err != nil {
				summary.Failed++
				metrics.ReplayAttempts.WithLabelValues("failure").Inc()
				slog.Error("replay attempt failed",
					"url", req.URL, "attempt", attempt, "count", opts.Count, "error", err)
			} else {
				summary.Succeeded++
				metrics.ReplayAttempts.WithLabelValues("success").Inc()
				slog.Info("replay attempt completed",
					"url", req.URL, "status", resp.Status, "elapsed_ms", resp.ResponseTimeMs)
				if logErr := e.log.Append(reqlog.NewEntry(req, resp, reqlog.SourceReplay)); logErr != nil {
					slog.Error("failed to log replay", "error", logErr)
				}
			}

			if attempt < opts.Count && opts.Delay > 0 {
				time.Sleep(opts.Delay)
			}
		}

		if i < len(requests)-1 && opts.Delay > 0 {
			time.Sleep(opts.Delay * 2)
		}
	}

	return summary, nil
}
