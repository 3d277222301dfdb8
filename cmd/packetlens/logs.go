package main

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jspahr/packetlens/internal/reqlog"
)

type logsCommand struct {
	Limit  int    `short:"n" long:"limit" description:"Maximum number of entries to show" default:"20"`
	Search string `short:"s" long:"search" description:"Case-insensitive substring to match against URL, method, headers and body"`
	Source string `long:"source" description:"Only show entries with this source tag (monitored, manual, replay)"`
	Stats  bool   `long:"stats" description:"Print aggregate statistics instead of entries"`
}

func (c *logsCommand) Execute(args []string) error {
	log, err := openRequestLog()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			slog.Warn("request log close failed", "error", closeErr)
		}
	}()

	if c.Stats {
		return printStats(log)
	}

	var entries []reqlog.Entry
	if c.Search != "" {
		entries, err = log.Search(c.Search, c.Limit)
	} else {
		entries, err = log.Recent(c.Limit)
	}
	if err != nil {
		return err
	}

	if c.Source != "" {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.Source == c.Source {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	if len(entries) == 0 {
		fmt.Println("No log entries found")
		return nil
	}
	for _, entry := range entries {
		printEntry(entry)
	}
	fmt.Printf("%d entr%s\n", len(entries), plural(len(entries), "y", "ies"))
	return nil
}

func printEntry(entry reqlog.Entry) {
	status := "-"
	elapsed := "-"
	if entry.Response != nil {
		status = fmt.Sprintf("%d", entry.Response.Status)
		elapsed = fmt.Sprintf("%dms", entry.Response.ResponseTimeMs)
	}
	fmt.Printf("[%s] %-9s %-7s %s  status=%s time=%s\n",
		entry.Timestamp.UTC().Format(time.RFC3339), entry.Source, entry.Request.Method, entry.Request.URL, status, elapsed)
}

func printStats(log *reqlog.Log) error {
	stats, err := log.Stats()
	if err != nil {
		return err
	}

	fmt.Println("=== REQUEST LOG STATISTICS ===")
	fmt.Printf("Total Requests:    %d\n", stats.TotalRequests)
	fmt.Printf("  Monitored:       %d\n", stats.MonitoredRequests)
	fmt.Printf("  Manual:          %d\n", stats.ManualRequests)
	fmt.Printf("  Replayed:        %d\n", stats.ReplayRequests)
	fmt.Printf("Successful (2xx):  %d\n", stats.SuccessfulRequests)
	fmt.Printf("Failed (4xx/5xx):  %d\n", stats.FailedRequests)
	fmt.Printf("Average Response:  %dms\n", stats.AverageResponseTime)

	methods := make([]string, 0, len(stats.Methods))
	for m := range stats.Methods {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	fmt.Println("Methods:")
	for _, m := range methods {
		fmt.Printf("  %-7s %d\n", m, stats.Methods[m])
	}
	return nil
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
