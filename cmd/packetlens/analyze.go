package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jspahr/packetlens/internal/client"
	"github.com/jspahr/packetlens/internal/perf"
)

type analyzeCommand struct {
	Iterations int    `short:"n" long:"iterations" description:"Number of test requests" default:"5"`
	Report     string `short:"o" long:"report" description:"Report file path (overrides configuration)"`
	Args       struct {
		URL string `positional-arg-name:"url" required:"yes" description:"Target URL"`
	} `positional-args:"yes"`
}

func (c *analyzeCommand) Execute(args []string) error {
	store := openCookieStore()
	runner := perf.NewRunner(client.New(store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutdown signal received")
		cancel()
	}()

	analyses, err := runner.Run(ctx, c.Args.URL, c.Iterations)
	if err != nil && len(analyses) == 0 {
		return err
	}

	reportPath := cfg.ReportPath
	if c.Report != "" {
		reportPath = c.Report
	}
	if err := perf.WriteReport(reportPath, analyses); err != nil {
		slog.Warn("report write failed", "path", reportPath, "error", err)
	} else {
		slog.Info("report written", "path", reportPath, "iterations", len(analyses))
	}

	fmt.Println(perf.Summarize(analyses))
	return nil
}
