package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jspahr/packetlens/internal/client"
	"github.com/jspahr/packetlens/internal/replay"
)

type replayCommand struct {
	Limit  int    `short:"n" long:"limit" description:"Number of recent log entries to consider" default:"10"`
	Source string `short:"s" long:"source" description:"Only replay entries with this source tag (monitored, manual, replay)"`
	Count  int    `short:"c" long:"count" description:"Repetitions per request" default:"1"`
	Delay  int    `long:"delay-ms" description:"Milliseconds between repetitions" default:"100"`
}

func (c *replayCommand) Execute(args []string) error {
	log, err := openRequestLog()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			slog.Warn("request log close failed", "error", closeErr)
		}
	}()

	store := openCookieStore()
	engine := replay.NewEngine(client.New(store), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutdown signal received")
		cancel()
	}()

	summary, err := engine.Run(ctx, replay.Options{
		Limit:  c.Limit,
		Source: c.Source,
		Count:  c.Count,
		Delay:  time.Duration(c.Delay) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	slog.Info("replay run finished",
		"requests", summary.Requests, "attempts", summary.Attempts,
		"succeeded", summary.Succeeded, "failed", summary.Failed)

	if err := store.Save(); err != nil {
		slog.Warn("cookie save failed", "error", err)
	}
	return nil
}
