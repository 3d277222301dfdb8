package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jspahr/packetlens/internal/capture"
	"github.com/jspahr/packetlens/internal/client"
	"github.com/jspahr/packetlens/internal/feed"
	"github.com/jspahr/packetlens/internal/metrics"
	"github.com/jspahr/packetlens/internal/reqlog"
)

type monitorCommand struct {
	Interface      string `short:"i" long:"interface" description:"Network interface to capture on (overrides configuration)"`
	Filter         string `short:"f" long:"filter" description:"BPF filter expression (overrides configuration)"`
	Replay         bool   `short:"r" long:"replay" description:"Replay each reconstructed request immediately"`
	Serve          bool   `short:"S" long:"serve" description:"Expose the inspection API and live feed while monitoring"`
	ListInterfaces bool   `short:"l" long:"list" description:"List capture-capable interfaces and exit"`
}

func (c *monitorCommand) Execute(args []string) error {
	source := capture.NewPcapSource(cfg.Snaplen, cfg.Promiscuous)

	if c.ListInterfaces {
		names, err := source.ListInterfaces()
		if err != nil {
			return err
		}
		for _, name := range names {
			slog.Info("capture interface available", "name", name)
		}
		return nil
	}

	iface := cfg.Interface
	if c.Interface != "" {
		iface = c.Interface
	}
	filter := cfg.Filter
	if c.Filter != "" {
		filter = c.Filter
	}

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
	httpClient := client.New(store)
	broker := feed.NewBroker()

	if c.Serve {
		server, err := buildAPIServer(log, store, broker, cfg.APIAddress, cfg.APIPort)
		if err != nil {
			return err
		}
		go func() {
			slog.Info("Inspection API listening", "address", server.Addr)
			if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
				slog.Error("inspection API failed", "error", srvErr)
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
				slog.Warn("inspection API shutdown failed", "error", shutdownErr)
			}
		}()
	}

	monitor := capture.NewMonitor(source, iface, filter, cfg.MaxCaptureBytes)
	if err := monitor.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutdown signal received")
		monitor.Shutdown()
		cancel()
	}()

	slog.Info("Monitoring HTTP traffic", "interface", iface, "filter", filter, "replay", c.Replay)
	c.consume(ctx, monitor, log, httpClient, store, broker)
	monitor.Wait()
	slog.Info("Monitor stopped")
	return nil
}

// consume drains reconstructed requests from the monitor until the segment
// channel closes.
func (c *monitorCommand) consume(ctx context.Context, monitor *capture.Monitor, log *reqlog.Log, httpClient *client.Client, store cookieSaver, broker *feed.Broker) {
	for seg := range monitor.Segments() {
		req, ok := capture.ReconstructWithBody(seg)
		if !ok {
			continue
		}
		metrics.RequestsReconstructed.Inc()
		slog.Info("HTTP request reconstructed",
			"method", req.Method, "url", req.URL, "source_ip", req.SourceIP, "source_port", req.SourcePort)

		if err := log.Append(reqlog.NewEntry(req, nil, reqlog.SourceMonitored)); err != nil {
			slog.Warn("request log append failed", "error", err)
		}

		broker.Publish(feed.Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Method:    req.Method,
			URL:       req.URL,
			SourceIP:  req.SourceIP,
			Source:    reqlog.SourceMonitored,
		})

		if c.Replay {
			resp, err := httpClient.Replay(ctx, req)
			if err != nil {
				slog.Warn("immediate replay failed", "url", req.URL, "error", err)
				metrics.ReplayAttempts.WithLabelValues("failure").Inc()
				continue
			}
			metrics.ReplayAttempts.WithLabelValues("success").Inc()
			slog.Info("immediate replay completed", "url", req.URL, "status", resp.Status, "ms", resp.ResponseTimeMs)
			if err := log.Append(reqlog.NewEntry(req, resp, reqlog.SourceReplay)); err != nil {
				slog.Warn("request log append failed", "error", err)
			}
			if err := store.Save(); err != nil {
				slog.Warn("cookie save failed", "error", err)
			}
		}
	}
}

// cookieSaver is the slice of the cookie store the monitor loop needs.
type cookieSaver interface {
	Save() error
}
