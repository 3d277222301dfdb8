package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jspahr/packetlens/internal/api"
	"github.com/jspahr/packetlens/internal/cookie"
	"github.com/jspahr/packetlens/internal/feed"
	"github.com/jspahr/packetlens/internal/netutil"
	"github.com/jspahr/packetlens/internal/reqlog"
)

type serveCommand struct {
	Address string `short:"a" long:"address" description:"Bind address (overrides configuration)"`
	Port    int    `short:"p" long:"port" description:"Bind port (overrides configuration)"`
}

// buildAPIServer resolves a bind address and assembles the inspection API
// over the given request log, cookie store and feed broker. The broker is
// shared so events published elsewhere reach /api/v1/live subscribers.
func buildAPIServer(log *reqlog.Log, store *cookie.Store, broker *feed.Broker, address string, port int) (*http.Server, error) {
	bindAddr, err := netutil.SelectBindAddr(
		fmt.Sprintf("%s:%d", address, port),
		[]string{fmt.Sprintf("%s:%d", address, port+1), fmt.Sprintf("%s:%d", address, port+2)},
		true)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              bindAddr,
		Handler:           api.NewServer(api.NewInspector(log, store, broker), broker),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func (c *serveCommand) Execute(args []string) error {
	address := cfg.APIAddress
	if c.Address != "" {
		address = c.Address
	}
	port := cfg.APIPort
	if c.Port != 0 {
		port = c.Port
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
	broker := feed.NewBroker()
	server, err := buildAPIServer(log, store, broker, address, port)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Warn("server shutdown failed", "error", shutdownErr)
		}
	}()

	slog.Info("Inspection API listening", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	slog.Info("Inspection API stopped")
	return nil
}
