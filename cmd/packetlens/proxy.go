package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jspahr/packetlens/internal/proxy"
)

type proxyCommand struct {
	Address string `short:"a" long:"address" description:"Bind address (overrides configuration)"`
	Port    int    `short:"p" long:"port" description:"Bind port (overrides configuration)"`
}

func (c *proxyCommand) Execute(args []string) error {
	address := cfg.ProxyAddress
	if c.Address != "" {
		address = c.Address
	}
	port := cfg.ProxyPort
	if c.Port != 0 {
		port = c.Port
	}

	server, err := proxy.Listen(address, port)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutdown signal received")
		if closeErr := server.Close(); closeErr != nil {
			slog.Warn("proxy close failed", "error", closeErr)
		}
	}()

	slog.Info("Proxy listening", "address", server.Addr())
	return server.Serve()
}
