package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jspahr/packetlens/internal/config"
	"github.com/jspahr/packetlens/internal/cookie"
	"github.com/jspahr/packetlens/internal/reqlog"
)

// cfg is loaded once in main and shared by all subcommands.
var cfg *config.Config

func main() {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		slog.Debug("log directory creation failed", "error", err)
	}

	logWriter := &lumberjack.Logger{
		Filename:   "logs/packetlens.log",
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))

	var err error
	cfg, err = config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	parser := flags.NewNamedParser("packetlens", flags.Default)
	parser.LongDescription = "Passive HTTP traffic monitor, request tool and replay engine."

	addCommand(parser, "monitor", "Capture and log HTTP traffic",
		"Passively capture packets on an interface, reconstruct HTTP requests and append them to the request log.", &monitorCommand{})
	addCommand(parser, "request", "Send a manual HTTP request",
		"Send one HTTP request with the shared cookie store and log the exchange.", &requestCommand{})
	registerCookieCommands(parser)
	addCommand(parser, "logs", "Inspect the request log",
		"Show recent entries, search the log or print aggregate statistics.", &logsCommand{})
	addCommand(parser, "replay", "Replay logged requests",
		"Re-send previously logged requests and record the outcomes.", &replayCommand{})
	addCommand(parser, "proxy", "Run the forward proxy",
		"Run a minimal forward proxy with CONNECT tunneling.", &proxyCommand{})
	addCommand(parser, "analyze", "Run a performance analysis",
		"Issue repeated requests against a URL and classify response latency.", &analyzeCommand{})
	addCommand(parser, "serve", "Run the inspection API",
		"Serve the request log, cookie store, live feed and metrics over HTTP.", &serveCommand{})

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func addCommand(parser *flags.Parser, name, short, long string, cmd interface{}) {
	if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
		slog.Error("command registration failed", "command", name, "error", err)
		os.Exit(1)
	}
}

// openCookieStore loads the shared cookie store from the configured path.
func openCookieStore() *cookie.Store {
	store := cookie.NewStore(cfg.CookiePath)
	store.Load()
	return store
}

// openRequestLog opens the configured JSON-lines request log for appending.
func openRequestLog() (*reqlog.Log, error) {
	return reqlog.Open(cfg.LogPath)
}
