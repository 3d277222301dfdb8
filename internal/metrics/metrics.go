package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide counters exposed at /metrics on the inspection API.
var (
	PacketsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packetlens_packets_captured_total",
		Help: "Decoded IPv4/TCP segments seen by the packet monitor.",
	})
	PacketsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packetlens_packets_dropped_total",
		Help: "Segments dropped because the capture memory budget or queue was full.",
	})
	RequestsReconstructed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packetlens_requests_reconstructed_total",
		Help: "HTTP requests successfully reconstructed from captured segments.",
	})
	LogAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packetlens_log_appends_total",
		Help: "Entries appended to the request log.",
	})
	ReplayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packetlens_replay_attempts_total",
		Help: "Replay attempts by outcome.",
	}, []string{"outcome"})
	ProxyConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packetlens_proxy_connections_total",
		Help: "Connections accepted by the proxy server.",
	})
	ProxyTunnels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packetlens_proxy_tunnels_total",
		Help: "CONNECT tunnels successfully established.",
	})
)
