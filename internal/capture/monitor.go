package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jspahr/packetlens/internal/metrics"
)

const (
	// maxRetries bounds consecutive reopen attempts after hard capture errors.
	maxRetries = 3
	// retryBackoff is slept between reopen attempts.
	retryBackoff = 500 * time.Millisecond
	// segmentBufferLen is the capacity of the internal forwarding queue.
	segmentBufferLen = 4096

	statsInterval  = 5 * time.Second
	quietThreshold = 30 * time.Second
)

// Monitor drives a capture handle on one interface, decodes IPv4/TCP frames
// into Segments and forwards them to a consumer channel. Segments that would
// exceed the memory budget are dropped rather than blocking the capture loop.
type Monitor struct {
	source   DeviceSource
	iface    string
	filter   string
	maxBytes int64

	buf      chan Segment
	out      chan Segment
	buffered atomic.Int64
	shutdown atomic.Bool

	sendMu   sync.Mutex
	released bool

	loopDone chan struct{}
}

// NewMonitor creates a monitor for the named interface and BPF filter.
// maxBytes bounds buffered-but-unsent payload bytes (the capture memory
// budget).
func NewMonitor(source DeviceSource, iface, filter string, maxBytes int64) *Monitor {
	return &Monitor{
		source:   source,
		iface:    iface,
		filter:   filter,
		maxBytes: maxBytes,
		buf:      make(chan Segment, segmentBufferLen),
		out:      make(chan Segment),
		loopDone: make(chan struct{}),
	}
}

// Segments returns the consumer channel. It is closed exactly once, either by
// ReleaseSender or when the capture loop terminates; a closed channel is the
// end-of-stream signal.
func (m *Monitor) Segments() <-chan Segment { return m.out }

// Start opens the capture and launches the capture loop. Setup failures
// (unknown interface, missing privileges, invalid filter) are returned
// synchronously as coded errors from the device source.
func (m *Monitor) Start() error {
	handle, err := m.source.Open(m.iface, m.filter)
	if err != nil {
		return err
	}

	slog.Info("packet monitor started", "interface", m.iface, "filter", m.filter)

	go m.deliverLoop()
	go m.captureLoop(handle)
	return nil
}

// Shutdown requests a cooperative stop. It is idempotent and safe to call
// from any goroutine; the loop observes the flag within one poll interval.
func (m *Monitor) Shutdown() {
	m.shutdown.Store(true)
}

// ReleaseSender closes the forwarding channel exactly once, signalling
// end-of-stream to consumers even while the capture loop is still draining.
func (m *Monitor) ReleaseSender() {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if m.released {
		return
	}
	m.released = true
	close(m.buf)
	slog.Info("packet sender released", "interface", m.iface)
}

// Wait blocks until the capture loop has exited.
func (m *Monitor) Wait() {
	<-m.loopDone
}

// deliverLoop hands segments from the internal queue to the consumer. A
// segment's payload bytes stay charged against the budget until the consumer
// has accepted it, so an in-flight segment still counts as unsent.
func (m *Monitor) deliverLoop() {
	for seg := range m.buf {
		m.out <- seg
		m.buffered.Add(-int64(len(seg.Payload)))
	}
	close(m.out)
}

func (m *Monitor) captureLoop(handle Handle) {
	defer close(m.loopDone)
	defer m.ReleaseSender()
	// handle is rebound on reopen; the closure closes whichever handle is
	// current when the loop exits.
	defer func() {
		if handle != nil {
			handle.Close()
		}
	}()

	var (
		packetCount    int64
		retries        int
		statsTimer     = time.Now()
		lastPacketTime = time.Now()
		sinceStats     int64
		httpSinceStats int64
	)

	for {
		if m.shutdown.Load() {
			slog.Info("shutdown requested, stopping packet monitor", "interface", m.iface, "packets", packetCount)
			return
		}

		if time.Since(lastPacketTime) > quietThreshold {
			slog.Info("no packets received recently, check that the filter matches traffic",
				"interface", m.iface, "filter", m.filter)
			lastPacketTime = time.Now()
		}

		if time.Since(statsTimer) >= statsInterval {
			if sinceStats > 0 {
				slog.Debug("capture statistics",
					"interface", m.iface, "packets", sinceStats, "http_candidates", httpSinceStats)
			}
			statsTimer = time.Now()
			sinceStats = 0
			httpSinceStats = 0
		}

		data, ts, err := handle.Read()
		if err != nil {
			if err == ErrReadTimeout {
				continue
			}

			slog.Error("capture read failed", "interface", m.iface, "error", err)
			retries++
			if retries >= maxRetries {
				slog.Error("maximum capture retries reached, stopping packet monitor",
					"interface", m.iface, "retries", retries)
				return
			}

			slog.Warn("retrying capture", "attempt", retries, "max", maxRetries)
			time.Sleep(retryBackoff)
			handle.Close()
			handle = nil
			reopened, openErr := m.source.Open(m.iface, m.filter)
			if openErr != nil {
				slog.Error("failed to reopen capture", "interface", m.iface, "error", openErr)
				return
			}
			handle = reopened
			slog.Info("capture reopened", "interface", m.iface)
			continue
		}

		retries = 0
		packetCount++
		sinceStats++
		lastPacketTime = time.Now()

		seg, ok := DecodeSegment(data, ts)
		if !ok {
			continue
		}
		metrics.PacketsCaptured.Inc()

		if seg.DstPort == 80 || seg.DstPort == 443 || ContainsHTTPMethod(seg.Payload) {
			httpSinceStats++
		}

		m.forward(seg)
	}
}

// forward enqueues a segment unless doing so would exceed the memory budget,
// in which case the segment is dropped with a warning. The capture loop is
// never blocked on the consumer.
func (m *Monitor) forward(seg Segment) {
	size := int64(len(seg.Payload))
	if m.buffered.Load()+size > m.maxBytes {
		slog.Warn("capture memory budget reached, dropping segment",
			"budget_bytes", m.maxBytes, "segment_bytes", size)
		metrics.PacketsDropped.Inc()
		return
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if m.released {
		return
	}
	select {
	case m.buf <- seg:
		m.buffered.Add(size)
	default:
		slog.Warn("capture queue full, dropping segment", "queue_len", segmentBufferLen)
		metrics.PacketsDropped.Inc()
	}
}
