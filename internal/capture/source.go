package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/jspahr/packetlens/internal/types"
)

// ErrReadTimeout is returned by Handle.Read when the poll interval elapsed
// without a packet. It is part of normal operation, not a failure.
var ErrReadTimeout = errors.New("capture read timeout")

// pollTimeout bounds a single blocking read so the shutdown flag is observed
// promptly.
const pollTimeout = 100 * time.Millisecond

// Segment is one decoded TCP payload extracted from a captured frame.
type Segment struct {
	SrcIP     string
	DstIP     string
	SrcPort   uint16
	DstPort   uint16
	Protocol  string
	Payload   []byte
	Timestamp time.Time
}

// Handle is an open capture delivering raw link-layer frames.
type Handle interface {
	// Read returns the next raw frame and its capture timestamp, or
	// ErrReadTimeout when the poll interval elapsed with no packet.
	Read() (data []byte, ts time.Time, err error)
	Close()
}

// DeviceSource abstracts the privileged capture facility so the monitor's
// retry logic can be exercised against a fake in tests.
type DeviceSource interface {
	ListInterfaces() ([]string, error)
	Open(name, filter string) (Handle, error)
}

// PcapSource is the libpcap-backed DeviceSource.
type PcapSource struct {
	Snaplen     int
	Promiscuous bool
}

// NewPcapSource returns a live-capture source with the given snapshot length
// and promiscuous mode.
func NewPcapSource(snaplen int, promiscuous bool) *PcapSource {
	return &PcapSource{Snaplen: snaplen, Promiscuous: promiscuous}
}

// ListInterfaces returns the names of all capture-capable devices.
func (s *PcapSource) ListInterfaces() ([]string, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		if isPermissionError(err) {
			return nil, types.NewError(types.CodePermissionDenied,
				"insufficient privileges to list network interfaces, run with sudo/administrator privileges", err)
		}
		return nil, types.NewError(types.CodeTransportError, "failed to list network interfaces", err)
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	return names, nil
}

// Open opens a live capture on the named interface and compiles the BPF
// filter against it.
func (s *PcapSource) Open(name, filter string) (Handle, error) {
	names, err := s.ListInterfaces()
	if err != nil {
		return nil, err
	}
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, types.NewError(types.CodeNotFound,
			fmt.Sprintf("interface %q not found, available: %v", name, names), nil)
	}

	handle, err := pcap.OpenLive(name, int32(s.Snaplen), s.Promiscuous, pollTimeout)
	if err != nil {
		if isPermissionError(err) {
			return nil, types.NewError(types.CodePermissionDenied,
				fmt.Sprintf("opening %q requires elevated privileges", name), err)
		}
		return nil, types.NewError(types.CodeTransportError,
			fmt.Sprintf("failed to open capture on %q", name), err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, types.NewError(types.CodeInvalidInput,
				fmt.Sprintf("invalid BPF filter %q", filter), err)
		}
	}
	return &pcapHandle{handle: handle}, nil
}

type pcapHandle struct {
	handle *pcap.Handle
}

func (h *pcapHandle) Read() ([]byte, time.Time, error) {
	data, ci, err := h.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return nil, time.Time{}, ErrReadTimeout
		}
		return nil, time.Time{}, err
	}
	return data, ci.Timestamp, nil
}

func (h *pcapHandle) Close() {
	h.handle.Close()
}

func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") || strings.Contains(msg, "privileges") ||
		strings.Contains(msg, "operation not permitted")
}
