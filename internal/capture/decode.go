package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// DecodeSegment decodes one raw link-layer frame into a Segment. Only
// Ethernet frames carrying IPv4/TCP are accepted; everything else returns
// false.
func DecodeSegment(data []byte, ts time.Time) (Segment, bool) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return Segment{}, false
	}
	ip, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return Segment{}, false
	}

	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return Segment{}, false
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok {
		return Segment{}, false
	}

	// TCP payload is copied: the frame buffer is reused by the capture
	// handle once this returns.
	payload := make([]byte, len(tcp.Payload))
	copy(payload, tcp.Payload)

	return Segment{
		SrcIP:     ip.SrcIP.String(),
		DstIP:     ip.DstIP.String(),
		SrcPort:   uint16(tcp.SrcPort),
		DstPort:   uint16(tcp.DstPort),
		Protocol:  "TCP",
		Payload:   payload,
		Timestamp: ts,
	}, true
}
