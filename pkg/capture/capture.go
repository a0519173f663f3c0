package capture

import (
	"context"
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/afpacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/st0rybrook/ipfix-exporter/pkg/flow"
	"github.com/st0rybrook/ipfix-exporter/pkg/ifaces"
	"github.com/st0rybrook/ipfix-exporter/pkg/metrics"
)

var clog = logrus.WithField("component", "capture.Source")

// Source reads raw frames from one interface through an AF_PACKET socket
// and turns IPv4 packets into flow.Packet observations. Non-IPv4 frames are
// silently skipped; IPv4 frames that fail to parse are counted as parse
// errors and dropped.
type Source struct {
	iface     ifaces.Interface
	handle    *afpacket.TPacket
	metrics   *metrics.Metrics
	parseErrs prometheus.Counter
}

func NewSource(iface ifaces.Interface, m *metrics.Metrics, parseErrs prometheus.Counter) (*Source, error) {
	handle, err := afpacket.NewTPacket(afpacket.OptInterface(iface.Name))
	if err != nil {
		return nil, fmt.Errorf("opening AF_PACKET socket on %s: %w", iface.Name, err)
	}
	return &Source{
		iface:     iface,
		handle:    handle,
		metrics:   m,
		parseErrs: parseErrs,
	}, nil
}

// Capture runs until the context is canceled, decoding frames and
// forwarding observations. It owns the decoding buffers, so a single
// goroutine must drive it.
func (s *Source) Capture(ctx context.Context, out chan<- *flow.Packet) {
	llog := clog.WithField("iface", s.iface.Name)
	llog.Info("starting capture")

	var (
		eth     layers.Ethernet
		ip4     layers.IPv4
		tcp     layers.TCP
		udp     layers.UDP
		decoded []gopacket.LayerType
	)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &ip4, &tcp, &udp)
	// transport payloads and unmodeled protocols (ICMP, GRE, ...) are not
	// decoding failures: the IPv4 layer is all the flow key needs
	parser.IgnoreUnsupported = true

	for {
		select {
		case <-ctx.Done():
			llog.Debug("context canceled. Stopping capture")
			s.handle.Close()
			return
		default:
		}
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			llog.WithError(err).Debug("can't read packet data")
			continue
		}
		if err := parser.DecodeLayers(data, &decoded); err != nil {
			// a truncated or malformed header: the packet is not accounted
			s.parseErrs.Inc()
			continue
		}
		if !layerDecoded(decoded, layers.LayerTypeIPv4) {
			// non-IPv4 traffic (ARP, IPv6, LLDP...) is out of scope
			continue
		}
		p := &flow.Packet{
			IfIndex:  s.iface.Index,
			IfName:   s.iface.Name,
			TimeMs:   ci.Timestamp.UnixMilli(),
			Protocol: uint8(ip4.Protocol),
			TotalLen: ip4.Length,
		}
		copy(p.SrcAddr[:], ip4.SrcIP.To4())
		copy(p.DstAddr[:], ip4.DstIP.To4())
		switch {
		case layerDecoded(decoded, layers.LayerTypeTCP):
			p.SrcPort = uint16(tcp.SrcPort)
			p.DstPort = uint16(tcp.DstPort)
		case layerDecoded(decoded, layers.LayerTypeUDP):
			p.SrcPort = uint16(udp.SrcPort)
			p.DstPort = uint16(udp.DstPort)
		}
		s.metrics.ObservePacket()
		select {
		case out <- p:
		case <-ctx.Done():
			llog.Debug("context canceled. Stopping capture")
			s.handle.Close()
			return
		}
	}
}

func layerDecoded(decoded []gopacket.LayerType, lt gopacket.LayerType) bool {
	for _, t := range decoded {
		if t == lt {
			return true
		}
	}
	return false
}
