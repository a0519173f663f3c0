package flow

import (
	"fmt"
	"net"
)

// Transport protocols that carry ports in the flow key. Any other protocol
// keys with both ports zeroed.
const (
	ProtocolTCP = 6
	ProtocolUDP = 17
)

// keyPadding fills Key up to 48 bytes: 13 bytes of fields plus the
// alignment byte the compiler inserts before SrcPort.
const keyPadding = 34

// Packet is a single parsed IPv4 observation as delivered by a capture
// source. TotalLen is the IPv4 total-length field, i.e. the byte count
// accumulated into the flow's octet counter.
type Packet struct {
	IfIndex  int
	IfName   string
	TimeMs   int64
	SrcAddr  [4]byte
	DstAddr  [4]byte
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
	TotalLen uint16
	// Trace requests a deep table snapshot when this packet is observed.
	Trace bool
}

// Key identifies a unidirectional flow. It is a fixed 48-byte layout:
// addresses and ports as observed on the wire, zero-filled padding included
// in equality so the struct can be used directly as a map key.
type Key struct {
	SrcAddr  [4]byte
	DstAddr  [4]byte
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
	pad      [keyPadding]byte
}

// NewKey builds the flow key for a packet. Ports are only meaningful for
// TCP and UDP; everything else (ICMP, GRE, ...) keys on addresses and
// protocol alone, so e.g. two ICMP packets with different identifiers hit
// the same flow.
func NewKey(p *Packet) Key {
	k := Key{
		SrcAddr:  p.SrcAddr,
		DstAddr:  p.DstAddr,
		Protocol: p.Protocol,
	}
	if p.Protocol == ProtocolTCP || p.Protocol == ProtocolUDP {
		k.SrcPort = p.SrcPort
		k.DstPort = p.DstPort
	}
	return k
}

func (k *Key) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d proto %d",
		net.IP(k.SrcAddr[:]), k.SrcPort, net.IP(k.DstAddr[:]), k.DstPort, k.Protocol)
}

// Record accumulates one live flow. Counters and timestamps are kept in
// host order; the ipfix encoder converts to network order exactly once
// when serializing.
type Record struct {
	Key     Key
	StartMs int64
	EndMs   int64
	Packets uint64
	Octets  uint64
}

// NewRecord starts a flow from its first packet.
func NewRecord(key Key, p *Packet) *Record {
	return &Record{
		Key:     key,
		StartMs: p.TimeMs,
		EndMs:   p.TimeMs,
		Packets: 1,
		Octets:  uint64(p.TotalLen),
	}
}

// Accumulate folds one more packet into the record.
func (r *Record) Accumulate(p *Packet) {
	if p.TimeMs > r.EndMs {
		r.EndMs = p.TimeMs
	}
	r.Packets++
	r.Octets += uint64(p.TotalLen)
}

// reset restarts the counters of a long-lived flow after an active-timeout
// export. The key stays installed and the flow keeps accumulating.
func (r *Record) reset(nowMs int64) {
	r.StartMs = nowMs
	r.EndMs = nowMs
	r.Packets = 0
	r.Octets = 0
}
