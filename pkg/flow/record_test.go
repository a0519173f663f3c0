package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyIdempotence(t *testing.T) {
	p := &Packet{
		SrcAddr:  [4]byte{10, 0, 0, 1},
		DstAddr:  [4]byte{10, 0, 0, 2},
		Protocol: ProtocolUDP,
		SrcPort:  1000,
		DstPort:  2000,
		TotalLen: 40,
	}
	assert.Equal(t, NewKey(p), NewKey(p))

	// fields that are not part of the 5-tuple must not change the key
	q := *p
	q.TimeMs = 12345
	q.TotalLen = 1500
	q.IfIndex = 7
	q.Trace = true
	assert.Equal(t, NewKey(p), NewKey(&q))
}

func TestKeyPortlessProtocols(t *testing.T) {
	// ICMP: whatever the parser put in the port fields (e.g. type/code or
	// identifier bytes), the key must zero them so all ICMP packets between
	// two hosts belong to the same flow
	p1 := &Packet{
		SrcAddr:  [4]byte{1, 1, 1, 1},
		DstAddr:  [4]byte{2, 2, 2, 2},
		Protocol: 1,
		SrcPort:  0x0800,
		TotalLen: 84,
	}
	p2 := &Packet{
		SrcAddr:  [4]byte{1, 1, 1, 1},
		DstAddr:  [4]byte{2, 2, 2, 2},
		Protocol: 1,
		SrcPort:  0x1234,
		DstPort:  0x5678,
		TotalLen: 84,
	}
	k1, k2 := NewKey(p1), NewKey(p2)
	assert.Equal(t, k1, k2)
	assert.Zero(t, k1.SrcPort)
	assert.Zero(t, k1.DstPort)
}

func TestAccumulateMonotone(t *testing.T) {
	p := &Packet{
		SrcAddr:  [4]byte{10, 0, 0, 1},
		DstAddr:  [4]byte{10, 0, 0, 2},
		Protocol: ProtocolTCP,
		SrcPort:  44000,
		DstPort:  443,
		TimeMs:   100,
		TotalLen: 60,
	}
	r := NewRecord(NewKey(p), p)
	assert.EqualValues(t, 1, r.Packets)
	assert.EqualValues(t, 60, r.Octets)
	assert.EqualValues(t, 100, r.StartMs)
	assert.EqualValues(t, 100, r.EndMs)

	// an out-of-order packet must not move EndMs backwards
	late := *p
	late.TimeMs = 50
	r.Accumulate(&late)
	assert.EqualValues(t, 2, r.Packets)
	assert.EqualValues(t, 120, r.Octets)
	assert.EqualValues(t, 100, r.EndMs)

	next := *p
	next.TimeMs = 300
	r.Accumulate(&next)
	assert.EqualValues(t, 3, r.Packets)
	assert.EqualValues(t, 300, r.EndMs)
	assert.LessOrEqual(t, r.StartMs, r.EndMs)
}
