package ipfix

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st0rybrook/ipfix-exporter/pkg/flow"
)

func sampleRecord() *flow.Record {
	return &flow.Record{
		Key: flow.Key{
			SrcAddr:  [4]byte{192, 0, 2, 1},
			DstAddr:  [4]byte{198, 51, 100, 1},
			Protocol: 17,
			SrcPort:  1000,
			DstPort:  2000,
		},
		StartMs: 1000,
		EndMs:   2000,
		Packets: 5,
		Octets:  500,
	}
}

func TestDataMessageRoundTrip(t *testing.T) {
	enc := NewEncoder(DefaultTemplate(), 1)

	buf := make([]byte, enc.DataMessageLength(1))
	written, err := enc.WriteDataMessage(buf, []*flow.Record{sampleRecord()}, 1234567890, 42)
	require.NoError(t, err)
	// header(16) + set header(4) + 4+4+1+2+2+8+8+8+8
	require.Equal(t, 65, written)

	// version on the wire is the NetFlow v10 magic
	assert.Equal(t, []byte{0x00, 0x0a}, buf[0:2])
	assert.EqualValues(t, written, binary.BigEndian.Uint16(buf[2:4]))
	assert.EqualValues(t, 1234567890, binary.BigEndian.Uint32(buf[4:8]))
	assert.EqualValues(t, 42, binary.BigEndian.Uint32(buf[8:12]))
	assert.EqualValues(t, 1, binary.BigEndian.Uint32(buf[12:16]))

	// data set header
	assert.EqualValues(t, 256, binary.BigEndian.Uint16(buf[16:18]))
	assert.EqualValues(t, 49, binary.BigEndian.Uint16(buf[18:20]))

	// field values in template-declared order
	assert.Equal(t, []byte{192, 0, 2, 1}, buf[20:24])
	assert.Equal(t, []byte{198, 51, 100, 1}, buf[24:28])
	assert.EqualValues(t, 17, buf[28])
	assert.EqualValues(t, 1000, binary.BigEndian.Uint16(buf[29:31]))
	assert.EqualValues(t, 2000, binary.BigEndian.Uint16(buf[31:33]))
	assert.EqualValues(t, 1000, binary.BigEndian.Uint64(buf[33:41]))
	assert.EqualValues(t, 2000, binary.BigEndian.Uint64(buf[41:49]))
	assert.EqualValues(t, 500, binary.BigEndian.Uint64(buf[49:57]))
	assert.EqualValues(t, 5, binary.BigEndian.Uint64(buf[57:65]))
}

func TestDataMessagePacksSeveralRecords(t *testing.T) {
	enc := NewEncoder(DefaultTemplate(), 1)

	r1 := sampleRecord()
	r2 := sampleRecord()
	r2.Key.SrcPort = 1001
	r2.Packets = 7

	buf := make([]byte, enc.DataMessageLength(2))
	written, err := enc.WriteDataMessage(buf, []*flow.Record{r1, r2}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 65+45, written)

	assert.EqualValues(t, written, binary.BigEndian.Uint16(buf[2:4]))
	// one set, both records inside it
	assert.EqualValues(t, 4+2*45, binary.BigEndian.Uint16(buf[18:20]))
	assert.EqualValues(t, 1001, binary.BigEndian.Uint16(buf[20+45+9:20+45+11]))
	assert.EqualValues(t, 7, binary.BigEndian.Uint64(buf[written-8:written]))
}

func TestOversizedBufferReturnsExactBytes(t *testing.T) {
	enc := NewEncoder(DefaultTemplate(), 1)
	buf := make([]byte, 4096)
	written, err := enc.WriteDataMessage(buf, []*flow.Record{sampleRecord()}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 65, written)
}

func TestUndersizedBufferRejected(t *testing.T) {
	enc := NewEncoder(DefaultTemplate(), 1)
	buf := make([]byte, 10)
	_, err := enc.WriteDataMessage(buf, []*flow.Record{sampleRecord()}, 0, 0)
	assert.Error(t, err)
}

func TestMaxRecordsPerMessage(t *testing.T) {
	enc := NewEncoder(DefaultTemplate(), 1)
	// 16 + 4 + n*45 <= 1420 -> n = 31
	assert.Equal(t, 31, enc.MaxRecordsPerMessage(1420))
	// always at least one record, even under a tiny ceiling
	assert.Equal(t, 1, enc.MaxRecordsPerMessage(10))
}

func TestTemplateMessage(t *testing.T) {
	enc := NewEncoder(DefaultTemplate(), 7)

	buf := make([]byte, enc.TemplateMessageLength())
	written, err := enc.WriteTemplateMessage(buf, 1000, 3)
	require.NoError(t, err)
	// header(16) + set header(4) + template record header(4) + 9 fields * 4
	require.Equal(t, 60, written)

	assert.Equal(t, []byte{0x00, 0x0a}, buf[0:2])
	assert.EqualValues(t, 7, binary.BigEndian.Uint32(buf[12:16]))
	assert.EqualValues(t, TemplateSetID, binary.BigEndian.Uint16(buf[16:18]))
	assert.EqualValues(t, 44, binary.BigEndian.Uint16(buf[18:20]))
	assert.EqualValues(t, 256, binary.BigEndian.Uint16(buf[20:22]))
	assert.EqualValues(t, 9, binary.BigEndian.Uint16(buf[22:24]))
	// first field specifier: sourceIPv4Address, 4 bytes
	assert.EqualValues(t, IESourceIPv4Address, binary.BigEndian.Uint16(buf[24:26]))
	assert.EqualValues(t, 4, binary.BigEndian.Uint16(buf[26:28]))
}
