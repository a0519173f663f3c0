package ipfix

import (
	"encoding/binary"
	"fmt"

	"github.com/st0rybrook/ipfix-exporter/pkg/flow"
)

// Wire-format constants of RFC 7011.
const (
	Version             = 10
	MessageHeaderLength = 16
	SetHeaderLength     = 4
	// TemplateSetID is the set ID under which template records travel.
	TemplateSetID = 2
	// enterpriseBit marks a field specifier as enterprise-specific.
	enterpriseBit = 0x8000
)

// Encoder serializes flow records into NetFlow v10 messages according to a
// template. Records arrive with host-order counters; this is the single
// place where values are converted to network order.
type Encoder struct {
	template *Template
	domainID uint32
}

func NewEncoder(template *Template, domainID uint32) *Encoder {
	return &Encoder{template: template, domainID: domainID}
}

// DataMessageLength is the exact size of a data message carrying n records.
func (e *Encoder) DataMessageLength(n int) int {
	length := MessageHeaderLength
	for i := range e.template.Sets {
		length += SetHeaderLength + n*e.template.Sets[i].RecordLength()
	}
	return length
}

// MaxRecordsPerMessage is how many records fit in a message of at most
// maxLen bytes. It is never less than one: a single record always goes out
// even if it exceeds the configured ceiling.
func (e *Encoder) MaxRecordsPerMessage(maxLen int) int {
	perRecord := 0
	for i := range e.template.Sets {
		perRecord += e.template.Sets[i].RecordLength()
	}
	overhead := MessageHeaderLength + SetHeaderLength*len(e.template.Sets)
	n := (maxLen - overhead) / perRecord
	if n < 1 {
		return 1
	}
	return n
}

func putMessageHeader(buf []byte, length int, exportTimeS, seq, domainID uint32) {
	binary.BigEndian.PutUint16(buf[0:2], Version)
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	binary.BigEndian.PutUint32(buf[4:8], exportTimeS)
	binary.BigEndian.PutUint32(buf[8:12], seq)
	binary.BigEndian.PutUint32(buf[12:16], domainID)
}

// WriteDataMessage serializes records into buf as one v10 message: header,
// then one data set per template set with the records' field values in
// template order. It returns the exact number of bytes written. The caller
// must size buf to at least DataMessageLength(len(records)).
func (e *Encoder) WriteDataMessage(buf []byte, records []*flow.Record, exportTimeS, seq uint32) (int, error) {
	total := e.DataMessageLength(len(records))
	if len(buf) < total {
		return 0, fmt.Errorf("buffer too small: %d < %d", len(buf), total)
	}
	putMessageHeader(buf, total, exportTimeS, seq, e.domainID)
	off := MessageHeaderLength
	for i := range e.template.Sets {
		ts := &e.template.Sets[i]
		setLen := SetHeaderLength + len(records)*ts.RecordLength()
		binary.BigEndian.PutUint16(buf[off:off+2], ts.ID)
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(setLen))
		off += SetHeaderLength
		for _, r := range records {
			for j := range ts.Fields {
				n, err := putFieldValue(buf[off:], &ts.Fields[j], r)
				if err != nil {
					return 0, err
				}
				off += n
			}
		}
	}
	return total, nil
}

// putFieldValue copies one record attribute into buf in network order.
func putFieldValue(buf []byte, spec *FieldSpec, r *flow.Record) (int, error) {
	switch spec.ID {
	case IESourceIPv4Address:
		copy(buf[:4], r.Key.SrcAddr[:])
	case IEDestinationIPv4Address:
		copy(buf[:4], r.Key.DstAddr[:])
	case IEProtocolIdentifier:
		buf[0] = r.Key.Protocol
	case IESourceTransportPort:
		binary.BigEndian.PutUint16(buf[:2], r.Key.SrcPort)
	case IEDestinationTransportPort:
		binary.BigEndian.PutUint16(buf[:2], r.Key.DstPort)
	case IEFlowStartMilliseconds:
		binary.BigEndian.PutUint64(buf[:8], uint64(r.StartMs))
	case IEFlowEndMilliseconds:
		binary.BigEndian.PutUint64(buf[:8], uint64(r.EndMs))
	case IEOctetDeltaCount:
		binary.BigEndian.PutUint64(buf[:8], r.Octets)
	case IEPacketDeltaCount:
		binary.BigEndian.PutUint64(buf[:8], r.Packets)
	default:
		return 0, fmt.Errorf("no record attribute for information element %d (%s)", spec.ID, spec.Name)
	}
	return int(spec.Length), nil
}

// TemplateMessageLength is the size of the message advertising the
// encoder's template sets.
func (e *Encoder) TemplateMessageLength() int {
	length := MessageHeaderLength + SetHeaderLength
	for i := range e.template.Sets {
		// template record header: template ID + field count
		length += 4
		for j := range e.template.Sets[i].Fields {
			length += 4
			if e.template.Sets[i].Fields[j].EnterpriseNumber != 0 {
				length += 4
			}
		}
	}
	return length
}

// WriteTemplateMessage serializes the template sets themselves, so a
// collector that was not pre-configured can interpret the data records.
func (e *Encoder) WriteTemplateMessage(buf []byte, exportTimeS, seq uint32) (int, error) {
	total := e.TemplateMessageLength()
	if len(buf) < total {
		return 0, fmt.Errorf("buffer too small: %d < %d", len(buf), total)
	}
	putMessageHeader(buf, total, exportTimeS, seq, e.domainID)
	off := MessageHeaderLength
	binary.BigEndian.PutUint16(buf[off:off+2], TemplateSetID)
	binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(total-MessageHeaderLength))
	off += SetHeaderLength
	for i := range e.template.Sets {
		ts := &e.template.Sets[i]
		binary.BigEndian.PutUint16(buf[off:off+2], ts.ID)
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(len(ts.Fields)))
		off += 4
		for j := range ts.Fields {
			f := &ts.Fields[j]
			id := f.ID
			if f.EnterpriseNumber != 0 {
				id |= enterpriseBit
			}
			binary.BigEndian.PutUint16(buf[off:off+2], id)
			binary.BigEndian.PutUint16(buf[off+2:off+4], f.Length)
			off += 4
			if f.EnterpriseNumber != 0 {
				binary.BigEndian.PutUint32(buf[off:off+4], f.EnterpriseNumber)
				off += 4
			}
		}
	}
	return total, nil
}
