package exporter

import (
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/st0rybrook/ipfix-exporter/pkg/flow"
	"github.com/st0rybrook/ipfix-exporter/pkg/ipfix"
	"github.com/st0rybrook/ipfix-exporter/pkg/metrics"
)

var ulog = logrus.WithField("component", "exporter.IPFIXUDP")

var timeNow = time.Now

// DefaultMaxMessageLength keeps a full message inside a common
// 1500-byte MTU after IP and UDP headers.
const DefaultMaxMessageLength = 1420

// IPFIXUDP is the terminal pipeline stage for the default export mode: it
// encodes expired flow snapshots against the template and sends them as
// NetFlow v10 messages over UDP. Messages are fire-and-forget: egress and
// encoder failures are counted and logged, never retried.
type IPFIXUDP struct {
	conn          *net.UDPConn
	encoder       *ipfix.Encoder
	maxPerMessage int
	templateFlush time.Duration
	lastTemplate  time.Time
	// seq is the RFC 7011 sequence: data records exported before the
	// current message
	seq         uint32
	buf         []byte
	encoderErrs prometheus.Counter
	egressErrs  prometheus.Counter
}

// StartIPFIXUDP dials the collector from the given exporter address.
// templateFlush is how often the template sets are re-advertised on the
// wire; zero disables template emission for pre-configured collectors.
func StartIPFIXUDP(exporterAddr, collectorAddr string, template *ipfix.Template,
	domainID uint32, maxMessageLen int, templateFlush time.Duration, m *metrics.Metrics) (*IPFIXUDP, error) {

	raddr, err := net.ResolveUDPAddr("udp", collectorAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving collector address: %w", err)
	}
	var laddr *net.UDPAddr
	if exporterAddr != "" {
		if laddr, err = net.ResolveUDPAddr("udp", exporterAddr); err != nil {
			return nil, fmt.Errorf("resolving exporter address: %w", err)
		}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("dialing collector: %w", err)
	}
	if maxMessageLen == 0 {
		maxMessageLen = DefaultMaxMessageLength
	}
	encoder := ipfix.NewEncoder(template, domainID)
	maxPerMessage := encoder.MaxRecordsPerMessage(maxMessageLen)
	ulog.WithFields(logrus.Fields{
		"collector":     raddr.String(),
		"maxPerMessage": maxPerMessage,
	}).Info("starting IPFIX/UDP exporter")
	return &IPFIXUDP{
		conn:          conn,
		encoder:       encoder,
		maxPerMessage: maxPerMessage,
		templateFlush: templateFlush,
		buf:           make([]byte, encoder.DataMessageLength(maxPerMessage)),
		encoderErrs:   m.CreateEncoderErrorsCounter(),
		egressErrs:    m.CreateEgressErrorsCounter(),
	}, nil
}

// ExportFlows consumes snapshot batches until the input channel closes,
// then closes the collector connection.
func (e *IPFIXUDP) ExportFlows(in <-chan []*flow.Record) {
	for records := range in {
		e.submit(records)
	}
	ulog.Debug("input channel closed. Closing collector connection")
	if err := e.conn.Close(); err != nil {
		ulog.WithError(err).Warn("can't close collector connection")
	}
}

func (e *IPFIXUDP) submit(records []*flow.Record) {
	ulog.WithField("records", len(records)).Debug("exporting snapshots")
	e.maybeSendTemplate()
	for len(records) > 0 {
		n := len(records)
		if n > e.maxPerMessage {
			n = e.maxPerMessage
		}
		e.sendData(records[:n])
		records = records[n:]
	}
}

func (e *IPFIXUDP) sendData(records []*flow.Record) {
	written, err := e.encoder.WriteDataMessage(e.buf, records, uint32(timeNow().Unix()), e.seq)
	if err != nil {
		// an encoding failure is fatal only to this message; the scheduler
		// keeps feeding the next batches
		e.encoderErrs.Inc()
		ulog.WithError(err).Error("can't encode data message. Discarding snapshots")
		return
	}
	e.seq += uint32(len(records))
	if _, err := e.conn.Write(e.buf[:written]); err != nil {
		e.egressErrs.Inc()
		ulog.WithError(err).Error("can't send data message. Discarding")
	}
}

func (e *IPFIXUDP) maybeSendTemplate() {
	if e.templateFlush == 0 {
		return
	}
	now := timeNow()
	if !e.lastTemplate.IsZero() && now.Sub(e.lastTemplate) < e.templateFlush {
		return
	}
	buf := make([]byte, e.encoder.TemplateMessageLength())
	written, err := e.encoder.WriteTemplateMessage(buf, uint32(now.Unix()), e.seq)
	if err != nil {
		e.encoderErrs.Inc()
		ulog.WithError(err).Error("can't encode template message")
		return
	}
	if _, err := e.conn.Write(buf[:written]); err != nil {
		e.egressErrs.Inc()
		ulog.WithError(err).Error("can't send template message")
		return
	}
	e.lastTemplate = now
}
