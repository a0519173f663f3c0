package exporter

import (
	"context"
	"encoding/json"
	"net"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/st0rybrook/ipfix-exporter/pkg/flow"
)

var klog = logrus.WithField("component", "exporter.KafkaJSON")

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// KafkaJSON exports expired flows to a Kafka topic, JSON-encoded for
// downstream pipelines that don't speak IPFIX.
type KafkaJSON struct {
	Writer kafkaWriter
}

// JSONRecord is the wire shape of one snapshot on the topic.
type JSONRecord struct {
	SrcAddr  string `json:"srcAddr"`
	DstAddr  string `json:"dstAddr"`
	Protocol uint8  `json:"protocol"`
	SrcPort  uint16 `json:"srcPort"`
	DstPort  uint16 `json:"dstPort"`
	StartMs  int64  `json:"flowStartMs"`
	EndMs    int64  `json:"flowEndMs"`
	Packets  uint64 `json:"packets"`
	Octets   uint64 `json:"octets"`
}

func toJSONRecord(r *flow.Record) *JSONRecord {
	return &JSONRecord{
		SrcAddr:  net.IP(r.Key.SrcAddr[:]).String(),
		DstAddr:  net.IP(r.Key.DstAddr[:]).String(),
		Protocol: r.Key.Protocol,
		SrcPort:  r.Key.SrcPort,
		DstPort:  r.Key.DstPort,
		StartMs:  r.StartMs,
		EndMs:    r.EndMs,
		Packets:  r.Packets,
		Octets:   r.Octets,
	}
}

func (kj *KafkaJSON) ExportFlows(input <-chan []*flow.Record) {
	klog.Info("starting Kafka exporter")
	for records := range input {
		kj.batchAndSubmit(records)
	}
}

func (kj *KafkaJSON) batchAndSubmit(records []*flow.Record) {
	klog.Debugf("sending %d records", len(records))
	msgs := make([]kafkago.Message, 0, len(records))
	for _, record := range records {
		body, err := json.Marshal(toJSONRecord(record))
		if err != nil {
			klog.WithError(err).Debug("can't encode JSON message. Ignoring")
			continue
		}
		msgs = append(msgs, kafkago.Message{Value: body})
	}

	if err := kj.Writer.WriteMessages(context.TODO(), msgs...); err != nil {
		klog.WithError(err).Error("can't write messages into Kafka")
	}
}
