package exporter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st0rybrook/ipfix-exporter/pkg/flow"
)

type fakeKafkaWriter struct {
	messages chan kafkago.Message
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		f.messages <- m
	}
	return nil
}

func TestKafkaJSONExport(t *testing.T) {
	writer := &fakeKafkaWriter{messages: make(chan kafkago.Message, 10)}
	kj := &KafkaJSON{Writer: writer}

	in := make(chan []*flow.Record, 1)
	go kj.ExportFlows(in)
	in <- []*flow.Record{testRecord(1000)}
	close(in)

	select {
	case msg := <-writer.messages:
		var jr JSONRecord
		require.NoError(t, json.Unmarshal(msg.Value, &jr))
		assert.Equal(t, "10.1.1.1", jr.SrcAddr)
		assert.Equal(t, "10.2.2.2", jr.DstAddr)
		assert.EqualValues(t, flow.ProtocolUDP, jr.Protocol)
		assert.EqualValues(t, 1000, jr.SrcPort)
		assert.EqualValues(t, 53, jr.DstPort)
		assert.EqualValues(t, 100, jr.StartMs)
		assert.EqualValues(t, 200, jr.EndMs)
		assert.EqualValues(t, 3, jr.Packets)
		assert.EqualValues(t, 300, jr.Octets)
	case <-time.After(timeout):
		require.Fail(t, "timeout waiting for the Kafka message")
	}
}
