package test

import (
	"context"
	"testing"
	"time"

	"github.com/st0rybrook/ipfix-exporter/pkg/flow"
	"github.com/st0rybrook/ipfix-exporter/pkg/ifaces"
)

// ExporterFake collects the snapshot batches a pipeline forwards to its
// terminal stage.
type ExporterFake struct {
	messages chan []*flow.Record
}

func NewExporterFake() *ExporterFake {
	return &ExporterFake{
		messages: make(chan []*flow.Record, 100),
	}
}

func (ef *ExporterFake) Export(in <-chan []*flow.Record) {
	for i := range in {
		if len(i) > 0 {
			ef.messages <- i
		}
	}
}

func (ef *ExporterFake) Get(t *testing.T, timeout time.Duration) []*flow.Record {
	t.Helper()
	select {
	case <-time.After(timeout):
		t.Fatalf("timeout %s while waiting for a message to be exported", timeout)
		return nil
	case m := <-ef.messages:
		return m
	}
}

// SliceInformerFake fires one add event per element and then stays silent.
type SliceInformerFake []ifaces.Interface

func (sif SliceInformerFake) Subscribe(_ context.Context) (<-chan ifaces.Event, error) {
	events := make(chan ifaces.Event, len(sif))
	for _, iface := range sif {
		events <- ifaces.Event{Type: ifaces.EventAdded, Interface: iface}
	}
	return events, nil
}

// SourceFake replays a canned packet list into the pipeline.
type SourceFake struct {
	Packets []*flow.Packet
}

func (sf *SourceFake) Capture(ctx context.Context, out chan<- *flow.Packet) {
	for _, p := range sf.Packets {
		select {
		case <-ctx.Done():
			return
		case out <- p:
		}
	}
	<-ctx.Done()
}
