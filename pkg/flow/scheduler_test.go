package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st0rybrook/ipfix-exporter/pkg/metrics"
)

const timeout = 5 * time.Second

func TestSchedulerFlushForwardsExpired(t *testing.T) {
	oldNow := timeNowMs
	timeNowMs = func() int64 { return 5000 }
	defer func() { timeNowMs = oldNow }()

	table := newTestTable(t, 0, 1000*time.Millisecond, 30000*time.Millisecond)
	table.Observe(udpPacket(0, 40))

	sched := NewScheduler(table, time.Hour, metrics.NewMetrics(&metrics.Settings{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []*Record, 10)
	go sched.Schedule(ctx)(out)

	// wait for the scan goroutine to reach its Wait before signaling
	time.Sleep(10 * time.Millisecond)
	sched.Flush()

	select {
	case batch := <-out:
		require.Len(t, batch, 1)
		assert.EqualValues(t, 1, batch[0].Packets)
		assert.EqualValues(t, 40, batch[0].Octets)
	case <-time.After(timeout):
		require.Fail(t, "timeout waiting for expired flows")
	}
	assert.Equal(t, 0, table.Len())
}

func TestSchedulerKeepsLiveFlows(t *testing.T) {
	oldNow := timeNowMs
	timeNowMs = func() int64 { return 500 }
	defer func() { timeNowMs = oldNow }()

	table := newTestTable(t, 0, 1000*time.Millisecond, 30000*time.Millisecond)
	table.Observe(udpPacket(0, 40))

	sched := NewScheduler(table, time.Hour, metrics.NewMetrics(&metrics.Settings{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan []*Record, 10)
	go sched.Schedule(ctx)(out)
	time.Sleep(10 * time.Millisecond)
	sched.Flush()

	select {
	case batch := <-out:
		require.Failf(t, "nothing should have expired", "got %d flows", len(batch))
	case <-time.After(50 * time.Millisecond):
		// ok
	}
	assert.Equal(t, 1, table.Len())
}

func TestSchedulerEvictsAllOnShutdown(t *testing.T) {
	table := newTestTable(t, 0, time.Hour, time.Hour)
	for f := 0; f < 5; f++ {
		p := udpPacket(0, 10)
		p.SrcPort = uint16(40000 + f)
		table.Observe(p)
	}

	sched := NewScheduler(table, time.Hour, metrics.NewMetrics(&metrics.Settings{}))
	ctx, cancel := context.WithCancel(context.Background())

	out := make(chan []*Record, 10)
	go sched.Schedule(ctx)(out)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case batch := <-out:
		assert.Len(t, batch, 5)
	case <-time.After(timeout):
		require.Fail(t, "timeout waiting for the final eviction")
	}
	assert.Equal(t, 0, table.Len())
}
