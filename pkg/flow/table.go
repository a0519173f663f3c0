package flow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/st0rybrook/ipfix-exporter/pkg/metrics"
)

var tlog = logrus.WithField("component", "flow.Table")

// shardCount must be a power of two so the shard index is a cheap mask.
const shardCount = 64

// DefaultIdleTimeout and DefaultActiveTimeout apply when the table is
// built with zero timeouts.
const (
	DefaultIdleTimeout   = 10 * time.Second
	DefaultActiveTimeout = 30 * time.Second
)

type shard struct {
	mu    sync.Mutex
	flows map[Key]*Record
}

// Table is the set of live flows, sharded by key hash so packet workers on
// different shards never contend. Records live in the shard map's value
// slot: there is no secondary index that a deletion could leave dangling.
type Table struct {
	shards          [shardCount]shard
	maxFlows        int
	idleTimeoutMs   int64
	activeTimeoutMs int64
	// live counts records across all shards so the capacity check on the
	// miss path doesn't need to visit them.
	live      atomic.Int64
	untracked prometheus.Counter
}

// NewTable builds an empty table. maxFlows caps the number of live records
// (0 means unlimited); packets that would grow the table past it are
// counted as untracked and dropped.
func NewTable(maxFlows int, idleTimeout, activeTimeout time.Duration, m *metrics.Metrics) *Table {
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if activeTimeout == 0 {
		activeTimeout = DefaultActiveTimeout
	}
	t := &Table{
		maxFlows:        maxFlows,
		idleTimeoutMs:   idleTimeout.Milliseconds(),
		activeTimeoutMs: activeTimeout.Milliseconds(),
		untracked:       m.CreateUntrackedPacketsCounter(),
	}
	for i := range t.shards {
		t.shards[i].flows = map[Key]*Record{}
	}
	return t
}

// hash is FNV-1a over the meaningful key bytes. The zero padding never
// varies, so it is skipped.
func (k *Key) hash() uint32 {
	h := uint32(2166136261)
	for _, b := range k.SrcAddr {
		h = (h ^ uint32(b)) * 16777619
	}
	for _, b := range k.DstAddr {
		h = (h ^ uint32(b)) * 16777619
	}
	h = (h ^ uint32(k.Protocol)) * 16777619
	h = (h ^ uint32(k.SrcPort>>8)) * 16777619
	h = (h ^ uint32(k.SrcPort&0xff)) * 16777619
	h = (h ^ uint32(k.DstPort>>8)) * 16777619
	h = (h ^ uint32(k.DstPort&0xff)) * 16777619
	return h
}

func (t *Table) shardFor(k *Key) *shard {
	return &t.shards[k.hash()&(shardCount-1)]
}

// Observe is the hot path: lookup-or-insert for one packet. On a hit it
// only mutates the existing record, so it never allocates.
func (t *Table) Observe(p *Packet) {
	key := NewKey(p)
	s := t.shardFor(&key)
	s.mu.Lock()
	if r, ok := s.flows[key]; ok {
		if r.Key != key {
			s.mu.Unlock()
			// a record reachable under a key it doesn't contain means the
			// table state is corrupted; continuing would export garbage
			tlog.WithField("key", key.String()).Fatal("flow table key/record mismatch")
		}
		r.Accumulate(p)
		s.mu.Unlock()
		return
	}
	if t.maxFlows > 0 && t.live.Load() >= int64(t.maxFlows) {
		s.mu.Unlock()
		t.untracked.Inc()
		return
	}
	s.flows[key] = NewRecord(key, p)
	s.mu.Unlock()
	t.live.Add(1)
}

// ScanExpired applies the expiry rules to every live record and returns the
// snapshots to export. Idle flows are evicted; flows past the active
// timeout are exported and restarted in place. When both rules fire on the
// same scan, eviction wins. Snapshots are value copies, never aliases of
// live records.
func (t *Table) ScanExpired(nowMs int64) []*Record {
	var expired []*Record
	evicted := int64(0)
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key, r := range s.flows {
			switch {
			case r.EndMs+t.idleTimeoutMs < nowMs:
				snapshot := *r
				expired = append(expired, &snapshot)
				delete(s.flows, key)
				evicted++
			case r.StartMs+t.activeTimeoutMs < nowMs:
				snapshot := *r
				expired = append(expired, &snapshot)
				r.reset(nowMs)
			}
		}
		s.mu.Unlock()
	}
	if evicted > 0 {
		t.live.Add(-evicted)
	}
	return expired
}

// Len returns the number of live records.
func (t *Table) Len() int {
	return int(t.live.Load())
}
