package flow

// Trace is a point-in-time capture of the table taken for one flagged
// packet. Records are deep copies: a trace holder can inspect them at any
// later time without seeing live counters move underneath it, and nothing
// it does can reach back into the table.
type Trace struct {
	IfIndex  int
	IfName   string
	NextStep string
	Records  []Record
}

// TraceSink receives trace captures. Implementations must not assume they
// run on the packet path's goroutine budget for long.
type TraceSink func(*Trace)

// Capture builds a trace for a flagged packet: ingress interface, the name
// of the pipeline step the packet is headed to, and a deep copy of every
// live record.
func (t *Table) Capture(p *Packet, nextStep string) *Trace {
	return &Trace{
		IfIndex:  p.IfIndex,
		IfName:   p.IfName,
		NextStep: nextStep,
		Records:  t.snapshotRecords(),
	}
}

func (t *Table) snapshotRecords() []Record {
	records := make([]Record, 0, t.Len())
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, r := range s.flows {
			records = append(records, *r)
		}
		s.mu.Unlock()
	}
	return records
}
