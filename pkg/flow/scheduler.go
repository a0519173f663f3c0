package flow

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gavv/monotime"
	"github.com/netobserv/gopipes/pkg/node"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/st0rybrook/ipfix-exporter/pkg/metrics"
)

var slog = logrus.WithField("component", "flow.Scheduler")

// timeNowMs is a seam for the expiry tests.
var timeNowMs = func() int64 { return time.Now().UnixMilli() }

// Scheduler drives the expiry of the flow table: a single long-lived worker
// that alternates between waiting (poll timer or an external Flush) and
// scanning. Expired snapshots are forwarded in batches to the next pipeline
// stage. The scheduler never touches the table except through ScanExpired.
type Scheduler struct {
	table      *Table
	pollPeriod time.Duration
	// scanCond serializes scans so a Flush arriving mid-scan can't start a
	// second one concurrently
	scanCond     *sync.Cond
	evictedFlows prometheus.Counter
	scanDuration prometheus.Histogram
}

func NewScheduler(table *Table, pollPeriod time.Duration, m *metrics.Metrics) *Scheduler {
	if pollPeriod == 0 {
		pollPeriod = 10 * time.Second
	}
	return &Scheduler{
		table:        table,
		pollPeriod:   pollPeriod,
		scanCond:     sync.NewCond(&sync.Mutex{}),
		evictedFlows: m.CreateEvictedFlowsCounter(),
		scanDuration: m.CreateScanDurationHistogram(),
	}
}

// Flush forces an immediate scan outside the poll timer. The poll timer is
// not reset: the next timed scan fires on the ticker's regular schedule, so
// it can come less than a full poll period after the flush.
func (s *Scheduler) Flush() {
	s.scanCond.Broadcast()
}

// Schedule returns the pipeline start function. It keeps scanning until the
// context is canceled; on cancellation it runs one final scan with an
// infinite clock so every live flow is evicted and forwarded before the out
// channel closes.
func (s *Scheduler) Schedule(ctx context.Context) node.StartFunc[[]*Record] {
	return func(out chan<- []*Record) {
		go s.scanSynchronization(ctx, out)
		ticker := time.NewTicker(s.pollPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("context canceled. Evicting all remaining flows")
				// wake the scan goroutine so it observes the cancellation,
				// then take its lock to serialize with any in-flight scan
				s.scanCond.Broadcast()
				s.scanCond.L.Lock()
				s.scanOnce(math.MaxInt64, out)
				s.scanCond.L.Unlock()
				return
			case <-ticker.C:
				slog.Debug("triggering expiry scan on timer")
				s.Flush()
			}
		}
	}
}

// scanSynchronization waits for scan signals and runs them one at a time,
// whether they came from the ticker or from an external Flush.
func (s *Scheduler) scanSynchronization(ctx context.Context, out chan<- []*Record) {
	for {
		s.scanCond.L.Lock()
		s.scanCond.Wait()
		select {
		case <-ctx.Done():
			slog.Debug("context canceled. Stopping scan goroutine")
			s.scanCond.L.Unlock()
			return
		default:
			s.scanOnce(timeNowMs(), out)
		}
		s.scanCond.L.Unlock()
	}
}

func (s *Scheduler) scanOnce(nowMs int64, out chan<- []*Record) {
	start := monotime.Now()
	expired := s.table.ScanExpired(nowMs)
	s.scanDuration.Observe((monotime.Now() - start).Seconds())
	if len(expired) == 0 {
		return
	}
	s.evictedFlows.Add(float64(len(expired)))
	slog.WithField("flows", len(expired)).Debug("forwarding expired flows")
	out <- expired
}
