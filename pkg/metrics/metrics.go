package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var mlog = logrus.WithField("component", "metrics.Metrics")

// Settings for the metrics registry and its optional HTTP endpoint.
type Settings struct {
	Enable  bool
	Address string
	Port    int
	Prefix  string
}

// Metrics owns the prometheus registry of the exporter plus a cheap
// packets-per-second rate counter for the hot path. All Create* methods
// register the collector on the internal registry, so a single Metrics
// instance must be shared by every component.
type Metrics struct {
	Settings *Settings
	registry *prometheus.Registry
	// pps is updated on every observed packet, outside prometheus, because
	// a counter-over-time rate is cheaper to read at debug time.
	pps *ratecounter.RateCounter
}

func NewMetrics(settings *Settings) *Metrics {
	if settings.Prefix == "" {
		settings.Prefix = "ipfix_exporter_"
	}
	return &Metrics{
		Settings: settings,
		registry: prometheus.NewRegistry(),
		pps:      ratecounter.NewRateCounter(time.Second),
	}
}

func (m *Metrics) register(c prometheus.Collector, name string) {
	if err := m.registry.Register(c); err != nil {
		mlog.WithError(err).WithField("metric", name).Error("can't register metric")
	}
}

// ObservePacket feeds the packets-per-second rate.
func (m *Metrics) ObservePacket() {
	m.pps.Incr(1)
}

// PacketRate returns the packets observed during the last second.
func (m *Metrics) PacketRate() int64 {
	return m.pps.Rate()
}

func (m *Metrics) CreateParseErrorsCounter() prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: m.Settings.Prefix + "parse_errors_total",
		Help: "number of packets dropped because their IPv4 header could not be parsed",
	})
	m.register(c, "parse_errors_total")
	return c
}

func (m *Metrics) CreateUntrackedPacketsCounter() prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: m.Settings.Prefix + "untracked_packets_total",
		Help: "number of packets dropped because the flow table was full",
	})
	m.register(c, "untracked_packets_total")
	return c
}

func (m *Metrics) CreateEncoderErrorsCounter() prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: m.Settings.Prefix + "encoder_errors_total",
		Help: "number of flow snapshots discarded by the ipfix encoder",
	})
	m.register(c, "encoder_errors_total")
	return c
}

func (m *Metrics) CreateEgressErrorsCounter() prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: m.Settings.Prefix + "egress_errors_total",
		Help: "number of encoded messages the egress failed to send",
	})
	m.register(c, "egress_errors_total")
	return c
}

func (m *Metrics) CreateEvictedFlowsCounter() prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: m.Settings.Prefix + "evicted_flows_total",
		Help: "number of flow records evicted or exported by the expiry scheduler",
	})
	m.register(c, "evicted_flows_total")
	return c
}

func (m *Metrics) CreateScanDurationHistogram() prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    m.Settings.Prefix + "scan_duration_seconds",
		Help:    "time spent scanning the flow table for expired records",
		Buckets: prometheus.DefBuckets,
	})
	m.register(h, "scan_duration_seconds")
	return h
}

// Serve exposes the registry on /metrics. It blocks, so callers run it in
// its own goroutine; it is only started when Settings.Enable is set.
func (m *Metrics) Serve() error {
	addr := fmt.Sprintf("%s:%d", m.Settings.Address, m.Settings.Port)
	mlog.WithField("address", addr).Info("starting metrics server")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
