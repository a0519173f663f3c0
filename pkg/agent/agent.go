package agent

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/netobserv/gopipes/pkg/node"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/st0rybrook/ipfix-exporter/pkg/capture"
	"github.com/st0rybrook/ipfix-exporter/pkg/exporter"
	"github.com/st0rybrook/ipfix-exporter/pkg/flow"
	"github.com/st0rybrook/ipfix-exporter/pkg/ifaces"
	"github.com/st0rybrook/ipfix-exporter/pkg/ipfix"
	"github.com/st0rybrook/ipfix-exporter/pkg/metrics"
)

var alog = logrus.WithField("component", "agent.Exporter")

// Status of the agent, exposed for tests and diagnostics.
type Status int

const (
	StatusNotStarted Status = iota
	StatusStarting
	StatusStarted
	StatusStopping
	StatusStopped
)

// packetSource abstracts capture.Source to allow dependency injection in tests
type packetSource interface {
	Capture(ctx context.Context, out chan<- *flow.Packet)
}

// flowExporter abstracts the ExportFlows method of the exporters to allow
// dependency injection in tests
type flowExporter func(in <-chan []*flow.Record)

// Exporter is the running agent: it captures packets on the allowed
// interfaces, accounts them into the flow table, and exports the expired
// flows through the configured exporter.
type Exporter struct {
	cfg       *Config
	metrics   *metrics.Metrics
	table     *flow.Table
	scheduler *flow.Scheduler
	exporter  flowExporter
	informer  ifaces.Informer
	filter    interfaceFilter
	// sourceFactory specifies how to instantiate packetSource implementations
	sourceFactory func(iface ifaces.Interface) (packetSource, error)
	traceSink     flow.TraceSink

	// srcMutex provides synchronized access to the sources map
	srcMutex sync.Mutex
	// sources stores a packet source for each captured interface, with a
	// cancel function that stops it when its interface is deleted
	sources map[ifaces.Interface]context.CancelFunc
	status  Status
}

// NewExporter instantiates an agent, given a configuration.
func NewExporter(cfg *Config) (*Exporter, error) {
	alog.Info("initializing exporter agent")

	m := metrics.NewMetrics(&metrics.Settings{
		Enable:  cfg.MetricsEnable,
		Address: cfg.MetricsServerAddress,
		Port:    cfg.MetricsPort,
		Prefix:  cfg.MetricsPrefix,
	})

	var informer ifaces.Informer
	switch cfg.ListenInterfaces {
	case ListenPoll:
		alog.WithField("period", cfg.ListenPollPeriod).
			Debug("listening for new interfaces: use polling")
		informer = ifaces.NewPoller(cfg.ListenPollPeriod, cfg.BuffersLength)
	case ListenWatch:
		alog.Debug("listening for new interfaces: use watching")
		informer = ifaces.NewWatcher(cfg.BuffersLength)
	default:
		alog.WithField("providedValue", cfg.ListenInterfaces).
			Warn("wrong interface listen method. Using file watcher as default")
		informer = ifaces.NewWatcher(cfg.BuffersLength)
	}

	exportFn, err := buildFlowExporter(cfg, m)
	if err != nil {
		return nil, err
	}

	parseErrs := m.CreateParseErrorsCounter()
	sourceFactory := func(iface ifaces.Interface) (packetSource, error) {
		return capture.NewSource(iface, m, parseErrs)
	}

	return newExporter(cfg, m, informer, sourceFactory, exportFn, nil)
}

// newExporter is the internal constructor, also used by tests to inject
// fake informers, sources and exporters.
func newExporter(cfg *Config, m *metrics.Metrics, informer ifaces.Informer,
	sourceFactory func(iface ifaces.Interface) (packetSource, error),
	exportFn flowExporter, traceSink flow.TraceSink) (*Exporter, error) {

	filter, err := initInterfaceFilter(cfg.Interfaces, cfg.ExcludeInterfaces)
	if err != nil {
		return nil, fmt.Errorf("configuring interface filters: %w", err)
	}
	table := flow.NewTable(cfg.CacheMaxFlows, cfg.IdleTimeout, cfg.ActiveTimeout, m)
	return &Exporter{
		cfg:           cfg,
		metrics:       m,
		table:         table,
		scheduler:     flow.NewScheduler(table, cfg.PollPeriod, m),
		exporter:      exportFn,
		informer:      informer,
		filter:        filter,
		sourceFactory: sourceFactory,
		traceSink:     traceSink,
		sources:       map[ifaces.Interface]context.CancelFunc{},
	}, nil
}

func buildFlowExporter(cfg *Config, m *metrics.Metrics) (flowExporter, error) {
	switch cfg.Export {
	case ExportIPFIX:
		if cfg.CollectorHost == "" {
			return nil, fmt.Errorf("missing collector host for %s export", cfg.Export)
		}
		if cfg.CollectorPort == 0 {
			return nil, fmt.Errorf("missing collector port for %s export", cfg.Export)
		}
		template, err := loadTemplate(cfg)
		if err != nil {
			return nil, err
		}
		target := net.JoinHostPort(cfg.CollectorHost, strconv.Itoa(cfg.CollectorPort))
		udpExporter, err := exporter.StartIPFIXUDP(cfg.ExporterAddr, target, template,
			cfg.ObservationDomainID, cfg.MaxMessageLength, cfg.TemplateFlushPeriod, m)
		if err != nil {
			return nil, err
		}
		return udpExporter.ExportFlows, nil
	case ExportKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("missing brokers for %s export", cfg.Export)
		}
		kafkaExporter := &exporter.KafkaJSON{
			Writer: &kafkago.Writer{
				Addr:  kafkago.TCP(cfg.KafkaBrokers...),
				Topic: cfg.KafkaTopic,
			},
		}
		return kafkaExporter.ExportFlows, nil
	default:
		return nil, fmt.Errorf("wrong export type %q. Admitted values are %s, %s",
			cfg.Export, ExportIPFIX, ExportKafka)
	}
}

func loadTemplate(cfg *Config) (*ipfix.Template, error) {
	if cfg.TemplatePath == "" {
		return ipfix.DefaultTemplate(), nil
	}
	alog.WithField("path", cfg.TemplatePath).Debug("loading template file")
	return ipfix.LoadTemplateFile(cfg.TemplatePath)
}

// Run the exporter agent. The function will keep running in the same thread
// until the passed context is canceled.
func (e *Exporter) Run(ctx context.Context) error {
	e.status = StatusStarting
	alog.Info("starting exporter agent")

	packets, err := e.interfacesManager(ctx)
	if err != nil {
		return err
	}
	observer, export := e.buildPipeline(ctx, packets)

	if e.metrics.Settings.Enable {
		go func() {
			if err := e.metrics.Serve(); err != nil {
				alog.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	alog.Info("exporter agent successfully started")
	e.status = StatusStarted
	<-ctx.Done()
	e.status = StatusStopping
	alog.Info("stopping exporter agent")

	alog.Debug("waiting for all nodes to finish their pending work")
	<-observer.Done()
	<-export.Done()

	e.status = StatusStopped
	alog.Info("exporter agent stopped")
	return nil
}

// buildPipeline wires the sources --> table and scheduler --> exporter
// processing graphs.
func (e *Exporter) buildPipeline(ctx context.Context, packets <-chan *flow.Packet) (*node.Terminal[*flow.Packet], *node.Terminal[[]*flow.Record]) {
	alog.Debug("registering packet collector")
	collector := node.AsInit(func(out chan<- *flow.Packet) {
		for p := range packets {
			out <- p
		}
	})
	alog.Debug("registering flow table observer")
	observer := node.AsTerminal(e.observe)
	alog.Debug("registering expiry scheduler")
	scanner := node.AsInit(e.scheduler.Schedule(ctx))
	alog.Debug("registering exporter")
	export := node.AsTerminal(node.TerminalFunc[[]*flow.Record](e.exporter),
		node.ChannelBufferLen(e.cfg.BuffersLength))
	alog.Debug("connecting graphs")
	collector.SendsTo(observer)
	scanner.SendsTo(export)
	collector.Start()
	scanner.Start()
	return observer, export
}

// observe drains the packet channel into the flow table. It is the only
// writer path of the table besides the scheduler's scan.
func (e *Exporter) observe(in <-chan *flow.Packet) {
	for p := range in {
		e.table.Observe(p)
		if p.Trace && e.traceSink != nil {
			e.traceSink(e.table.Capture(p, "export"))
		}
	}
}

// interfacesManager uses an informer to check new/deleted network
// interfaces. For each allowed interface, it registers a packet source that
// forwards observations to the returned channel.
func (e *Exporter) interfacesManager(ctx context.Context) (<-chan *flow.Packet, error) {
	slog := alog.WithField("function", "interfacesManager")

	slog.Debug("subscribing for network interface events")
	ifaceEvents, err := e.informer.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiating interfaces' informer: %w", err)
	}

	packets := make(chan *flow.Packet, e.cfg.BuffersLength)
	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Debug("stopping all the packet sources before closing the packets' channel")
				e.stopAllSources()
				close(packets)
				return
			case event := <-ifaceEvents:
				slog.WithField("event", event).Debug("received event")
				switch event.Type {
				case ifaces.EventAdded:
					e.onInterfaceAdded(ctx, event.Interface, packets)
				case ifaces.EventDeleted:
					e.onInterfaceDeleted(event.Interface)
				default:
					slog.WithField("event", event).Warn("unknown event type")
				}
			}
		}
	}()

	return packets, nil
}

func (e *Exporter) onInterfaceAdded(ctx context.Context, iface ifaces.Interface, packets chan *flow.Packet) {
	// ignore interfaces that do not match the user configuration acceptance/exclusion lists
	if !e.filter.Allowed(iface.Name) {
		alog.WithField("interface", iface).
			Debug("interface does not match the allow/exclusion filters. Ignoring")
		return
	}
	e.srcMutex.Lock()
	defer e.srcMutex.Unlock()
	if _, ok := e.sources[iface]; !ok {
		alog.WithField("interface", iface).Info("interface detected. Starting packet source")
		source, err := e.sourceFactory(iface)
		if err != nil {
			alog.WithField("interface", iface).WithError(err).
				Warn("can't start packet source. Ignoring")
			return
		}
		sctx, cancel := context.WithCancel(ctx)
		go source.Capture(sctx, packets)
		e.sources[iface] = cancel
	}
}

func (e *Exporter) onInterfaceDeleted(iface ifaces.Interface) {
	e.srcMutex.Lock()
	defer e.srcMutex.Unlock()
	if cancel, ok := e.sources[iface]; ok {
		alog.WithField("interface", iface).Info("interface deleted. Stopping packet source")
		cancel()
		delete(e.sources, iface)
	}
}

func (e *Exporter) stopAllSources() {
	e.srcMutex.Lock()
	defer e.srcMutex.Unlock()
	for iface, cancel := range e.sources {
		alog.WithField("interface", iface).Info("stopping packet source")
		cancel()
	}
	e.sources = map[ifaces.Interface]context.CancelFunc{}
}
