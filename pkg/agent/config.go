package agent

import (
	"time"
)

const (
	ListenPoll  = "poll"
	ListenWatch = "watch"

	ExportIPFIX = "ipfix"
	ExportKafka = "kafka"
)

type Config struct {
	// ExporterAddr is the local ip:port the UDP messages are sent from. If
	// empty, the OS picks the source address and an ephemeral port.
	ExporterAddr string `env:"EXPORTER_ADDR"`
	// CollectorHost is the host name or IP of the target IPFIX collector,
	// when the EXPORT variable is set to "ipfix".
	CollectorHost string `env:"COLLECTOR_HOST"`
	// CollectorPort is the UDP port of the target IPFIX collector.
	CollectorPort int `env:"COLLECTOR_PORT" envDefault:"4739"`
	// Export selects the flows' exporter. Accepted values are: ipfix
	// (default) or kafka.
	Export string `env:"EXPORT" envDefault:"ipfix"`
	// IdleTimeout is the inactivity interval after which a flow is evicted
	// from the table and exported.
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"10s"`
	// ActiveTimeout is the maximum lifetime of a single exported flow
	// segment. A flow alive longer is exported and its counters restart
	// without evicting it.
	ActiveTimeout time.Duration `env:"ACTIVE_TIMEOUT" envDefault:"30s"`
	// PollPeriod specifies how often the expiry scheduler scans the flow
	// table.
	PollPeriod time.Duration `env:"POLL_PERIOD" envDefault:"10s"`
	// CacheMaxFlows specifies how many flows can be live in the table at
	// once. Packets for new flows beyond the limit are counted as
	// untracked and dropped.
	CacheMaxFlows int `env:"CACHE_MAX_FLOWS" envDefault:"5000"`
	// Interfaces contains the interface names from where flows will be
	// collected. If empty, the agent will capture on all the interfaces in
	// the system, excepting the ones listed in ExcludeInterfaces.
	// If an entry is enclosed by slashes (e.g. `/br-/`), it will match as
	// regular expression, otherwise it will be matched as a case-sensitive
	// string.
	Interfaces []string `env:"INTERFACES" envSeparator:","`
	// ExcludeInterfaces contains the interface names that will be excluded
	// from capture. Default: "lo" (loopback). Slash-enclosed entries match
	// as regular expressions.
	ExcludeInterfaces []string `env:"EXCLUDE_INTERFACES" envSeparator:"," envDefault:"lo"`
	// ListenInterfaces specifies the mechanism used to listen for added or
	// removed network interfaces. Accepted values are "watch" (default) or
	// "poll".
	ListenInterfaces string `env:"LISTEN_INTERFACES" envDefault:"watch"`
	// ListenPollPeriod specifies the periodicity to query the network
	// interfaces when ListenInterfaces is set to "poll".
	ListenPollPeriod time.Duration `env:"LISTEN_POLL_PERIOD" envDefault:"10s"`
	// BuffersLength establishes the length of the communication channels
	// between the different processing stages.
	BuffersLength int `env:"BUFFERS_LENGTH" envDefault:"50"`
	// TemplatePath points to an optional YAML file describing the export
	// template. When empty, the built-in nine-field template is used.
	TemplatePath string `env:"TEMPLATE_PATH"`
	// TemplateFlushPeriod specifies how often the template sets are
	// re-advertised to the collector. Zero disables template emission for
	// collectors that are pre-configured with the template.
	TemplateFlushPeriod time.Duration `env:"TEMPLATE_FLUSH_PERIOD" envDefault:"60s"`
	// MaxMessageLength bounds the size, in bytes, of one exported message.
	// Expired flows beyond it are split over several messages.
	MaxMessageLength int `env:"MAX_MESSAGE_LENGTH" envDefault:"1420"`
	// ObservationDomainID is reported in every message header.
	ObservationDomainID uint32 `env:"OBSERVATION_DOMAIN_ID" envDefault:"1"`
	// KafkaBrokers is a comma-separated list of the addresses of the
	// brokers of the Kafka cluster, when the EXPORT variable is "kafka".
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// KafkaTopic is the name of the topic where the flows will be sent.
	KafkaTopic string `env:"KAFKA_TOPIC" envDefault:"network-flows"`
	// Logger level. From more to less verbose: trace, debug, info, warn,
	// error, fatal, panic.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// MetricsEnable enables an HTTP server exposing the exporter metrics.
	MetricsEnable bool `env:"METRICS_ENABLE" envDefault:"false"`
	// MetricsServerAddress is the listen address of the metrics server.
	MetricsServerAddress string `env:"METRICS_SERVER_ADDRESS"`
	// MetricsPort is the listen port of the metrics server.
	MetricsPort int `env:"METRICS_SERVER_PORT" envDefault:"9090"`
	// MetricsPrefix is prepended to every metric name.
	MetricsPrefix string `env:"METRICS_PREFIX" envDefault:"ipfix_exporter_"`
}
