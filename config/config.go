package config

// Config defines the interface the rest of the code uses to get items from the
// config. There are different implementations of the config using different
// backends to store the config.
type Config interface {
	// RegisterReloadCallback takes a function that will be called whenever
	// the configuration is reloaded and its hash has changed. The callback is
	// passed the new hash.
	RegisterReloadCallback(callback ConfigReloadCallback)

	// Reload forces the config to attempt to reload its values. If the config
	// checksum has changed, the reload callbacks will be called.
	Reload()

	// GetHash returns the md5 hash of the loaded config files.
	GetHash() string

	// GetListenAddr returns the address and port on which to listen for
	// incoming spans over HTTP
	GetListenAddr() string

	// GetGRPCListenAddr returns the address and port on which to listen for
	// incoming spans over gRPC. Empty means the gRPC receiver is disabled.
	GetGRPCListenAddr() string

	GetGeneralConfig() GeneralConfig

	// GetCollectorConfig returns sampling, ordering and throttling settings
	// for the collector.
	GetCollectorConfig() CollectorConfig

	// GetProcessorsConfig returns the processor stages in the order they run.
	GetProcessorsConfig() []ProcessorConfig

	GetStorageConfig() StorageConfig

	GetRedisConfig() RedisConfig

	GetKafkaConfig() KafkaConfig

	GetPulsarConfig() PulsarConfig

	GetSQSConfig() SQSConfig

	// GetLoggerType returns the type of the logger to use. Valid types are in
	// the logger package
	GetLoggerType() string

	// GetLoggerLevel returns the level of the logger to use.
	GetLoggerLevel() Level

	// GetStdoutLoggerConfig returns the config specific to the StdoutLogger
	GetStdoutLoggerConfig() StdoutLoggerConfig

	// GetHoneycombLoggerConfig returns the config specific to the HoneycombLogger
	GetHoneycombLoggerConfig() HoneycombLoggerConfig

	// GetPrometheusMetricsConfig returns the config specific to PrometheusMetrics
	GetPrometheusMetricsConfig() PrometheusMetricsConfig
}

type ConfigReloadCallback func(configHash string)

type GeneralConfig struct {
	ListenAddr      string     `yaml:"ListenAddr" default:"0.0.0.0:9411" cmdenv:"HTTPListenAddr"`
	GRPCListenAddr  string     `yaml:"GRPCListenAddr" cmdenv:"GRPCListenAddr"`
	MaxRequestSize  MemorySize `yaml:"MaxRequestSize" default:"5Mi"`
	HTTPIdleTimeout Duration   `yaml:"HTTPIdleTimeout" default:"60s"`
	ShutdownTimeout Duration   `yaml:"ShutdownTimeout" default:"15s"`
}

type CollectorConfig struct {
	// SampleRate is the fraction of traces kept, between 0 and 1. It is a
	// pointer so that an explicit 0 is distinguishable from unset.
	SampleRate *float64 `yaml:"SampleRate" default:"1"`

	// TargetSpansPerSecond, when positive, replaces the fixed SampleRate with
	// a rate that is recomputed every RefreshInterval.
	TargetSpansPerSecond int      `yaml:"TargetSpansPerSecond"`
	RateSource           string   `yaml:"RateSource" default:"local"`
	RefreshInterval      Duration `yaml:"RefreshInterval" default:"10s"`

	// ProcessBeforeSample runs the processor chain ahead of sampling.
	ProcessBeforeSample bool `yaml:"ProcessBeforeSample"`

	Throttle ThrottleConfig `yaml:"Throttle"`
}

// GetSampleRate returns the configured fixed sample rate.
func (c CollectorConfig) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return 1
	}
	return *c.SampleRate
}

type ThrottleConfig struct {
	Enabled          bool     `yaml:"Enabled" cmdenv:"ThrottleEnabled"`
	Limiter          string   `yaml:"Limiter" default:"aimd"`
	ConcurrencyLimit int      `yaml:"ConcurrencyLimit" default:"10"`
	MinConcurrency   int      `yaml:"MinConcurrency" default:"1"`
	MaxConcurrency   int      `yaml:"MaxConcurrency" default:"200"`
	LatencyThreshold Duration `yaml:"LatencyThreshold" default:"500ms"`
	BackoffRatio     float64  `yaml:"BackoffRatio" default:"0.9"`
}

// ProcessorConfig describes one stage of the processor chain. Which fields
// apply depends on Type: "redact" uses Pattern and Replacement, "tag" uses
// Tags, and "drop" uses Names.
type ProcessorConfig struct {
	Type        string            `yaml:"Type"`
	Pattern     string            `yaml:"Pattern"`
	Replacement string            `yaml:"Replacement"`
	Tags        map[string]string `yaml:"Tags"`
	Names       []string          `yaml:"Names"`
}

type StorageConfig struct {
	Type      string                 `yaml:"Type" default:"inmem" cmdenv:"StorageType"`
	InMem     InMemStorageConfig     `yaml:"InMem"`
	Redis     RedisStorageConfig     `yaml:"Redis"`
	Honeycomb HoneycombStorageConfig `yaml:"Honeycomb"`
}

type InMemStorageConfig struct {
	MaxSpans int `yaml:"MaxSpans" default:"500000"`
}

type RedisStorageConfig struct {
	KeyPrefix string   `yaml:"KeyPrefix" default:"intake:trace:"`
	TTL       Duration `yaml:"TTL" default:"72h"`
}

type HoneycombStorageConfig struct {
	APIHost      string   `yaml:"APIHost" default:"https://api.honeycomb.io"`
	APIKey       string   `yaml:"APIKey" cmdenv:"HoneycombAPIKey"`
	Dataset      string   `yaml:"Dataset" default:"zipkin"`
	BatchTimeout Duration `yaml:"BatchTimeout" default:"100ms"`
	MaxBatchSize int      `yaml:"MaxBatchSize" default:"500"`
}

type RedisConfig struct {
	Host           string   `yaml:"Host" cmdenv:"RedisHost"`
	ClusterHosts   []string `yaml:"ClusterHosts"`
	Username       string   `yaml:"Username" cmdenv:"RedisUsername"`
	Password       string   `yaml:"Password" cmdenv:"RedisPassword"`
	AuthCode       string   `yaml:"AuthCode" cmdenv:"RedisAuthCode"`
	Database       int      `yaml:"Database"`
	UseTLS         bool     `yaml:"UseTLS"`
	UseTLSInsecure bool     `yaml:"UseTLSInsecure"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"Enabled"`
	Brokers       []string `yaml:"Brokers" cmdenv:"KafkaBrokers"`
	Topics        []string `yaml:"Topics" default:"[\"zipkin\"]"`
	GroupID       string   `yaml:"GroupID" default:"intake"`
	Encoding      string   `yaml:"Encoding" default:"JSON_V2"`
	Version       string   `yaml:"Version" default:"2.8.0"`
	InitialOffset string   `yaml:"InitialOffset" default:"newest"`
}

type PulsarConfig struct {
	Enabled      bool   `yaml:"Enabled"`
	URL          string `yaml:"URL" cmdenv:"PulsarURL"`
	Topic        string `yaml:"Topic" default:"zipkin"`
	Subscription string `yaml:"Subscription" default:"intake"`
	Encoding     string `yaml:"Encoding" default:"JSON_V2"`
	Concurrency  int    `yaml:"Concurrency" default:"4"`
}

type SQSConfig struct {
	Enabled     bool     `yaml:"Enabled"`
	QueueURL    string   `yaml:"QueueURL" cmdenv:"SQSQueueURL"`
	Region      string   `yaml:"Region" default:"us-east-1"`
	Endpoint    string   `yaml:"Endpoint"`
	Encoding    string   `yaml:"Encoding" default:"JSON_V2"`
	Parallelism int      `yaml:"Parallelism" default:"1"`
	MaxMessages int      `yaml:"MaxMessages" default:"10"`
	WaitTime    Duration `yaml:"WaitTime" default:"20s"`
}

type LoggerConfig struct {
	Type  string `yaml:"Type" default:"stdout"`
	Level Level  `yaml:"Level" default:"info"`
}

type StdoutLoggerConfig struct {
	Structured bool `yaml:"Structured"`
}

type HoneycombLoggerConfig struct {
	APIHost           string `yaml:"APIHost" default:"https://api.honeycomb.io"`
	APIKey            string `yaml:"APIKey" cmdenv:"HoneycombLoggerAPIKey"`
	Dataset           string `yaml:"Dataset" default:"intake-logs"`
	SamplerEnabled    bool   `yaml:"SamplerEnabled"`
	SamplerThroughput int    `yaml:"SamplerThroughput" default:"10"`
}

type PrometheusMetricsConfig struct {
	Enabled bool `yaml:"Enabled"`
}
