package config

import (
	"fmt"
	"regexp"
	"sync"
)

type fileConfig struct {
	mainConfig    *configContents
	mainHash      string
	opts          *CmdEnv
	callbacks     []ConfigReloadCallback
	errorCallback func(error)
	mux           sync.RWMutex
}

type configContents struct {
	General           GeneralConfig           `yaml:"General"`
	Collector         CollectorConfig         `yaml:"Collector"`
	Processors        []ProcessorConfig       `yaml:"Processors"`
	Storage           StorageConfig           `yaml:"Storage"`
	Redis             RedisConfig             `yaml:"Redis"`
	Kafka             KafkaConfig             `yaml:"Kafka"`
	Pulsar            PulsarConfig            `yaml:"Pulsar"`
	SQS               SQSConfig               `yaml:"SQS"`
	Logger            LoggerConfig            `yaml:"Logger"`
	StdoutLogger      StdoutLoggerConfig      `yaml:"StdoutLogger"`
	HoneycombLogger   HoneycombLoggerConfig   `yaml:"HoneycombLogger"`
	PrometheusMetrics PrometheusMetricsConfig `yaml:"PrometheusMetrics"`
}

var (
	storageTypes   = []string{"inmem", "redis", "honeycomb"}
	loggerTypes    = []string{"stdout", "honeycomb", "none"}
	limiterTypes   = []string{"fixed", "aimd"}
	rateSources    = []string{"local", "redis"}
	processorTypes = []string{"redact", "tag", "drop"}
	encodings      = []string{"JSON_V2", "PROTO3", "OTLP", "OTLP_JSON"}
)

// NewConfig loads the config files named in opts, applies defaults and
// overrides, and validates the result. errorCallback is invoked when a later
// Reload fails; the previous config stays in effect.
func NewConfig(opts *CmdEnv, errorCallback func(error)) (Config, error) {
	mainconf, mainhash, err := readAndValidate(opts)
	if err != nil {
		return nil, err
	}

	return &fileConfig{
		mainConfig:    mainconf,
		mainHash:      mainhash,
		opts:          opts,
		errorCallback: errorCallback,
	}, nil
}

func readAndValidate(opts *CmdEnv) (*configContents, string, error) {
	var mainconf configContents
	hash, err := readConfigInto(&mainconf, opts.ConfigLocations, opts)
	if err != nil {
		return nil, "", err
	}
	if err := mainconf.validate(); err != nil {
		return nil, "", err
	}
	return &mainconf, hash, nil
}

func oneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, value)
}

func (c *configContents) validate() error {
	if rate := c.Collector.GetSampleRate(); rate < 0 || rate > 1 {
		return fmt.Errorf("Collector.SampleRate must be between 0 and 1, got %v", rate)
	}
	if c.Collector.TargetSpansPerSecond < 0 {
		return fmt.Errorf("Collector.TargetSpansPerSecond must not be negative")
	}
	if err := oneOf("Collector.RateSource", c.Collector.RateSource, rateSources); err != nil {
		return err
	}
	if c.Collector.RateSource == "redis" && !c.Redis.configured() {
		return fmt.Errorf("Collector.RateSource redis requires Redis.Host")
	}

	th := c.Collector.Throttle
	if err := oneOf("Collector.Throttle.Limiter", th.Limiter, limiterTypes); err != nil {
		return err
	}
	if th.MinConcurrency < 1 || th.MinConcurrency > th.MaxConcurrency {
		return fmt.Errorf("Collector.Throttle requires 1 <= MinConcurrency <= MaxConcurrency")
	}
	if th.ConcurrencyLimit < th.MinConcurrency || th.ConcurrencyLimit > th.MaxConcurrency {
		return fmt.Errorf("Collector.Throttle.ConcurrencyLimit must be between MinConcurrency and MaxConcurrency")
	}
	if th.BackoffRatio <= 0 || th.BackoffRatio >= 1 {
		return fmt.Errorf("Collector.Throttle.BackoffRatio must be between 0 and 1 exclusive")
	}

	for i, p := range c.Processors {
		if err := oneOf(fmt.Sprintf("Processors[%d].Type", i), p.Type, processorTypes); err != nil {
			return err
		}
		if p.Type == "redact" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return fmt.Errorf("Processors[%d].Pattern: %w", i, err)
			}
		}
	}

	if err := oneOf("Storage.Type", c.Storage.Type, storageTypes); err != nil {
		return err
	}
	if c.Storage.Type == "redis" && !c.Redis.configured() {
		return fmt.Errorf("Storage.Type redis requires Redis.Host")
	}
	if c.Storage.Type == "honeycomb" && c.Storage.Honeycomb.APIKey == "" {
		return fmt.Errorf("Storage.Type honeycomb requires Storage.Honeycomb.APIKey")
	}
	if c.Storage.InMem.MaxSpans < 1 {
		return fmt.Errorf("Storage.InMem.MaxSpans must be positive")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("Kafka.Brokers is required when Kafka is enabled")
		}
		if err := oneOf("Kafka.Encoding", c.Kafka.Encoding, encodings); err != nil {
			return err
		}
	}
	if c.Pulsar.Enabled {
		if c.Pulsar.URL == "" {
			return fmt.Errorf("Pulsar.URL is required when Pulsar is enabled")
		}
		if err := oneOf("Pulsar.Encoding", c.Pulsar.Encoding, encodings); err != nil {
			return err
		}
	}
	if c.SQS.Enabled {
		if c.SQS.QueueURL == "" {
			return fmt.Errorf("SQS.QueueURL is required when SQS is enabled")
		}
		if err := oneOf("SQS.Encoding", c.SQS.Encoding, encodings); err != nil {
			return err
		}
	}

	return oneOf("Logger.Type", c.Logger.Type, loggerTypes)
}

func (r RedisConfig) configured() bool {
	return r.Host != "" || len(r.ClusterHosts) > 0
}

func (f *fileConfig) RegisterReloadCallback(cb ConfigReloadCallback) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.callbacks = append(f.callbacks, cb)
}

func (f *fileConfig) Reload() {
	mainconf, mainhash, err := readAndValidate(f.opts)
	if err != nil {
		if f.errorCallback != nil {
			f.errorCallback(err)
		}
		return
	}

	f.mux.Lock()
	if mainhash == f.mainHash {
		f.mux.Unlock()
		return
	}
	f.mainConfig = mainconf
	f.mainHash = mainhash
	callbacks := append([]ConfigReloadCallback(nil), f.callbacks...)
	f.mux.Unlock()

	for _, cb := range callbacks {
		cb(mainhash)
	}
}

func (f *fileConfig) GetHash() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainHash
}

func (f *fileConfig) GetListenAddr() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.General.ListenAddr
}

func (f *fileConfig) GetGRPCListenAddr() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.General.GRPCListenAddr
}

func (f *fileConfig) GetGeneralConfig() GeneralConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.General
}

func (f *fileConfig) GetCollectorConfig() CollectorConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Collector
}

func (f *fileConfig) GetProcessorsConfig() []ProcessorConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Processors
}

func (f *fileConfig) GetStorageConfig() StorageConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Storage
}

func (f *fileConfig) GetRedisConfig() RedisConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Redis
}

func (f *fileConfig) GetKafkaConfig() KafkaConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Kafka
}

func (f *fileConfig) GetPulsarConfig() PulsarConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Pulsar
}

func (f *fileConfig) GetSQSConfig() SQSConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.SQS
}

func (f *fileConfig) GetLoggerType() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Logger.Type
}

func (f *fileConfig) GetLoggerLevel() Level {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Logger.Level
}

func (f *fileConfig) GetStdoutLoggerConfig() StdoutLoggerConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.StdoutLogger
}

func (f *fileConfig) GetHoneycombLoggerConfig() HoneycombLoggerConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.HoneycombLogger
}

func (f *fileConfig) GetPrometheusMetricsConfig() PrometheusMetricsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.PrometheusMetrics
}
