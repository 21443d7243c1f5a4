package config

import "sync"

// MockConfig will respond with whatever config it's set to do during
// initialization
type MockConfig struct {
	Callbacks                     []ConfigReloadCallback
	GetHashVal                    string
	GetGeneralConfigVal           GeneralConfig
	GetCollectorConfigVal         CollectorConfig
	GetProcessorsConfigVal        []ProcessorConfig
	GetStorageConfigVal           StorageConfig
	GetRedisConfigVal             RedisConfig
	GetKafkaConfigVal             KafkaConfig
	GetPulsarConfigVal            PulsarConfig
	GetSQSConfigVal               SQSConfig
	GetLoggerTypeVal              string
	GetLoggerLevelVal             Level
	GetStdoutLoggerConfigVal      StdoutLoggerConfig
	GetHoneycombLoggerConfigVal   HoneycombLoggerConfig
	GetPrometheusMetricsConfigVal PrometheusMetricsConfig

	Mux sync.RWMutex
}

func (m *MockConfig) RegisterReloadCallback(callback ConfigReloadCallback) {
	m.Mux.Lock()
	m.Callbacks = append(m.Callbacks, callback)
	m.Mux.Unlock()
}

// Reload invokes every registered callback with the current hash.
func (m *MockConfig) Reload() {
	m.Mux.RLock()
	callbacks := append([]ConfigReloadCallback(nil), m.Callbacks...)
	hash := m.GetHashVal
	m.Mux.RUnlock()

	for _, cb := range callbacks {
		cb(hash)
	}
}

func (m *MockConfig) GetHash() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetHashVal
}

func (m *MockConfig) GetListenAddr() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetGeneralConfigVal.ListenAddr
}

func (m *MockConfig) GetGRPCListenAddr() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetGeneralConfigVal.GRPCListenAddr
}

func (m *MockConfig) GetGeneralConfig() GeneralConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetGeneralConfigVal
}

func (m *MockConfig) GetCollectorConfig() CollectorConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetCollectorConfigVal
}

func (m *MockConfig) GetProcessorsConfig() []ProcessorConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetProcessorsConfigVal
}

func (m *MockConfig) GetStorageConfig() StorageConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetStorageConfigVal
}

func (m *MockConfig) GetRedisConfig() RedisConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetRedisConfigVal
}

func (m *MockConfig) GetKafkaConfig() KafkaConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetKafkaConfigVal
}

func (m *MockConfig) GetPulsarConfig() PulsarConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetPulsarConfigVal
}

func (m *MockConfig) GetSQSConfig() SQSConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetSQSConfigVal
}

func (m *MockConfig) GetLoggerType() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetLoggerTypeVal
}

func (m *MockConfig) GetLoggerLevel() Level {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetLoggerLevelVal
}

func (m *MockConfig) GetStdoutLoggerConfig() StdoutLoggerConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetStdoutLoggerConfigVal
}

func (m *MockConfig) GetHoneycombLoggerConfig() HoneycombLoggerConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetHoneycombLoggerConfigVal
}

func (m *MockConfig) GetPrometheusMetricsConfig() PrometheusMetricsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetPrometheusMetricsConfigVal
}
