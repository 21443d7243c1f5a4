package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestReadDefaults(t *testing.T) {
	path := writeConfig(t, "empty.yaml", "")

	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9411", c.GetListenAddr())
	assert.Equal(t, "", c.GetGRPCListenAddr())
	assert.Equal(t, MemorySize(5*Mi), c.GetGeneralConfig().MaxRequestSize)
	assert.Equal(t, 60*time.Second, time.Duration(c.GetGeneralConfig().HTTPIdleTimeout))

	coll := c.GetCollectorConfig()
	assert.Equal(t, 1.0, coll.GetSampleRate())
	assert.Equal(t, "local", coll.RateSource)
	assert.Equal(t, 10*time.Second, time.Duration(coll.RefreshInterval))
	assert.False(t, coll.ProcessBeforeSample)
	assert.False(t, coll.Throttle.Enabled)
	assert.Equal(t, "aimd", coll.Throttle.Limiter)
	assert.Equal(t, 10, coll.Throttle.ConcurrencyLimit)
	assert.Equal(t, 0.9, coll.Throttle.BackoffRatio)

	assert.Equal(t, "inmem", c.GetStorageConfig().Type)
	assert.Equal(t, 500000, c.GetStorageConfig().InMem.MaxSpans)
	assert.Equal(t, []string{"zipkin"}, c.GetKafkaConfig().Topics)
	assert.Equal(t, "JSON_V2", c.GetSQSConfig().Encoding)
	assert.Equal(t, "stdout", c.GetLoggerType())
	assert.Equal(t, InfoLevel, c.GetLoggerLevel())
	assert.Equal(t, "intake-logs", c.GetHoneycombLoggerConfig().Dataset)
}

func TestExplicitZeroSampleRate(t *testing.T) {
	path := writeConfig(t, "zero.yaml", "Collector:\n  SampleRate: 0\n")

	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.GetCollectorConfig().GetSampleRate())
}

func TestReadTOML(t *testing.T) {
	path := writeConfig(t, "intake.toml", `
[General]
GRPCListenAddr = "0.0.0.0:4317"

[Collector]
SampleRate = 0.25
ProcessBeforeSample = true

[Collector.Throttle]
Enabled = true
Limiter = "fixed"
ConcurrencyLimit = 4

[[Processors]]
Type = "redact"
Pattern = "\\d{16}"
Replacement = "****"

[[Processors]]
Type = "tag"
[Processors.Tags]
region = "us-east-1"

[Logger]
Level = "debug"
`)

	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:4317", c.GetGRPCListenAddr())
	assert.Equal(t, 0.25, c.GetCollectorConfig().GetSampleRate())
	assert.True(t, c.GetCollectorConfig().ProcessBeforeSample)
	assert.Equal(t, "fixed", c.GetCollectorConfig().Throttle.Limiter)
	assert.Equal(t, 4, c.GetCollectorConfig().Throttle.ConcurrencyLimit)

	procs := c.GetProcessorsConfig()
	require.Len(t, procs, 2)
	assert.Equal(t, "redact", procs[0].Type)
	assert.Equal(t, `\d{16}`, procs[0].Pattern)
	assert.Equal(t, map[string]string{"region": "us-east-1"}, procs[1].Tags)
	assert.Equal(t, DebugLevel, c.GetLoggerLevel())
}

func TestCmdEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "intake.yaml", "Redis:\n  Host: from-file:6379\nStorage:\n  Type: inmem\n")

	opts := &CmdEnv{
		ConfigLocations: []string{path},
		RedisHost:       "from-flag:6379",
		StorageType:     "redis",
		KafkaBrokers:    []string{"k1:9092"},
	}
	c, err := NewConfig(opts, nil)
	require.NoError(t, err)

	assert.Equal(t, "from-flag:6379", c.GetRedisConfig().Host)
	assert.Equal(t, "redis", c.GetStorageConfig().Type)
	assert.Equal(t, []string{"k1:9092"}, c.GetKafkaConfig().Brokers)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"rate too high", "Collector:\n  SampleRate: 1.5\n"},
		{"negative rate", "Collector:\n  SampleRate: -0.1\n"},
		{"unknown storage", "Storage:\n  Type: cassandra\n"},
		{"redis storage without host", "Storage:\n  Type: redis\n"},
		{"honeycomb storage without key", "Storage:\n  Type: honeycomb\n"},
		{"redis rate source without host", "Collector:\n  RateSource: redis\n"},
		{"bad limiter", "Collector:\n  Throttle:\n    Limiter: vegas\n"},
		{"limit outside bounds", "Collector:\n  Throttle:\n    ConcurrencyLimit: 500\n"},
		{"bad processor", "Processors:\n  - Type: encrypt\n"},
		{"bad pattern", "Processors:\n  - Type: redact\n    Pattern: \"(\"\n"},
		{"kafka without brokers", "Kafka:\n  Enabled: true\n"},
		{"sqs without queue", "SQS:\n  Enabled: true\n"},
		{"pulsar bad encoding", "Pulsar:\n  Enabled: true\n  URL: pulsar://localhost:6650\n  Encoding: THRIFT\n"},
		{"bad logger", "Logger:\n  Type: syslog\n"},
		{"bad level", "Logger:\n  Level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "intake.yaml", tt.contents)
			_, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, nil)
			assert.Error(t, err)
		})
	}
}

func TestReload(t *testing.T) {
	path := writeConfig(t, "intake.yaml", "General:\n  ListenAddr: 0.0.0.0:8000\n")

	var reloadErr atomic.Value
	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, func(err error) { reloadErr.Store(err) })
	require.NoError(t, err)
	firstHash := c.GetHash()

	var called atomic.Int32
	c.RegisterReloadCallback(func(hash string) {
		called.Add(1)
		assert.NotEqual(t, firstHash, hash)
	})

	// unchanged file, no callbacks
	c.Reload()
	assert.Equal(t, int32(0), called.Load())

	require.NoError(t, os.WriteFile(path, []byte("General:\n  ListenAddr: 0.0.0.0:9000\n"), 0644))
	c.Reload()
	assert.Equal(t, int32(1), called.Load())
	assert.Equal(t, "0.0.0.0:9000", c.GetListenAddr())

	// an invalid file keeps the previous config
	require.NoError(t, os.WriteFile(path, []byte("Storage:\n  Type: cassandra\n"), 0644))
	c.Reload()
	assert.Equal(t, int32(1), called.Load())
	assert.Equal(t, "0.0.0.0:9000", c.GetListenAddr())
	assert.NotNil(t, reloadErr.Load())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, WarnLevel, ParseLevel(" Warning "))
	assert.Equal(t, UnknownLevel, ParseLevel("trace"))

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("ERROR")))
	assert.Equal(t, ErrorLevel, l)
	b, err := l.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "error", string(b))
}
