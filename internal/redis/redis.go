// Package redis owns the process's connection to Redis. Everything that talks
// to Redis (span storage, the shared sampling rate) goes through one Client.
package redis

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/honeycombio/intake/config"
	"github.com/honeycombio/intake/logger"
	"github.com/honeycombio/intake/metrics"
)

var ErrNotConfigured = errors.New("redis is not configured")

// Client builds a go-redis client from the Redis section of the config.
type Client struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`

	client redis.UniversalClient
}

var redisMetrics = []metrics.Metadata{
	{Name: "redis_connection_errors", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of failed health checks against Redis"},
}

func (c *Client) Start() error {
	redisCfg := c.Config.GetRedisConfig()

	options := new(redis.UniversalOptions)
	hosts := []string{redisCfg.Host}
	clusterModeEnabled := false
	// if we have cluster hosts, use those instead of the regular host
	if len(redisCfg.ClusterHosts) > 0 {
		hosts = redisCfg.ClusterHosts
		clusterModeEnabled = true
	} else if redisCfg.Host == "" {
		// nothing in this process needs redis
		c.Logger.Debug().Logf("No Redis host configured, not connecting")
		return nil
	}

	options.Addrs = hosts
	options.Username = redisCfg.Username
	options.Password = redisCfg.Password
	options.DB = redisCfg.Database

	if redisCfg.UseTLS {
		c.Logger.Info().WithField("TLSInsecure", redisCfg.UseTLSInsecure).Logf("Using TLS with Redis")
		options.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: redisCfg.UseTLSInsecure,
		}
	}

	var client redis.UniversalClient
	if clusterModeEnabled {
		c.Logger.Info().WithField("hosts", options.Addrs).Logf("Using Redis Cluster Client")
		client = redis.NewClusterClient(options.Cluster())
	} else {
		c.Logger.Info().WithField("hosts", options.Addrs).Logf("Using Redis Universal client")
		client = redis.NewUniversalClient(options)
	}

	// if an authcode was provided, use it to authenticate the connection
	if redisCfg.AuthCode != "" {
		c.Logger.Info().Logf("Using Redis AuthCode to authenticate connection")
		pipe := client.Pipeline()
		pipe.Auth(context.Background(), redisCfg.AuthCode)
		if _, err := pipe.Exec(context.Background()); err != nil {
			client.Close()
			return err
		}
	}

	for _, metric := range redisMetrics {
		c.Metrics.Register(metric)
	}

	c.client = client
	return nil
}

func (c *Client) Stop() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Universal returns the underlying client. It is nil until Start has
// succeeded, and stays nil when no Redis host is configured.
func (c *Client) Universal() redis.UniversalClient {
	return c.client
}

// Check pings Redis.
func (c *Client) Check(ctx context.Context) error {
	if c.client == nil {
		return ErrNotConfigured
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.Metrics.Increment("redis_connection_errors")
		return err
	}
	return nil
}
