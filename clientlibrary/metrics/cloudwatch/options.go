// Package cloudwatch publishes KCL worker metrics to Amazon CloudWatch,
// batching PutMetricData calls on a fixed interval instead of the
// Prometheus backend's pull model.
package cloudwatch

import (
	"time"

	"github.com/streamworks/kcl/logger"
)

// Option configures MonitoringService via the functional options pattern,
// mirroring the Prometheus backend's options.go.
type Option func(*config)

type config struct {
	region        string
	logger        logger.Logger
	client        CloudWatchAPI
	flushInterval time.Duration
}

func defaultConfig() config {
	return config{
		logger:        logger.GetDefaultLogger(),
		flushInterval: 10 * time.Second,
	}
}

// WithRegion sets the AWS region used to build the default CloudWatch
// client. Ignored if WithCloudWatchClient is also supplied.
func WithRegion(region string) Option {
	return func(c *config) {
		c.region = region
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithCloudWatchClient injects a CloudWatch client, bypassing the default
// credential-chain client construction performed in Init. Used by tests
// to substitute a fake CloudWatchAPI.
func WithCloudWatchClient(client CloudWatchAPI) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithFlushInterval sets how often buffered metrics are flushed to
// CloudWatch. Default: 10s.
func WithFlushInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}
