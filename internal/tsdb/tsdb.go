// Package tsdb records relay switches and temperature readings in InfluxDB.
//
// Writes are non-blocking and batched by the client library; failures are
// reported asynchronously to the logger. A Recorder is optional: the daemon
// runs with Nop when InfluxDB is disabled.
package tsdb

import (
	"context"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/sonoff-relay/internal/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	measurementRelay       = "relay"
	measurementTemperature = "temperature"
)

var (
	// ErrDisabled is returned by Connect when InfluxDB is not enabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps ping failures during Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Recorder receives the daemon's time series.
type Recorder interface {
	RecordRelay(on bool, source string, at time.Time)
	RecordTemperature(celsius float64, at time.Time)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRelay(bool, string, time.Time)  {}
func (Nop) RecordTemperature(float64, time.Time) {}
func (Nop) Close() error                         { return nil }

// Client writes points for one device.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	device   string
	log      logrus.FieldLogger

	mu     sync.Mutex
	closed bool
}

// Connect creates the client, pings the server and starts the non-blocking
// write API. device is attached to every point as a tag.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, device string, log logrus.FieldLogger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(ErrConnectionFailed, "ping %s: %v", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, errors.Wrapf(ErrConnectionFailed, "%s not healthy", cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		device:   device,
		log:      log,
	}
	go c.logWriteErrors(c.writeAPI.Errors())
	return c, nil
}

func (c *Client) logWriteErrors(errs <-chan error) {
	for err := range errs {
		c.log.WithError(err).Warn("InfluxDB write failed")
	}
}

// RecordRelay writes a relay point: state 1/0 tagged with what caused it.
func (c *Client) RecordRelay(on bool, source string, at time.Time) {
	c.writePoint(RelayPoint(c.device, on, source, at))
}

// RecordTemperature writes a temperature point in degrees Celsius.
func (c *Client) RecordTemperature(celsius float64, at time.Time) {
	c.writePoint(TemperaturePoint(c.device, celsius, at))
}

func (c *Client) writePoint(p *write.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.writeAPI.WritePoint(p)
}

// Flush sends pending points. Safe to call after Close (no-op).
func (c *Client) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending writes and closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// RelayPoint builds the relay measurement.
func RelayPoint(device string, on bool, source string, at time.Time) *write.Point {
	var state int64
	if on {
		state = 1
	}
	return write.NewPoint(
		measurementRelay,
		map[string]string{
			"device": device,
			"source": source,
		},
		map[string]interface{}{
			"state": state,
		},
		at,
	)
}

// TemperaturePoint builds the temperature measurement.
func TemperaturePoint(device string, celsius float64, at time.Time) *write.Point {
	return write.NewPoint(
		measurementTemperature,
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"celsius": celsius,
		},
		at,
	)
}
