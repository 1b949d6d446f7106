package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/iotcore-client/internal/infrastructure/config"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

// pointSink is the part of api.WriteAPI the Client writes through.
type pointSink interface {
	WritePoint(p *write.Point)
	Flush()
}

// Client records device telemetry in an InfluxDB v2 bucket.
//
// Every point carries the device tag and is written through the batching,
// non-blocking WriteAPI, so recording never stalls the event loop. Client
// implements connection.Observer and the agent's publish/message observers.
type Client struct {
	influx influxdb2.Client
	sink   pointSink
	device string
	now    func() time.Time

	mu      sync.RWMutex
	closed  bool
	onError func(err error)
}

// Connect opens the telemetry bucket for device and checks the server
// answers a ping.
//
// Returns ErrDisabled if telemetry is off, or wraps ErrConnectionFailed if
// the server cannot be reached or reports itself unhealthy.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, device string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	// #nosec G115 -- flush interval is positive and bounded by config validation
	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flush.Milliseconds())))

	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	writeAPI := influx.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(writeAPI, device, time.Now)
	c.influx = influx
	go c.forwardErrors(writeAPI.Errors())

	return c, nil
}

func newClient(sink pointSink, device string, now func() time.Time) *Client {
	return &Client{sink: sink, device: device, now: now}
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := influx.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// forwardErrors hands async batch failures to the SetOnError callback.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for batch write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// record queues one point tagged with the device. Points recorded after
// Close are dropped.
func (c *Client) record(measurement string, tags map[string]string, fields map[string]any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	p := write.NewPointWithMeasurement(measurement).
		AddTag("device", c.device).
		SetTime(c.now())
	for k, v := range tags {
		p.AddTag(k, v)
	}
	for k, v := range fields {
		p.AddField(k, v)
	}
	c.sink.WritePoint(p.SortTags().SortFields())
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed || c.influx == nil {
		return ErrNotConnected
	}

	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Close flushes queued points and waits for in-flight batches. It is safe
// to call on a nil Client and more than once.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.sink.Flush()
	if c.influx != nil {
		c.influx.Close()
	}
	return nil
}
