// Package influx writes the worker's time series (fees, speed, batches and
// submissions) to InfluxDB and reads back speed history for reports.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
	wallet   string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Wallet tags every point written by this client.
	Wallet string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
		wallet:   cfg.Wallet,
	}, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Errors returns the channel of asynchronous write errors
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// Minting metrics

// FeePoint builds the point of one paid fee
func FeePoint(wallet, kind string, fee, income, balance uint64, at time.Time) *write.Point {
	tags := map[string]string{
		"wallet": wallet,
		"kind":   kind,
	}
	fields := map[string]interface{}{
		"fee":     int64(fee),
		"income":  int64(income),
		"balance": int64(balance),
		"net":     int64(income) - int64(fee),
	}
	return write.NewPoint("fees", tags, fields, at)
}

// WriteFeeMetric writes a paid fee
func (c *Client) WriteFeeMetric(kind string, fee, income, balance uint64, at time.Time) {
	c.writeAPI.WritePoint(FeePoint(c.wallet, kind, fee, income, balance, at))
}

// SpeedPoint builds the point of one progress sample
func SpeedPoint(wallet string, speed, progress, dailyERG, dailyMEL float64, at time.Time) *write.Point {
	tags := map[string]string{
		"wallet": wallet,
	}
	fields := map[string]interface{}{
		"speed":     speed,
		"progress":  progress,
		"daily_erg": dailyERG,
		"daily_mel": dailyMEL,
	}
	return write.NewPoint("speed", tags, fields, at)
}

// WriteSpeedMetric writes a progress sample
func (c *Client) WriteSpeedMetric(speed, progress, dailyERG, dailyMEL float64) {
	c.writeAPI.WritePoint(SpeedPoint(c.wallet, speed, progress, dailyERG, dailyMEL, time.Now()))
}

// WriteBatchMetric writes a finished proof batch
func (c *Client) WriteBatchMetric(difficulty uint, threads int, duration time.Duration) {
	tags := map[string]string{
		"wallet":     c.wallet,
		"difficulty": fmt.Sprintf("%d", difficulty),
	}
	fields := map[string]interface{}{
		"threads":  threads,
		"duration": duration.Seconds(),
	}
	c.writeAPI.WritePoint(write.NewPoint("batches", tags, fields, time.Now()))
}

// WriteSubmissionMetric writes the outcome of one submission attempt
func (c *Client) WriteSubmissionMetric(outcome string, difficulty uint, fails int) {
	tags := map[string]string{
		"wallet":  c.wallet,
		"outcome": outcome,
	}
	fields := map[string]interface{}{
		"difficulty": int64(difficulty),
		"fails":      fails,
		"count":      1,
	}
	c.writeAPI.WritePoint(write.NewPoint("submissions", tags, fields, time.Now()))
}

// Query methods

// GetSpeedHistory retrieves the wallet's speed averaged over 5 minute windows
func (c *Client) GetSpeedHistory(ctx context.Context, duration time.Duration) ([]SpeedSample, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "speed")
		|> filter(fn: (r) => r.wallet == "%s")
		|> filter(fn: (r) => r._field == "speed")
		|> aggregateWindow(every: 5m, fn: mean, createEmpty: false)
	`, c.bucket, duration.String(), c.wallet)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query speed history: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var points []SpeedSample
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, SpeedSample{
				Time:  record.Time(),
				Speed: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Data structures

// SpeedSample is a mean speed over one window
type SpeedSample struct {
	Time  time.Time `json:"time"`
	Speed float64   `json:"speed"`
}

// MeanSpeed averages samples, zero when there are none
func MeanSpeed(samples []SpeedSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Speed
	}
	return sum / float64(len(samples))
}
