// Package observability publishes API telemetry to CloudWatch. Metrics are
// buffered and flushed in the background so the request path never blocks on
// a metrics call.
package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatch caps PutMetricData at 1000 datums per call; a smaller batch
// keeps payloads well under the size limit.
const (
	metricBatchSize     = 20
	metricFlushInterval = 10 * time.Second
	metricBufferSize    = 256
	putMetricTimeout    = 5 * time.Second
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements core.MetricsCollector by publishing request
// count and latency metrics to a CloudWatch namespace.
//
// Metrics emitted:
//   - RequestCount: Dims {Method, Endpoint, Status} -- one per request
//   - RequestLatency: Dims {Method, Endpoint} -- wall time in milliseconds
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	buf      chan cwtypes.MetricDatum
	done     chan struct{}
	closedMu sync.Mutex
	closed   bool
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace and starts its background flusher. Call Close on shutdown to
// flush buffered datums.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	m := &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		buf:       make(chan cwtypes.MetricDatum, metricBufferSize),
		done:      make(chan struct{}),
	}
	go m.run()
	return m
}

// RecordRequest enqueues request metrics. When the buffer is full the datum
// is dropped; losing a metric beats stalling a request.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	now := time.Now()

	count := cwtypes.MetricDatum{
		MetricName: aws.String("RequestCount"),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(now),
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Method"), Value: aws.String(method)},
			{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
			{Name: aws.String("Status"), Value: aws.String(status)},
		},
	}
	latency := cwtypes.MetricDatum{
		MetricName: aws.String("RequestLatency"),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Timestamp:  aws.Time(now),
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Method"), Value: aws.String(method)},
			{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
		},
	}

	for _, datum := range []cwtypes.MetricDatum{count, latency} {
		select {
		case m.buf <- datum:
		default:
			m.logger.Warn("metric buffer full; dropping datum",
				slog.String("metric", aws.ToString(datum.MetricName)),
			)
		}
	}
}

// Close stops the background flusher and publishes any buffered datums.
func (m *CloudWatchMetrics) Close() error {
	m.closedMu.Lock()
	if m.closed {
		m.closedMu.Unlock()
		return nil
	}
	m.closed = true
	m.closedMu.Unlock()

	close(m.buf)
	<-m.done
	return nil
}

// run drains the buffer, flushing on batch size or interval.
func (m *CloudWatchMetrics) run() {
	defer close(m.done)

	ticker := time.NewTicker(metricFlushInterval)
	defer ticker.Stop()

	batch := make([]cwtypes.MetricDatum, 0, metricBatchSize)
	for {
		select {
		case datum, ok := <-m.buf:
			if !ok {
				m.flush(batch)
				return
			}
			batch = append(batch, datum)
			if len(batch) >= metricBatchSize {
				m.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			m.flush(batch)
			batch = batch[:0]
		}
	}
}

func (m *CloudWatchMetrics) flush(batch []cwtypes.MetricDatum) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), putMetricTimeout)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: batch,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metrics batch",
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}

// NoopMetrics discards all telemetry. Used when metrics are disabled.
type NoopMetrics struct{}

// RecordRequest does nothing.
func (NoopMetrics) RecordRequest(_, _, _ string, _ time.Duration) {}
