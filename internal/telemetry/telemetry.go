// Package telemetry owns the in-process OpenTelemetry meter provider. Counters
// are kept in memory and read back on demand for logs and the HTTP API.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/hurttlocker/inboxdigest"

// Counter names.
const (
	MessagesFetched   = "inboxdigest.messages.fetched"
	MessagesClustered = "inboxdigest.messages.clustered"
	ThreadsBuilt      = "inboxdigest.threads.built"
)

// Telemetry is a meter provider backed by a manual reader.
type Telemetry struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func New() *Telemetry {
	reader := sdkmetric.NewManualReader()
	return &Telemetry{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (t *Telemetry) MeterProvider() metric.MeterProvider { return t.provider }

// Snapshot returns the cumulative value of every int64 counter, summed over
// attribute sets.
func (t *Telemetry) Snapshot(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			out[m.Name] += total
		}
	}
	return out, nil
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Counters are the instruments shared by the digest pipeline and the API.
type Counters struct {
	Fetched   metric.Int64Counter
	Clustered metric.Int64Counter
	Threads   metric.Int64Counter
}

// NewCounters creates the counters on mp. A nil mp uses the global provider.
func NewCounters(mp metric.MeterProvider) (*Counters, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	fetched, err := meter.Int64Counter(MessagesFetched,
		metric.WithDescription("Messages returned by the source after state filtering"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", MessagesFetched, err)
	}
	clustered, err := meter.Int64Counter(MessagesClustered,
		metric.WithDescription("Messages passed through the thread engine"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", MessagesClustered, err)
	}
	threads, err := meter.Int64Counter(ThreadsBuilt,
		metric.WithDescription("Threads produced by clustering"))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", ThreadsBuilt, err)
	}
	return &Counters{Fetched: fetched, Clustered: clustered, Threads: threads}, nil
}

// NoopCounters discards every measurement.
func NoopCounters() *Counters {
	return &Counters{
		Fetched:   noop.Int64Counter{},
		Clustered: noop.Int64Counter{},
		Threads:   noop.Int64Counter{},
	}
}
