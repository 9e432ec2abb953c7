// Package telemetry wires OpenTelemetry metrics for qntx-task. When disabled,
// every instrument is a no-op.
package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/teranos/qntx-task/am"
	"github.com/teranos/qntx-task/errors"
	"github.com/teranos/qntx-task/version"
)

// MeterName is the instrumentation scope of every qntx-task instrument.
const MeterName = "github.com/teranos/qntx-task"

// Provider owns the meter provider and its shutdown.
type Provider struct {
	MeterProvider metric.MeterProvider
	Meter         metric.Meter
	shutdown      func(context.Context) error
}

// Init builds a provider from cfg. Enabled telemetry exports periodically to
// w (stdout when nil) as JSON; disabled telemetry is a no-op provider.
func Init(cfg am.TelemetryConfig, w io.Writer) (*Provider, error) {
	if !cfg.Enabled {
		mp := noop.NewMeterProvider()
		return &Provider{
			MeterProvider: mp,
			Meter:         mp.Meter(MeterName),
			shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create metric exporter")
	}

	interval := time.Duration(cfg.ExportIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return NewProvider(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))), nil
}

// NewProvider builds an SDK provider around reader. Tests pass a ManualReader.
func NewProvider(reader sdkmetric.Reader) *Provider {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &Provider{
		MeterProvider: mp,
		Meter:         mp.Meter(MeterName, metric.WithInstrumentationVersion(version.Get().Instrumentation())),
		shutdown:      mp.Shutdown,
	}
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
