package main

import (
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/baldanca/petition-preprocessor/config"
)

// newMeterProvider builds the metric pipeline selected by cfg. It returns nil
// when exporting is disabled.
func newMeterProvider(cfg config.Metrics, w io.Writer) (*sdkmetric.MeterProvider, error) {
	var exporter sdkmetric.Exporter
	switch cfg.Exporter {
	case config.ExporterNone, "":
		return nil, nil
	case config.ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported metrics exporter %q", cfg.Exporter)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval()))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}
