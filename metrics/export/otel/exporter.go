// Package otel bridges engine metrics to an OpenTelemetry meter via
// observable counters, so snapshots are read only when the SDK
// collects.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/expressthat/authkit"
	"github.com/expressthat/authkit/metrics/export/internaldefs"
)

// Source is the slice of the engine the exporter reads. *authkit.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() [authkit.NumMetrics]uint64
	AuditDropped() uint64
}

// Register creates one observable counter per engine metric on the
// meter and returns a function that unregisters the callback.
func Register(meter metric.Meter, src Source) (func() error, error) {
	counters := make([]metric.Int64ObservableCounter, len(internaldefs.CounterDefs))
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+1)

	for i, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: create counter %s: %w", def.Name, err)
		}
		counters[i] = c
		observables = append(observables, c)
	}

	dropped, err := meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription("Audit events shed because the buffer was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("otel: create counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := src.MetricsSnapshot()
		for i, def := range internaldefs.CounterDefs {
			observer.ObserveInt64(counters[i], int64(snapshot[def.ID]))
		}
		observer.ObserveInt64(dropped, int64(src.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}

	return registration.Unregister, nil
}
