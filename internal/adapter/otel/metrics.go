// Package otel provides OpenTelemetry metrics setup for Maestro.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "maestro"

// Metrics holds all Maestro metric instruments.
type Metrics struct {
	ExecutionsSubmitted  metric.Int64Counter
	ExecutionsDispatched metric.Int64Counter
	ExecutionsCompleted  metric.Int64Counter
	ExecutionsFailed     metric.Int64Counter
	EventsProcessed      metric.Int64Counter
	TriggersFired        metric.Int64Counter
	ExecutionDuration    metric.Float64Histogram
	ExecutionCost        metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ExecutionsSubmitted, err = meter.Int64Counter("maestro.executions.submitted",
		metric.WithDescription("Number of execution requests submitted"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsDispatched, err = meter.Int64Counter("maestro.executions.dispatched",
		metric.WithDescription("Number of executions assigned to workers"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsCompleted, err = meter.Int64Counter("maestro.executions.completed",
		metric.WithDescription("Number of executions that reached a terminal state"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFailed, err = meter.Int64Counter("maestro.executions.failed",
		metric.WithDescription("Number of executions that failed"))
	if err != nil {
		return nil, err
	}

	m.EventsProcessed, err = meter.Int64Counter("maestro.events.processed",
		metric.WithDescription("Number of events drained by the event processor"))
	if err != nil {
		return nil, err
	}

	m.TriggersFired, err = meter.Int64Counter("maestro.triggers.fired",
		metric.WithDescription("Number of triggers fired by the scheduler"))
	if err != nil {
		return nil, err
	}

	m.ExecutionDuration, err = meter.Float64Histogram("maestro.execution.duration_seconds",
		metric.WithDescription("Execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ExecutionCost, err = meter.Float64Histogram("maestro.execution.cost_usd",
		metric.WithDescription("Execution cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
