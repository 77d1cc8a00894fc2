package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/tenantctl"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Operation metrics
	OperationsStarted   metric.Int64Counter
	OperationsCompleted metric.Int64Counter
	OperationsFailed    metric.Int64Counter
	OperationDuration   metric.Float64Histogram

	// Polling metrics
	PollIterations metric.Int64Counter
	PollExhausted  metric.Int64Counter

	// Trust metrics
	RoleAssumptions       metric.Int64Counter
	RoleAssumptionDenials metric.Int64Counter

	// Registry metrics
	RegistryWrites        metric.Int64Counter
	RegistryWriteFailures metric.Int64Counter

	// Deployment metrics
	StacksSubmitted   metric.Int64Counter
	SharedRowsDeleted metric.Int64Counter
	ThrottlesTotal    metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.OperationsStarted, _ = meter.Int64Counter(
		"tenantctl.operations.started.total",
		metric.WithDescription("Total number of tenant operations started"),
		metric.WithUnit("{operation}"),
	)

	m.OperationsCompleted, _ = meter.Int64Counter(
		"tenantctl.operations.completed.total",
		metric.WithDescription("Total number of tenant operations completed successfully"),
		metric.WithUnit("{operation}"),
	)

	m.OperationsFailed, _ = meter.Int64Counter(
		"tenantctl.operations.failed.total",
		metric.WithDescription("Total number of tenant operations that failed"),
		metric.WithUnit("{operation}"),
	)

	m.OperationDuration, _ = meter.Float64Histogram(
		"tenantctl.operations.duration",
		metric.WithDescription("End to end duration of tenant operations"),
		metric.WithUnit("ms"),
	)

	m.PollIterations, _ = meter.Int64Counter(
		"tenantctl.poll.iterations.total",
		metric.WithDescription("Total number of deployment status polls"),
		metric.WithUnit("{poll}"),
	)

	m.PollExhausted, _ = meter.Int64Counter(
		"tenantctl.poll.exhausted.total",
		metric.WithDescription("Total number of operations that exhausted their poll budget"),
		metric.WithUnit("{operation}"),
	)

	m.RoleAssumptions, _ = meter.Int64Counter(
		"tenantctl.trust.assumptions.total",
		metric.WithDescription("Total number of scoped role assumptions"),
		metric.WithUnit("{assumption}"),
	)

	m.RoleAssumptionDenials, _ = meter.Int64Counter(
		"tenantctl.trust.denials.total",
		metric.WithDescription("Total number of denied role assumptions"),
		metric.WithUnit("{denial}"),
	)

	m.RegistryWrites, _ = meter.Int64Counter(
		"tenantctl.registry.writes.total",
		metric.WithDescription("Total number of registry record writes"),
		metric.WithUnit("{write}"),
	)

	m.RegistryWriteFailures, _ = meter.Int64Counter(
		"tenantctl.registry.write_failures.total",
		metric.WithDescription("Total number of failed registry record writes"),
		metric.WithUnit("{failure}"),
	)

	m.StacksSubmitted, _ = meter.Int64Counter(
		"tenantctl.stacks.submitted.total",
		metric.WithDescription("Total number of stack deployments submitted"),
		metric.WithUnit("{stack}"),
	)

	m.SharedRowsDeleted, _ = meter.Int64Counter(
		"tenantctl.shared_table.rows_deleted.total",
		metric.WithDescription("Total number of shared table rows deleted"),
		metric.WithUnit("{row}"),
	)

	m.ThrottlesTotal, _ = meter.Int64Counter(
		"tenantctl.aws.throttles.total",
		metric.WithDescription("Total number of AWS throttling events"),
		metric.WithUnit("{throttle}"),
	)

	return m
}
