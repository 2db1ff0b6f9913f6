package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Data freshness
	MetricDatasetFreshness = "sync.dataset_age_seconds"
	MetricCellResolveTime  = "geo.cell_resolve_latency"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Business
	MetricHubAssignments = "business.hub_assignments"
	MetricSyncRuns       = "business.sync_runs_completed"
)
