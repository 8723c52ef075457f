package telemetry

// Histogram bucket definitions
var (
	// FetchBuckets for upstream catalog downloads (large JSON bodies)
	FetchBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	// CycleBuckets for a full fetch/diff/publish/advance cycle
	CycleBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
)

// Upstream Metrics
var (
	// CatalogFetchTotal counts upstream fetches by result (success, unavailable, format_error)
	CatalogFetchTotal CounterVec = noopCounterVec{}

	// CatalogFetchSeconds measures upstream fetch latency by result
	CatalogFetchSeconds HistogramVec = noopHistogramVec{}

	// CatalogEntries tracks the catalog length seen by the last fetch
	CatalogEntries Gauge = NoopStat{}
)

// Publish Loop Metrics
var (
	// CyclesTotal counts loop cycles by result (published, transient, fatal)
	CyclesTotal CounterVec = noopCounterVec{}

	// CycleDurationSeconds measures cycle latency
	CycleDurationSeconds Histogram = NoopStat{}

	// EntriesSkippedTotal counts delta entries not published by reason (incomplete, filtered, transform_error)
	EntriesSkippedTotal CounterVec = noopCounterVec{}

	// CheckpointPosition tracks the committed checkpoint
	CheckpointPosition Gauge = NoopStat{}
)

// Delivery Metrics
var (
	// EventsSubmittedTotal counts submission attempts, refused ones included
	EventsSubmittedTotal Counter = NoopStat{}

	// SubmitFailuresTotal counts events the sink refused at submission
	SubmitFailuresTotal Counter = NoopStat{}

	// DeliveriesTotal counts broker confirmations by result (ack, nack)
	DeliveriesTotal CounterVec = noopCounterVec{}

	// InFlightEvents tracks submitted events without an ack or nack yet
	InFlightEvents Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	CatalogFetchTotal = NewCounterVec(
		"catalog_fetch_total",
		"Upstream catalog fetches by result",
		[]string{"result"},
	)
	CatalogFetchSeconds = NewHistogramVec(
		"catalog_fetch_seconds",
		"Upstream catalog fetch duration in seconds by result",
		[]string{"result"},
		FetchBuckets,
	)
	CatalogEntries = NewGauge(
		"catalog_entries",
		"Number of entries in the last fetched catalog",
	)

	CyclesTotal = NewCounterVec(
		"cycles_total",
		"Publish loop cycles by result",
		[]string{"result"},
	)
	CycleDurationSeconds = NewHistogramWithBuckets(
		"cycle_duration_seconds",
		"Publish loop cycle duration in seconds",
		CycleBuckets,
	)
	EntriesSkippedTotal = NewCounterVec(
		"entries_skipped_total",
		"Delta entries not published by reason",
		[]string{"reason"},
	)
	CheckpointPosition = NewGauge(
		"checkpoint_position",
		"Committed catalog checkpoint",
	)

	EventsSubmittedTotal = NewCounter(
		"events_submitted_total",
		"Events offered to the broker client, including refused submissions",
	)
	SubmitFailuresTotal = NewCounter(
		"submit_failures_total",
		"Events the broker client refused at submission",
	)
	DeliveriesTotal = NewCounterVec(
		"deliveries_total",
		"Broker delivery confirmations by result",
		[]string{"result"},
	)
	InFlightEvents = NewGauge(
		"in_flight_events",
		"Submitted events awaiting ack or nack",
	)
}
