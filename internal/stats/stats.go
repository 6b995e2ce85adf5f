package stats

// ProcessingStats is the periodic health snapshot of the pipeline.
type ProcessingStats struct {
	EventsSubmitted uint64   `json:"events_submitted"`
	EventsProcessed uint64   `json:"events_processed"`
	EventsDropped   uint64   `json:"events_dropped"`
	EventsInvalid   uint64   `json:"events_invalid"`
	AlertsCreated   uint64   `json:"alerts_created"`
	AlertsDeduped   uint64   `json:"alerts_deduped"`
	QueueDepth      int      `json:"queue_depth"`
	ErrorsRecorded  uint64   `json:"errors_recorded"`
	Latency         Snapshot `json:"latency"`
	Anomaly         *Anomaly `json:"anomaly,omitempty"`
}
