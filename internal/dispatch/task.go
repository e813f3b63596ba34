package dispatch

import (
	"presshook/internal/hook"
)

// Task is one queued delivery message. Each message produces exactly one
// attempt; the worker requeues the message with a delay for the next one.
type Task struct {
	RecordID   string       `json:"record_id"`
	TargetURL  string       `json:"target_url"`
	Payload    hook.Payload `json:"payload"`
	CycleStart int          `json:"cycle_start"` // lifetime attempt count when this cycle began
	EnqueuedAt string       `json:"enqueued_at"` // RFC3339

	// TraceHeaders carry OTel propagation context across the queue hop.
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}
