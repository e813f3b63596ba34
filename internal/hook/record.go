package hook

import (
	"fmt"
	"time"
)

// Status of a delivery record. Pending is the only non-terminal value.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further automatic attempts may occur.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Action is a content-lifecycle operation that triggers a revalidation.
type Action string

const (
	ActionPublish   Action = "publish"
	ActionUpdate    Action = "update"
	ActionUnpublish Action = "unpublish"
)

// ParseAction validates a trigger action. Unrecognized actions are a
// configuration error: the job must not be created.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionPublish, ActionUpdate, ActionUnpublish:
		return Action(s), nil
	}
	return "", fmt.Errorf("unrecognized trigger action %q", s)
}

// Event is the inbound trigger contract from the content lifecycle.
type Event struct {
	Action string `json:"action"`
	Path   string `json:"path"`
}

// Payload is the JSON body posted to the revalidation endpoint.
type Payload struct {
	Slug   string `json:"slug"`
	Action string `json:"action"`
}

// Record is the durable log of one delivery job. Attempt is a lifetime
// total: it survives manual replays and never decreases.
type Record struct {
	ID             string    `json:"id"`
	TargetURL      string    `json:"target_url"`
	Payload        Payload   `json:"payload"`
	Status         Status    `json:"status"`
	Attempt        int       `json:"attempt"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AuditRecord is the general-purpose audit trail entry. It shares the
// retention mechanics with delivery records but nothing else.
type AuditRecord struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	CreatedAt  time.Time `json:"created_at"`
}
