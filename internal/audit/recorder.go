package audit

import (
	"context"

	"github.com/google/uuid"

	"presshook/internal/hook"
	"presshook/internal/logging"
)

// Store is the slice of the audit store the recorder needs.
type Store interface {
	Create(ctx context.Context, rec *hook.AuditRecord) error
}

// Recorder appends audit trail entries for operator actions. Writing the
// trail is best-effort: an audit insert failure is logged but never fails
// the operation being audited.
type Recorder struct {
	store  Store
	logger *logging.Logger
}

func NewRecorder(store Store, logger *logging.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends one entry.
func (r *Recorder) Record(ctx context.Context, actor, action, targetType, targetID string) {
	rec := &hook.AuditRecord{
		ID:         uuid.NewString(),
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
	}
	if err := r.store.Create(ctx, rec); err != nil {
		r.logger.WithContext(ctx).WithActor(actor).WithError(err).Error("audit record write failed")
	}
}
