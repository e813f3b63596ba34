package retention

import (
	"context"
	"time"

	"presshook/internal/logging"
	"presshook/internal/metrics"
)

// DeliveryPruner removes terminal delivery records past the window.
type DeliveryPruner interface {
	DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPruner removes audit records past the window.
type AuditPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper is the periodic retention sweep. It only deletes records already
// in a terminal state, so it is idempotent and safe to run concurrently
// with live dispatch. Failed delivery records are kept indefinitely for
// postmortem; the sweep never touches them.
type Sweeper struct {
	deliveries     DeliveryPruner
	audits         AuditPruner
	deliveryWindow time.Duration
	auditWindow    time.Duration
	logger         *logging.Logger

	now func() time.Time
}

func NewSweeper(deliveries DeliveryPruner, audits AuditPruner, deliveryWindow, auditWindow time.Duration, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		deliveries:     deliveries,
		audits:         audits,
		deliveryWindow: deliveryWindow,
		auditWindow:    auditWindow,
		logger:         logger,
		now:            time.Now,
	}
}

// Run executes one sweep. Errors are logged, not returned: a failed sweep
// retries on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	now := s.now()

	n, err := s.deliveries.DeleteSucceededBefore(ctx, now.Add(-s.deliveryWindow))
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("delivery retention sweep failed")
	} else if n > 0 {
		metrics.RecordRetentionDeleted("delivery", n)
		s.logger.WithContext(ctx).WithField("deleted", n).Info("delivery retention sweep")
	}

	m, err := s.audits.DeleteBefore(ctx, now.Add(-s.auditWindow))
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("audit retention sweep failed")
	} else if m > 0 {
		metrics.RecordRetentionDeleted("audit", m)
		s.logger.WithContext(ctx).WithField("deleted", m).Info("audit retention sweep")
	}
}
