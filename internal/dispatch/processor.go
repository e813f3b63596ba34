package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"presshook/internal/hook"
	"presshook/internal/logging"
	"presshook/internal/metrics"
	"presshook/internal/store"
	"presshook/internal/tracing"
)

// Deliverer makes exactly one attempt; *hook.Client satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, targetURL string, payload hook.Payload) hook.Outcome
}

// AttemptStore is the slice of the delivery store the processor needs.
type AttemptStore interface {
	Get(ctx context.Context, id string) (*hook.Record, error)
	RecordAttempt(ctx context.Context, id string, responseStatus *int, lastError string) (int, error)
	Finalize(ctx context.Context, id string, status hook.Status) error
}

// Disposition tells the queue what to do with the consumed message.
type Disposition struct {
	Requeue bool
	Delay   time.Duration
}

var finish = Disposition{}

// Processor executes one delivery attempt per task message and decides
// between finishing the job and requeueing it with backoff. Attempts
// within a job are strictly ordered because the next message only exists
// after this one's outcome is persisted; jobs never block each other
// because the backoff wait lives in the queue, not in a goroutine.
type Processor struct {
	store  AttemptStore
	client Deliverer
	policy hook.Policy
	logger *logging.Logger
}

func NewProcessor(st AttemptStore, client Deliverer, policy hook.Policy, logger *logging.Logger) *Processor {
	return &Processor{store: st, client: client, policy: policy, logger: logger}
}

// Process runs one attempt for the task and persists its outcome. Every
// attempt is recorded, not just the final one, so partial progress stays
// observable in the delivery history.
func (p *Processor) Process(ctx context.Context, t Task) Disposition {
	ctx = tracing.ExtractTaskHeaders(ctx, t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "worker.attempt",
		attribute.String("record_id", t.RecordID),
		attribute.String("target_url", t.TargetURL),
		attribute.String("action", t.Payload.Action),
		attribute.Int("cycle_start", t.CycleStart),
	)
	defer span.End()

	// The queue is at-least-once; a duplicate message for a record that
	// already reached a terminal state must not produce another network
	// call. Success in particular is immutable.
	rec, err := p.store.Get(ctx, t.RecordID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		p.logger.WithContext(ctx).WithRecord(t.RecordID).WithError(err).Warn("record lookup failed, dropping task")
		return finish
	}
	if rec.Status != hook.StatusPending {
		p.logger.WithContext(ctx).WithRecord(t.RecordID).
			WithField("status", string(rec.Status)).
			Warn("record no longer pending, dropping task")
		return finish
	}

	start := time.Now()
	out := p.client.Deliver(ctx, t.TargetURL, t.Payload)
	latency := time.Since(start)
	metrics.RecordAttemptLatency(latency)

	span.SetAttributes(
		attribute.Int("http.status_code", out.StatusCode),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
		attribute.String("outcome", out.Class.String()),
	)
	if out.Err != nil {
		span.SetAttributes(attribute.String("http.error", out.Err.Error()))
	}

	var codePtr *int
	if out.StatusCode != 0 {
		code := out.StatusCode
		codePtr = &code
	}
	lastErr := ""
	if out.Class != hook.Success {
		lastErr = hook.FailureReason(out)
	}

	attempt, err := p.store.RecordAttempt(ctx, t.RecordID, codePtr, lastErr)
	if err != nil {
		// The record left pending underneath us (or is gone). Either way no
		// further attempt may run for this message.
		if !errors.Is(err, store.ErrNotPending) {
			tracing.SetSpanError(ctx, err)
		}
		p.logger.WithContext(ctx).WithRecord(t.RecordID).WithError(err).Warn("attempt not recorded, dropping task")
		return finish
	}
	span.SetAttributes(attribute.Int("attempt", attempt))

	switch out.Class {
	case hook.Success:
		p.finalize(ctx, t.RecordID, hook.StatusSuccess)
		p.logger.WithContext(ctx).WithRecord(t.RecordID).
			WithFields(map[string]any{"attempt": attempt, "status_code": out.StatusCode}).
			Info("delivered")
		return finish

	case hook.Permanent:
		// A client error signals misconfiguration; burning the remaining
		// budget on it would only delay the operator finding out.
		p.finalize(ctx, t.RecordID, hook.StatusFailed)
		p.logger.WithContext(ctx).WithRecord(t.RecordID).
			WithFields(map[string]any{"attempt": attempt, "status_code": out.StatusCode}).
			Error("permanent delivery failure")
		return finish

	default: // hook.Retryable
		reason := hook.FailureReason(out)
		if p.policy.Exhausted(attempt, t.CycleStart) {
			p.finalize(ctx, t.RecordID, hook.StatusFailed)
			p.logger.WithContext(ctx).WithRecord(t.RecordID).
				WithFields(map[string]any{"attempt": attempt, "reason": reason}).
				Error("delivery attempts exhausted")
			return finish
		}
		delay := p.policy.NextDelay(attempt, t.CycleStart)
		metrics.RecordRetry(reason)
		tracing.AddSpanEvent(ctx, "delivery.requeue",
			attribute.Int("attempt", attempt),
			attribute.String("delay", delay.String()),
		)
		p.logger.WithContext(ctx).WithRecord(t.RecordID).
			WithFields(map[string]any{"attempt": attempt, "reason": reason, "delay": delay.String()}).
			Info("requeue delivery")
		return Disposition{Requeue: true, Delay: delay}
	}
}

func (p *Processor) finalize(ctx context.Context, id string, status hook.Status) {
	if err := p.store.Finalize(ctx, id, status); err != nil {
		tracing.SetSpanError(ctx, err)
		p.logger.WithContext(ctx).WithRecord(id).WithError(err).Error("finalize failed")
		return
	}
	metrics.RecordTerminal(string(status))
}
