package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"presshook/internal/hook"
	"presshook/internal/logging"
	"presshook/internal/metrics"
	"presshook/internal/tracing"
)

var (
	// ErrUnknownAction: the trigger carried an action this deployment does
	// not recognize. A configuration bug, not a retryable condition.
	ErrUnknownAction = errors.New("unknown trigger action")
	// ErrMissingPath: the trigger carried no content path.
	ErrMissingPath = errors.New("trigger event has no path")
	// ErrMisconfigured: no revalidation target or secret is configured.
	ErrMisconfigured = errors.New("revalidation target not configured")
)

// RecordStore is the slice of the delivery store the coordinator needs.
type RecordStore interface {
	Create(ctx context.Context, rec *hook.Record) error
	Finalize(ctx context.Context, id string, status hook.Status) error
}

// Publisher enqueues task bodies; *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Coordinator is the entry point for content-lifecycle trigger events. It
// persists a pending record and hands the job to the queue; the HTTP
// attempt itself happens on the worker, never inside the triggering
// request. Delivery failure can therefore never reach back into the
// content transaction that produced the event.
type Coordinator struct {
	store     RecordStore
	pub       Publisher
	topic     string
	targetURL string
	logger    *logging.Logger
}

func NewCoordinator(store RecordStore, pub Publisher, topic, targetURL string, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		pub:       pub,
		topic:     topic,
		targetURL: targetURL,
		logger:    logger,
	}
}

// Dispatch validates the trigger, creates the delivery record and enqueues
// the first attempt. Returns the created record.
func (c *Coordinator) Dispatch(ctx context.Context, ev hook.Event) (*hook.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.trigger",
		attribute.String("action", ev.Action),
		attribute.String("path", ev.Path),
	)
	defer span.End()

	action, err := hook.ParseAction(ev.Action)
	if err != nil {
		c.logger.WithContext(ctx).WithPath(ev.Path).WithError(err).Error("trigger rejected")
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}
	if ev.Path == "" {
		c.logger.WithContext(ctx).WithError(ErrMissingPath).Error("trigger rejected")
		tracing.SetSpanError(ctx, ErrMissingPath)
		return nil, ErrMissingPath
	}
	if c.targetURL == "" {
		c.logger.WithContext(ctx).WithError(ErrMisconfigured).Error("trigger rejected")
		tracing.SetSpanError(ctx, ErrMisconfigured)
		return nil, ErrMisconfigured
	}

	rec := &hook.Record{
		ID:        uuid.NewString(),
		TargetURL: c.targetURL,
		Payload:   hook.Payload{Slug: ev.Path, Action: string(action)},
	}
	if err := c.store.Create(ctx, rec); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("record_id", rec.ID))

	if err := c.publish(ctx, rec, 0); err != nil {
		// The record exists but no attempt will ever run for it; close it
		// out so it does not sit pending forever.
		if finErr := c.store.Finalize(ctx, rec.ID, hook.StatusFailed); finErr != nil {
			c.logger.WithContext(ctx).WithRecord(rec.ID).WithError(finErr).Error("finalize after publish failure")
		}
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	metrics.RecordEvent(string(action))
	c.logger.WithContext(ctx).WithRecord(rec.ID).WithPath(ev.Path).Info("delivery enqueued")
	return rec, nil
}

// Replay re-enqueues an already-claimed record. The caller must have moved
// the record back to pending via the store's conditional transition; the
// new cycle starts at the record's lifetime attempt count so the attempt
// counter continues rather than resetting.
func (c *Coordinator) Replay(ctx context.Context, rec *hook.Record) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch.replay",
		attribute.String("record_id", rec.ID),
		attribute.Int("attempt", rec.Attempt),
	)
	defer span.End()

	if err := c.publish(ctx, rec, rec.Attempt); err != nil {
		if finErr := c.store.Finalize(ctx, rec.ID, hook.StatusFailed); finErr != nil {
			c.logger.WithContext(ctx).WithRecord(rec.ID).WithError(finErr).Error("finalize after publish failure")
		}
		tracing.SetSpanError(ctx, err)
		return err
	}

	metrics.ReplaysTotal.Inc()
	c.logger.WithContext(ctx).WithRecord(rec.ID).Info("replay enqueued")
	return nil
}

func (c *Coordinator) publish(ctx context.Context, rec *hook.Record, cycleStart int) error {
	task := Task{
		RecordID:     rec.ID,
		TargetURL:    rec.TargetURL,
		Payload:      rec.Payload,
		CycleStart:   cycleStart,
		EnqueuedAt:   time.Now().UTC().Format(time.RFC3339),
		TraceHeaders: tracing.InjectTaskHeaders(ctx),
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := c.pub.Publish(c.topic, body); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}
