package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"presshook/internal/hook"
	"presshook/internal/logging"
	"presshook/internal/store"
)

// fakeStore implements RecordStore and AttemptStore in memory with the
// same conditional-transition semantics as the real store.
type fakeStore struct {
	records   map[string]*hook.Record
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*hook.Record)}
}

func (f *fakeStore) Create(_ context.Context, rec *hook.Record) error {
	if f.createErr != nil {
		return f.createErr
	}
	rec.Status = hook.StatusPending
	rec.Attempt = 0
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*hook.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) RecordAttempt(_ context.Context, id string, responseStatus *int, lastError string) (int, error) {
	rec, ok := f.records[id]
	if !ok || rec.Status != hook.StatusPending {
		return 0, store.ErrNotPending
	}
	rec.Attempt++
	rec.ResponseStatus = responseStatus
	rec.LastError = lastError
	return rec.Attempt, nil
}

func (f *fakeStore) Finalize(_ context.Context, id string, status hook.Status) error {
	rec, ok := f.records[id]
	if !ok || rec.Status != hook.StatusPending {
		return store.ErrNotPending
	}
	rec.Status = status
	return nil
}

// claimRetry mirrors the real store's failed->pending transition for tests.
func (f *fakeStore) claimRetry(id string) (*hook.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rec.Status != hook.StatusFailed {
		return nil, store.ErrNotRetryable
	}
	rec.Status = hook.StatusPending
	cp := *rec
	return &cp, nil
}

type fakePublisher struct {
	topics []string
	bodies [][]byte
	err    error
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.bodies = append(f.bodies, body)
	return nil
}

type fakeDeliverer struct {
	outcomes []hook.Outcome
	calls    int
}

func (f *fakeDeliverer) Deliver(context.Context, string, hook.Payload) hook.Outcome {
	out := f.outcomes[f.calls]
	f.calls++
	return out
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter("test", discard{})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testPolicy() hook.Policy {
	return hook.Policy{MaxAttempts: 5, BaseDelay: 1, Multiplier: 2, MaxDelay: 10, JitterPercent: 0}
}

// runJob drives the processor through a full dispatch cycle the way the
// queue would: requeue dispositions feed the task straight back in.
func runJob(t *testing.T, p *Processor, task Task) int {
	t.Helper()
	hops := 0
	for {
		hops++
		if hops > 20 {
			t.Fatal("job did not terminate")
		}
		d := p.Process(context.Background(), task)
		if !d.Requeue {
			return hops
		}
	}
}

func TestDispatchCreatesRecordAndPublishes(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	c := NewCoordinator(st, pub, "revalidations", "http://frontend/api/revalidate", testLogger())

	rec, err := c.Dispatch(context.Background(), hook.Event{Action: "publish", Path: "/blog/my-post"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rec.Status != hook.StatusPending || rec.Attempt != 0 {
		t.Errorf("record = %+v, want pending/attempt 0", rec)
	}
	if rec.Payload.Slug != "/blog/my-post" || rec.Payload.Action != "publish" {
		t.Errorf("payload = %+v", rec.Payload)
	}

	if len(pub.bodies) != 1 || pub.topics[0] != "revalidations" {
		t.Fatalf("publish calls = %d topics = %v", len(pub.bodies), pub.topics)
	}
	var task Task
	if err := json.Unmarshal(pub.bodies[0], &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.RecordID != rec.ID || task.CycleStart != 0 {
		t.Errorf("task = %+v", task)
	}
	if task.TargetURL != "http://frontend/api/revalidate" {
		t.Errorf("task target = %q", task.TargetURL)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	c := NewCoordinator(st, pub, "revalidations", "http://frontend/api/revalidate", testLogger())

	_, err := c.Dispatch(context.Background(), hook.Event{Action: "archive", Path: "/p"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
	if len(st.records) != 0 {
		t.Error("no record must be created for an unknown action")
	}
	if len(pub.bodies) != 0 {
		t.Error("nothing must be published for an unknown action")
	}
}

func TestDispatchMissingPath(t *testing.T) {
	c := NewCoordinator(newFakeStore(), &fakePublisher{}, "revalidations", "http://t", testLogger())
	_, err := c.Dispatch(context.Background(), hook.Event{Action: "publish"})
	if !errors.Is(err, ErrMissingPath) {
		t.Fatalf("err = %v, want ErrMissingPath", err)
	}
}

func TestDispatchMisconfiguredTarget(t *testing.T) {
	c := NewCoordinator(newFakeStore(), &fakePublisher{}, "revalidations", "", testLogger())
	_, err := c.Dispatch(context.Background(), hook.Event{Action: "publish", Path: "/p"})
	if !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("err = %v, want ErrMisconfigured", err)
	}
}

func TestDispatchPublishFailureClosesRecord(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{err: errors.New("nsqd unreachable")}
	c := NewCoordinator(st, pub, "revalidations", "http://t", testLogger())

	_, err := c.Dispatch(context.Background(), hook.Event{Action: "publish", Path: "/p"})
	if err == nil {
		t.Fatal("Dispatch should surface the publish error")
	}
	if len(st.records) != 1 {
		t.Fatalf("records = %d, want 1", len(st.records))
	}
	for _, rec := range st.records {
		if rec.Status != hook.StatusFailed {
			t.Errorf("orphaned record status = %q, want failed", rec.Status)
		}
	}
}

func TestProcessImmediateSuccess(t *testing.T) {
	// Scenario: target returns 200 on the first attempt.
	st := newFakeStore()
	rec := &hook.Record{ID: "rec-1", TargetURL: "http://t", Payload: hook.Payload{Slug: "/blog/my-post", Action: "publish"}}
	_ = st.Create(context.Background(), rec)

	d := &fakeDeliverer{outcomes: []hook.Outcome{{Class: hook.Success, StatusCode: 200}}}
	p := NewProcessor(st, d, testPolicy(), testLogger())

	disp := p.Process(context.Background(), Task{RecordID: "rec-1", TargetURL: "http://t", Payload: rec.Payload})
	if disp.Requeue {
		t.Fatal("success must not requeue")
	}

	got := st.records["rec-1"]
	if got.Status != hook.StatusSuccess || got.Attempt != 1 {
		t.Errorf("record = status %q attempt %d, want success/1", got.Status, got.Attempt)
	}
	if got.ResponseStatus == nil || *got.ResponseStatus != 200 {
		t.Errorf("response status = %v, want 200", got.ResponseStatus)
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	// Scenario: 503 on attempts 1-4, 200 on attempt 5.
	st := newFakeStore()
	rec := &hook.Record{ID: "rec-1", TargetURL: "http://t", Payload: hook.Payload{Slug: "/p", Action: "update"}}
	_ = st.Create(context.Background(), rec)

	d := &fakeDeliverer{outcomes: []hook.Outcome{
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Success, StatusCode: 200},
	}}
	p := NewProcessor(st, d, testPolicy(), testLogger())

	hops := runJob(t, p, Task{RecordID: "rec-1", TargetURL: "http://t", Payload: rec.Payload})
	if hops != 5 {
		t.Errorf("hops = %d, want 5", hops)
	}

	got := st.records["rec-1"]
	if got.Status != hook.StatusSuccess || got.Attempt != 5 {
		t.Errorf("record = status %q attempt %d, want success/5", got.Status, got.Attempt)
	}
}

func TestProcessPermanentFailureNoRetry(t *testing.T) {
	// Scenario: 404 on attempt 1; budget remains but no retry happens.
	st := newFakeStore()
	rec := &hook.Record{ID: "rec-1", TargetURL: "http://t", Payload: hook.Payload{Slug: "/p", Action: "publish"}}
	_ = st.Create(context.Background(), rec)

	d := &fakeDeliverer{outcomes: []hook.Outcome{{Class: hook.Permanent, StatusCode: 404}}}
	p := NewProcessor(st, d, testPolicy(), testLogger())

	disp := p.Process(context.Background(), Task{RecordID: "rec-1", TargetURL: "http://t", Payload: rec.Payload})
	if disp.Requeue {
		t.Fatal("permanent failure must not requeue")
	}

	got := st.records["rec-1"]
	if got.Status != hook.StatusFailed || got.Attempt != 1 {
		t.Errorf("record = status %q attempt %d, want failed/1", got.Status, got.Attempt)
	}
	if d.calls != 1 {
		t.Errorf("deliver calls = %d, want 1", d.calls)
	}
}

func TestProcessExhaustionThenManualReplay(t *testing.T) {
	// Scenario: 503 on all 5 attempts, then an operator replay that
	// succeeds on attempt 6.
	st := newFakeStore()
	rec := &hook.Record{ID: "rec-1", TargetURL: "http://t", Payload: hook.Payload{Slug: "/p", Action: "publish"}}
	_ = st.Create(context.Background(), rec)

	d := &fakeDeliverer{outcomes: []hook.Outcome{
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Retryable, StatusCode: 503},
		{Class: hook.Success, StatusCode: 200},
	}}
	p := NewProcessor(st, d, testPolicy(), testLogger())

	runJob(t, p, Task{RecordID: "rec-1", TargetURL: "http://t", Payload: rec.Payload})
	got := st.records["rec-1"]
	if got.Status != hook.StatusFailed || got.Attempt != 5 {
		t.Fatalf("after exhaustion: status %q attempt %d, want failed/5", got.Status, got.Attempt)
	}

	claimed, err := st.claimRetry("rec-1")
	if err != nil {
		t.Fatalf("claimRetry: %v", err)
	}
	if claimed.Status != hook.StatusPending {
		t.Fatalf("claimed status = %q, want pending", claimed.Status)
	}

	// Replay cycle starts where the lifetime counter left off.
	runJob(t, p, Task{RecordID: "rec-1", TargetURL: "http://t", Payload: rec.Payload, CycleStart: claimed.Attempt})
	got = st.records["rec-1"]
	if got.Status != hook.StatusSuccess || got.Attempt != 6 {
		t.Errorf("after replay: status %q attempt %d, want success/6", got.Status, got.Attempt)
	}
}

func TestProcessManualCycleGetsFullBudget(t *testing.T) {
	st := newFakeStore()
	rec := &hook.Record{ID: "rec-1", TargetURL: "http://t", Payload: hook.Payload{Slug: "/p", Action: "publish"}}
	_ = st.Create(context.Background(), rec)
	st.records["rec-1"].Attempt = 5
	st.records["rec-1"].Status = hook.StatusPending // claimed replay

	outcomes := make([]hook.Outcome, 5)
	for i := range outcomes {
		outcomes[i] = hook.Outcome{Class: hook.Retryable, StatusCode: 503}
	}
	d := &fakeDeliverer{outcomes: outcomes}
	p := NewProcessor(st, d, testPolicy(), testLogger())

	hops := runJob(t, p, Task{RecordID: "rec-1", TargetURL: "http://t", Payload: rec.Payload, CycleStart: 5})
	if hops != 5 {
		t.Errorf("manual cycle hops = %d, want full budget of 5", hops)
	}
	got := st.records["rec-1"]
	if got.Status != hook.StatusFailed || got.Attempt != 10 {
		t.Errorf("record = status %q attempt %d, want failed/10", got.Status, got.Attempt)
	}
}

func TestProcessSkipsTerminalRecord(t *testing.T) {
	st := newFakeStore()
	rec := &hook.Record{ID: "rec-1", TargetURL: "http://t", Payload: hook.Payload{Slug: "/p", Action: "publish"}}
	_ = st.Create(context.Background(), rec)
	st.records["rec-1"].Status = hook.StatusSuccess
	st.records["rec-1"].Attempt = 1

	d := &fakeDeliverer{outcomes: []hook.Outcome{{Class: hook.Success, StatusCode: 200}}}
	p := NewProcessor(st, d, testPolicy(), testLogger())

	disp := p.Process(context.Background(), Task{RecordID: "rec-1", TargetURL: "http://t", Payload: rec.Payload})
	if disp.Requeue {
		t.Fatal("terminal record must not requeue")
	}
	if d.calls != 0 {
		t.Errorf("no attempt may be issued for a successful record, got %d calls", d.calls)
	}
	if st.records["rec-1"].Attempt != 1 {
		t.Errorf("attempt changed on terminal record: %d", st.records["rec-1"].Attempt)
	}
}

func TestReplayPublishesContinuationTask(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	c := NewCoordinator(st, pub, "revalidations", "http://t", testLogger())

	rec := &hook.Record{
		ID:        "rec-1",
		TargetURL: "http://t",
		Payload:   hook.Payload{Slug: "/p", Action: "publish"},
		Status:    hook.StatusPending,
		Attempt:   5,
	}
	st.records["rec-1"] = rec

	if err := c.Replay(context.Background(), rec); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	var task Task
	if err := json.Unmarshal(pub.bodies[0], &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.CycleStart != 5 {
		t.Errorf("cycle_start = %d, want 5", task.CycleStart)
	}
	if task.Payload != rec.Payload {
		t.Errorf("payload = %+v, want original", task.Payload)
	}
}
