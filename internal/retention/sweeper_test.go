package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"presshook/internal/logging"
)

type fakeDeliveryPruner struct {
	cutoff time.Time
	n      int64
	err    error
	calls  int
}

func (f *fakeDeliveryPruner) DeleteSucceededBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.n, f.err
}

type fakeAuditPruner struct {
	cutoff time.Time
	n      int64
	err    error
	calls  int
}

func (f *fakeAuditPruner) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.n, f.err
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRunUsesConfiguredWindows(t *testing.T) {
	dp := &fakeDeliveryPruner{n: 3}
	ap := &fakeAuditPruner{n: 7}
	s := NewSweeper(dp, ap, 720*time.Hour, 2160*time.Hour, logging.NewWithWriter("test", discard{}))

	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Run(context.Background())

	if dp.calls != 1 || ap.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", dp.calls, ap.calls)
	}
	if want := fixed.Add(-720 * time.Hour); !dp.cutoff.Equal(want) {
		t.Errorf("delivery cutoff = %v, want %v", dp.cutoff, want)
	}
	if want := fixed.Add(-2160 * time.Hour); !ap.cutoff.Equal(want) {
		t.Errorf("audit cutoff = %v, want %v", ap.cutoff, want)
	}
}

func TestRunContinuesAfterDeliveryError(t *testing.T) {
	dp := &fakeDeliveryPruner{err: errors.New("db down")}
	ap := &fakeAuditPruner{}
	s := NewSweeper(dp, ap, time.Hour, time.Hour, logging.NewWithWriter("test", discard{}))

	s.Run(context.Background())

	if ap.calls != 1 {
		t.Error("audit sweep must still run when the delivery sweep fails")
	}
}
