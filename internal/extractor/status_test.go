package extractor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-extractor/internal/upload"
)

// fakeRunReporter records heartbeats.
type fakeRunReporter struct {
	mu    sync.Mutex
	runs  []string
	err   error
	calls int
}

func (r *fakeRunReporter) ReportRun(_ context.Context, pipeline, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.runs = append(r.runs, pipeline+":"+status)
	return nil
}

func (r *fakeRunReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var someUpload = []upload.SeriesBatch{
	{ExternalID: "a", Datapoints: []upload.Datapoint{{Timestamp: 1, Value: 1.0}}},
}

func TestStatusReporter_RateLimited(t *testing.T) {
	clock := newFakeClock()
	runs := &fakeRunReporter{}
	s := NewStatusReporter(StatusReporterConfig{
		Pipeline: "pipe",
		Interval: time.Minute,
		Reporter: runs,
		Clock:    clock.Now,
	})
	ctx := context.Background()

	if !s.Report(ctx, someUpload) {
		t.Fatal("first Report() should emit")
	}
	clock.Advance(30 * time.Second)
	if s.Report(ctx, someUpload) {
		t.Error("Report() within the interval should not emit")
	}
	clock.Advance(30 * time.Second)
	if !s.Report(ctx, someUpload) {
		t.Error("Report() at the interval boundary should emit")
	}

	if runs.count() != 2 {
		t.Errorf("heartbeats = %d, want 2", runs.count())
	}
	if runs.runs[0] != "pipe:success" {
		t.Errorf("heartbeat = %q, want pipe:success", runs.runs[0])
	}
}

func TestStatusReporter_NeverOnEmptyUpload(t *testing.T) {
	runs := &fakeRunReporter{}
	s := NewStatusReporter(StatusReporterConfig{Pipeline: "pipe", Reporter: runs})

	if s.Report(context.Background(), nil) {
		t.Error("Report(nil) emitted")
	}
	if runs.calls != 0 {
		t.Errorf("ReportRun calls = %d, want 0", runs.calls)
	}
}

func TestStatusReporter_DisabledWithoutPipeline(t *testing.T) {
	runs := &fakeRunReporter{}
	s := NewStatusReporter(StatusReporterConfig{Reporter: runs})

	if s.Enabled() {
		t.Error("Enabled() = true without pipeline")
	}
	if s.Report(context.Background(), someUpload) {
		t.Error("Report() emitted without pipeline")
	}
	if runs.calls != 0 {
		t.Errorf("ReportRun calls = %d, want 0", runs.calls)
	}

	var nilReporter *StatusReporter
	if nilReporter.Enabled() {
		t.Error("nil reporter Enabled() = true")
	}
}

func TestStatusReporter_FailureDoesNotAdvanceWindow(t *testing.T) {
	clock := newFakeClock()
	runs := &fakeRunReporter{err: errors.New("unavailable")}
	s := NewStatusReporter(StatusReporterConfig{
		Pipeline: "pipe",
		Interval: time.Hour,
		Reporter: runs,
		Clock:    clock.Now,
	})

	if s.Report(context.Background(), someUpload) {
		t.Fatal("failed heartbeat reported as sent")
	}

	runs.mu.Lock()
	runs.err = nil
	runs.mu.Unlock()

	if !s.Report(context.Background(), someUpload) {
		t.Error("heartbeat after a failure should be retried immediately")
	}
	if runs.calls != 2 {
		t.Errorf("ReportRun calls = %d, want 2", runs.calls)
	}
}

func TestStatusReporter_ConcurrentReports(t *testing.T) {
	runs := &fakeRunReporter{}
	s := NewStatusReporter(StatusReporterConfig{
		Pipeline: "pipe",
		Interval: time.Hour,
		Reporter: runs,
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Report(context.Background(), someUpload)
		}()
	}
	wg.Wait()

	if runs.count() != 1 {
		t.Errorf("heartbeats = %d, want 1", runs.count())
	}
}
