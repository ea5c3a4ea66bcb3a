package extractor

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/metrics"
	"github.com/nerrad567/mqtt-extractor/internal/parser"
	"github.com/nerrad567/mqtt-extractor/internal/upload"
)

const examplePayload = `{"items":[{"externalId":"external-id","datapoints":[{"timestamp":1001,"value":1},{"timestamp":1002,"value":2}]}]}`

// fakeStore records uploaded batches.
type fakeStore struct {
	mu      sync.Mutex
	uploads [][]upload.SeriesBatch
	err     error
}

func (s *fakeStore) UploadDatapoints(_ context.Context, batches []upload.SeriesBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.uploads = append(s.uploads, batches)
	return nil
}

func (s *fakeStore) CreateTimeSeries(context.Context, []upload.SeriesSpec) error {
	return nil
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// points flattens every uploaded batch.
func (s *fakeStore) points() map[string][]upload.Datapoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]upload.Datapoint)
	for _, call := range s.uploads {
		for _, b := range call {
			out[b.ExternalID] = append(out[b.ExternalID], b.Datapoints...)
		}
	}
	return out
}

type fixture struct {
	ext     *Extractor
	store   *fakeStore
	metrics *metrics.Metrics
	runs    *fakeRunReporter
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	table, err := BuildTable([]config.SubscriptionConfig{
		{Topic: "cdf", Handler: parser.NameCDF, QoS: 1},
		{Topic: "flat", Handler: parser.NameTriples, QoS: 1},
	})
	if err != nil {
		t.Fatalf("BuildTable() error = %v", err)
	}

	f := &fixture{
		store:   &fakeStore{},
		metrics: metrics.New(),
		runs:    &fakeRunReporter{},
	}
	opts := Options{
		Table:    table,
		Store:    f.store,
		Metrics:  f.metrics,
		Interval: time.Hour,
		Status: NewStatusReporter(StatusReporterConfig{
			Pipeline: "pipe",
			Interval: time.Hour,
			Reporter: f.runs,
		}),
	}
	if mutate != nil {
		mutate(&opts)
	}

	f.ext, err = New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = f.ext.Close() })
	return f
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(Options{Store: &fakeStore{}}); !errors.Is(err, ErrNoTable) {
		t.Errorf("New() without table error = %v, want ErrNoTable", err)
	}

	table, _ := BuildTable(nil)
	if _, err := New(Options{Table: table}); !errors.Is(err, upload.ErrNoStore) {
		t.Errorf("New() without store error = %v, want upload.ErrNoStore", err)
	}
}

func TestHandleMessage_ExamplePayload(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.ext.HandleMessage("cdf", []byte(examplePayload)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	want := map[string][]upload.Datapoint{
		"external-id": {{Timestamp: 1001, Value: float64(1)}, {Timestamp: 1002, Value: float64(2)}},
	}
	if got := f.store.points(); !reflect.DeepEqual(got, want) {
		t.Errorf("uploaded = %+v, want %+v", got, want)
	}

	if f.ext.Watermark() != 1002 {
		t.Errorf("Watermark() = %d, want 1002", f.ext.Watermark())
	}
	if got := testutil.ToFloat64(f.metrics.Messages); got != 1 {
		t.Errorf("messages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.MessageTimeStamp); got != 1002 {
		t.Errorf("message_time_stamp = %v, want 1002", got)
	}
	if got := testutil.ToFloat64(f.metrics.Requests); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.DataPoints); got != 2 {
		t.Errorf("data_points = %v, want 2", got)
	}
	if got := testutil.ToFloat64(f.metrics.RequestsFailed); got != 0 {
		t.Errorf("requests_failed = %v, want 0", got)
	}
	if got := testutil.ToFloat64(f.metrics.StoreTimeStamp); got != 1002 {
		t.Errorf("store_time_stamp = %v, want 1002", got)
	}
	if f.runs.count() != 1 {
		t.Errorf("heartbeats = %d, want 1", f.runs.count())
	}
}

func TestHandleMessage_Prefix(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Prefix = "mqtt:" })

	if err := f.ext.HandleMessage("flat", []byte(`[["temp", 5, 20.5]]`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if _, ok := f.store.points()["mqtt:temp"]; !ok {
		t.Errorf("uploaded ids = %v, want mqtt:temp", f.store.points())
	}
}

func TestHandleMessage_NullsNeverEnqueued(t *testing.T) {
	f := newFixture(t, nil)

	payload := `[["no-ts", null, 1], ["no-value", 50, null], ["ok", 7, 3]]`
	if err := f.ext.HandleMessage("flat", []byte(payload)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	want := map[string][]upload.Datapoint{"ok": {{Timestamp: 7, Value: float64(3)}}}
	if got := f.store.points(); !reflect.DeepEqual(got, want) {
		t.Errorf("uploaded = %+v, want %+v", got, want)
	}
	// The skipped point with timestamp 50 must not move the watermark.
	if f.ext.Watermark() != 7 {
		t.Errorf("Watermark() = %d, want 7", f.ext.Watermark())
	}
}

func TestHandleMessage_WatermarkIsMax(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.ext.HandleMessage("flat", []byte(`[["a", 5, 1], ["a", 9, 1], ["b", 3, 1]]`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if f.ext.Watermark() != 9 {
		t.Errorf("Watermark() = %d, want 9", f.ext.Watermark())
	}

	if err := f.ext.HandleMessage("flat", []byte(`[["a", 4, 1]]`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if f.ext.Watermark() != 9 {
		t.Errorf("Watermark() after older message = %d, want 9", f.ext.Watermark())
	}

	if err := f.ext.HandleMessage("flat", []byte(`[]`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if f.ext.Watermark() != 9 {
		t.Errorf("Watermark() after empty message = %d, want 9", f.ext.Watermark())
	}
	if got := testutil.ToFloat64(f.metrics.MessageTimeStamp); got != 9 {
		t.Errorf("message_time_stamp = %v, want 9", got)
	}
	if got := testutil.ToFloat64(f.metrics.Messages); got != 3 {
		t.Errorf("messages = %v, want 3", got)
	}
}

func TestHandleMessage_UnknownTopic(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.ext.HandleMessage("unrelated/topic", []byte(examplePayload)); err != nil {
		t.Errorf("HandleMessage() error = %v, want nil", err)
	}

	if f.store.calls() != 0 {
		t.Errorf("store calls = %d, want 0", f.store.calls())
	}
	if f.ext.Watermark() != 0 {
		t.Errorf("Watermark() = %d, want 0", f.ext.Watermark())
	}
	if got := testutil.ToFloat64(f.metrics.Messages); got != 0 {
		t.Errorf("messages = %v, want 0", got)
	}
	if got := testutil.ToFloat64(f.metrics.Requests); got != 0 {
		t.Errorf("requests = %v, want 0", got)
	}
}

func TestHandleMessage_ParseError(t *testing.T) {
	f := newFixture(t, nil)

	err := f.ext.HandleMessage("cdf", []byte(`{not json`))
	if !errors.Is(err, ErrParse) || !errors.Is(err, parser.ErrDecode) {
		t.Errorf("HandleMessage() error = %v, want ErrParse wrapping parser.ErrDecode", err)
	}

	if f.store.calls() != 0 {
		t.Errorf("store calls = %d, want 0", f.store.calls())
	}
	if got := testutil.ToFloat64(f.metrics.Messages); got != 1 {
		t.Errorf("messages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.RequestsFailed); got != 0 {
		t.Errorf("requests_failed = %v, want 0", got)
	}
}

func TestFlush_EmptyCountsOneFailure(t *testing.T) {
	f := newFixture(t, nil)

	res := f.ext.Flush(context.Background())
	if !errors.Is(res.Err, upload.ErrNothingToUpload) {
		t.Errorf("Flush() error = %v, want ErrNothingToUpload", res.Err)
	}

	if got := testutil.ToFloat64(f.metrics.RequestsFailed); got != 1 {
		t.Errorf("requests_failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.DataPoints); got != 0 {
		t.Errorf("data_points = %v, want 0", got)
	}
	if got := testutil.ToFloat64(f.metrics.StoreTimeStamp); got != 0 {
		t.Errorf("store_time_stamp = %v, want 0", got)
	}
	if f.runs.calls != 0 {
		t.Errorf("heartbeat attempts = %d, want 0", f.runs.calls)
	}
	if f.store.calls() != 0 {
		t.Errorf("store calls = %d, want 0", f.store.calls())
	}
}

func TestHandleMessage_UploadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.setErr(errors.New("store unavailable"))

	if err := f.ext.HandleMessage("cdf", []byte(examplePayload)); err != nil {
		t.Errorf("HandleMessage() error = %v, want nil", err)
	}

	if got := testutil.ToFloat64(f.metrics.RequestsFailed); got != 1 {
		t.Errorf("requests_failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.DataPoints); got != 0 {
		t.Errorf("data_points = %v, want 0", got)
	}
	if f.runs.calls != 0 {
		t.Errorf("heartbeat attempts = %d, want 0", f.runs.calls)
	}
	// Points of a failed flush are not retried.
	f.store.setErr(nil)
	if res := f.ext.Flush(context.Background()); !errors.Is(res.Err, upload.ErrNothingToUpload) {
		t.Errorf("Flush() after failure error = %v, want ErrNothingToUpload", res.Err)
	}
}

func TestHandleMessage_HeartbeatRateLimited(t *testing.T) {
	clock := newFakeClock()
	runs := &fakeRunReporter{}
	f := newFixture(t, func(o *Options) {
		o.Status = NewStatusReporter(StatusReporterConfig{
			Pipeline: "pipe",
			Interval: time.Minute,
			Reporter: runs,
			Clock:    clock.Now,
		})
	})

	for i := range 5 {
		if err := f.ext.HandleMessage("cdf", []byte(examplePayload)); err != nil {
			t.Fatalf("HandleMessage(%d) error = %v", i, err)
		}
		clock.Advance(10 * time.Second)
	}
	if runs.count() != 1 {
		t.Errorf("heartbeats after 40s = %d, want 1", runs.count())
	}

	clock.Advance(20 * time.Second)
	if err := f.ext.HandleMessage("cdf", []byte(examplePayload)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if runs.count() != 2 {
		t.Errorf("heartbeats after 60s = %d, want 2", runs.count())
	}
}

func TestHandleMessage_NoHeartbeatWithoutPipeline(t *testing.T) {
	runs := &fakeRunReporter{}
	f := newFixture(t, func(o *Options) {
		o.Status = NewStatusReporter(StatusReporterConfig{Reporter: runs})
	})

	if err := f.ext.HandleMessage("cdf", []byte(examplePayload)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if runs.calls != 0 {
		t.Errorf("heartbeat attempts = %d, want 0", runs.calls)
	}
}

func TestHandleMessage_ConcurrentBackgroundFlush(t *testing.T) {
	f := newFixture(t, nil)

	const messages = 200
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				f.ext.Flush(context.Background())
			}
		}
	}()

	for i := range messages {
		payload := []byte(`[["a", ` + itoa(i+1) + `, 1], ["b", ` + itoa(i+1) + `, 2]]`)
		if err := f.ext.HandleMessage("flat", payload); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
	}
	close(done)
	wg.Wait()

	got := f.store.points()
	for _, id := range []string{"a", "b"} {
		if len(got[id]) != messages {
			t.Errorf("series %s uploaded %d points, want %d", id, len(got[id]), messages)
		}
		for i, dp := range got[id] {
			if dp.Timestamp != int64(i+1) {
				t.Errorf("series %s point %d timestamp = %d, want %d", id, i, dp.Timestamp, i+1)
				break
			}
		}
	}
	if got := testutil.ToFloat64(f.metrics.DataPoints); got != 2*messages {
		t.Errorf("data_points = %v, want %d", got, 2*messages)
	}
}

func TestClose_FlushesPending(t *testing.T) {
	f := newFixture(t, nil)

	// Points enqueued outside HandleMessage stay pending until Close.
	f.ext.queue.Enqueue("late", 42, 1.0)

	if err := f.ext.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := f.store.points()["late"]; !ok {
		t.Error("Close() did not flush pending points")
	}
	if f.ext.StoreTimeStamp() != 42 {
		t.Errorf("StoreTimeStamp() = %d, want 42", f.ext.StoreTimeStamp())
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
