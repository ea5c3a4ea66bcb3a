package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-extractor/internal/upload"
)

// fakeInflux answers /ping and records /api/v2/write bodies.
type fakeInflux struct {
	mu       sync.Mutex
	writes   []string
	queries  []string
	writeErr bool
	server   *httptest.Server
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.writes = append(f.writes, string(body))
			f.queries = append(f.queries, r.URL.RawQuery)
			fail := f.writeErr
			f.mu.Unlock()
			if fail {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":"invalid","message":"field type conflict"}`))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		URL:    f.server.URL,
		Token:  "test-token",
		Org:    "extractor",
		Bucket: "telemetry",
	}
}

func (f *fakeInflux) lastWrite() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return "", ""
	}
	return f.writes[len(f.writes)-1], f.queries[len(f.queries)-1]
}

func TestConnect_NotConfigured(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{URL: "http://localhost:8086"})
	if !errors.Is(err, influxdb.ErrNotConfigured) {
		t.Errorf("Connect() error = %v, want ErrNotConfigured", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{URL: "http://127.0.0.1:59999", Bucket: "b"})
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndHealthCheck(t *testing.T) {
	f := newFakeInflux(t)

	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestUploadDatapoints(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	batches := []upload.SeriesBatch{
		{ExternalID: "temp", Datapoints: []upload.Datapoint{{Timestamp: 1001, Value: 21.5}}},
		{ExternalID: "door", Datapoints: []upload.Datapoint{{Timestamp: 1002, Value: "open"}}},
	}
	if err := client.UploadDatapoints(context.Background(), batches); err != nil {
		t.Fatalf("UploadDatapoints() error = %v", err)
	}

	body, query := f.lastWrite()
	for _, want := range []string{
		"datapoints,external_id=temp value=21.5 1001",
		`datapoints,external_id=door string_value="open" 1002`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("write body %q does not contain %q", body, want)
		}
	}
	for _, want := range []string{"bucket=telemetry", "org=extractor", "precision=ms"} {
		if !strings.Contains(query, want) {
			t.Errorf("write query %q does not contain %q", query, want)
		}
	}
}

func TestUploadDatapoints_Rejected(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	f.mu.Lock()
	f.writeErr = true
	f.mu.Unlock()

	err = client.UploadDatapoints(context.Background(), []upload.SeriesBatch{
		{ExternalID: "temp", Datapoints: []upload.Datapoint{{Timestamp: 1, Value: 1.0}}},
	})
	if !errors.Is(err, influxdb.ErrWriteFailed) {
		t.Errorf("UploadDatapoints() error = %v, want ErrWriteFailed", err)
	}
}

func TestCreateTimeSeriesIsNoop(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.CreateTimeSeries(context.Background(), []upload.SeriesSpec{{ExternalID: "x"}}); err != nil {
		t.Errorf("CreateTimeSeries() error = %v", err)
	}
	if body, _ := f.lastWrite(); body != "" {
		t.Errorf("CreateTimeSeries() wrote %q", body)
	}
}

func TestReportRun(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.ReportRun(context.Background(), "pipeline-1", "success"); err != nil {
		t.Fatalf("ReportRun() error = %v", err)
	}
	body, _ := f.lastWrite()
	if !strings.HasPrefix(body, `extraction_pipeline_runs,pipeline=pipeline-1 status="success"`) {
		t.Errorf("run body = %q", body)
	}
}

func TestClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
	if err := client.UploadDatapoints(context.Background(), nil); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("UploadDatapoints() after Close error = %v, want ErrNotConnected", err)
	}
}

// TestIntegration_LocalInfluxDB writes to a real server when one is running.
func TestIntegration_LocalInfluxDB(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run against a local InfluxDB")
	}
	cfg := config.InfluxDBConfig{
		URL:    "http://127.0.0.1:8086",
		Token:  os.Getenv("MQTT_EXTRACTOR_INFLUXDB_TOKEN"),
		Org:    "extractor",
		Bucket: "telemetry",
	}
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	defer client.Close()

	err = client.UploadDatapoints(context.Background(), []upload.SeriesBatch{
		{ExternalID: "integration-test", Datapoints: []upload.Datapoint{{Timestamp: time.Now().UnixMilli(), Value: 42.0}}},
	})
	if err != nil {
		t.Errorf("UploadDatapoints() error = %v", err)
	}
}
