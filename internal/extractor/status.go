package extractor

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-extractor/internal/upload"
)

// StatusSuccess is the run status sent as a heartbeat.
const StatusSuccess = "success"

const (
	defaultStatusInterval = 60 * time.Second
	defaultReportTimeout  = 10 * time.Second
)

// RunReporter records extraction pipeline runs. Implemented by the store
// clients.
type RunReporter interface {
	ReportRun(ctx context.Context, pipeline, status string) error
}

// StatusReporterConfig holds configuration for the status reporter.
type StatusReporterConfig struct {
	// Pipeline is the extraction pipeline external id. Empty disables reporting.
	Pipeline string

	// Interval is the minimum time between heartbeats.
	// Default: 60 seconds.
	Interval time.Duration

	// Reporter receives the heartbeat.
	Reporter RunReporter

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time

	Logger Logger
}

// StatusReporter emits at most one heartbeat per interval, and only after
// uploads that wrote data.
//
// Thread Safety: Report is safe for concurrent use.
type StatusReporter struct {
	pipeline string
	interval time.Duration
	reporter RunReporter
	clock    func() time.Time
	logger   Logger

	mu          sync.Mutex
	nextAllowed time.Time
}

// NewStatusReporter creates a status reporter.
func NewStatusReporter(cfg StatusReporterConfig) *StatusReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	var logger Logger = nopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	return &StatusReporter{
		pipeline: cfg.Pipeline,
		interval: interval,
		reporter: cfg.Reporter,
		clock:    clock,
		logger:   logger,
	}
}

// Enabled reports whether a pipeline and a reporter are configured.
func (s *StatusReporter) Enabled() bool {
	return s != nil && s.pipeline != "" && s.reporter != nil
}

// Report sends a heartbeat for a completed upload when the interval since
// the last heartbeat has passed. It returns true if a heartbeat was sent.
//
// A failed heartbeat is logged and does not start a new interval, so the
// next successful upload tries again.
func (s *StatusReporter) Report(ctx context.Context, uploaded []upload.SeriesBatch) bool {
	if len(uploaded) == 0 || !s.Enabled() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if now.Before(s.nextAllowed) {
		return false
	}

	if err := s.reporter.ReportRun(ctx, s.pipeline, StatusSuccess); err != nil {
		s.logger.Warn("status heartbeat failed",
			"pipeline", s.pipeline,
			"error", err,
		)
		return false
	}

	s.nextAllowed = now.Add(s.interval)
	s.logger.Debug("status heartbeat sent", "pipeline", s.pipeline, "next", s.nextAllowed)
	return true
}
