package extractor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/metrics"
	"github.com/nerrad567/mqtt-extractor/internal/upload"
)

const defaultFlushTimeout = 30 * time.Second

// Logger is the logging interface used by the extractor.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures an Extractor.
type Options struct {
	// Table resolves topics to parsers. Required.
	Table *Table

	// Store receives uploaded data points. Required.
	Store upload.Store

	// Metrics receives counters and gauges. Default: a fresh, unregistered set.
	Metrics *metrics.Metrics

	// Prefix is prepended to every series id before upload.
	Prefix string

	// CreateMissing creates unknown time series on upload.
	CreateMissing bool

	// MaxQueueSize wakes the background upload once this many points are pending.
	MaxQueueSize int

	// Interval is the maximum time between background uploads.
	Interval time.Duration

	// FlushTimeout bounds each upload. Default: 30 seconds.
	FlushTimeout time.Duration

	// Status sends heartbeats after successful uploads. Optional.
	Status *StatusReporter

	Logger Logger
}

// Extractor handles MQTT messages and owns the upload queue.
type Extractor struct {
	table        *Table
	queue        *upload.Queue
	metrics      *metrics.Metrics
	prefix       string
	flushTimeout time.Duration
	status       *StatusReporter
	logger       Logger

	// watermark is written only from HandleMessage.
	watermark atomic.Int64

	// storeStamp is written only from the serialised completion callback.
	storeStamp atomic.Int64
}

// New creates an Extractor and its upload queue. Call Start to enable
// background uploads and Close to flush and release the queue.
func New(opts Options) (*Extractor, error) {
	if opts.Table == nil {
		return nil, ErrNoTable
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	var logger Logger = nopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	flushTimeout := opts.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}

	e := &Extractor{
		table:        opts.Table,
		metrics:      m,
		prefix:       opts.Prefix,
		flushTimeout: flushTimeout,
		status:       opts.Status,
		logger:       logger,
	}

	q, err := upload.NewQueue(upload.Options{
		Store:         opts.Store,
		CreateMissing: opts.CreateMissing,
		MaxQueueSize:  opts.MaxQueueSize,
		Interval:      opts.Interval,
		FlushTimeout:  flushTimeout,
		OnUpload:      e.handleUpload,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("extractor: creating upload queue: %w", err)
	}
	e.queue = q

	return e, nil
}

// Start launches the upload queue's background loop.
func (e *Extractor) Start(ctx context.Context) {
	e.queue.Start(ctx)
}

// Close stops background uploads and flushes any pending points.
func (e *Extractor) Close() error {
	return e.queue.Close()
}

// HandleMessage processes one MQTT message. It matches mqtt.MessageHandler.
//
// Messages on topics without a parser are skipped and return nil. A parse
// error is returned for the caller to log; the message still counts as
// received. Upload failures are reported through the metrics, not here.
func (e *Extractor) HandleMessage(topic string, payload []byte) error {
	p, ok := e.table.Resolve(topic)
	if !ok {
		e.logger.Debug("unhandled topic", "topic", topic)
		return nil
	}

	e.logger.Debug("message received", "topic", topic, "bytes", len(payload))

	defer func() {
		e.metrics.Messages.Inc()
		e.metrics.MessageTimeStamp.Set(float64(e.watermark.Load()))
	}()

	triples, err := p.Parse(payload, topic)
	if err != nil {
		return fmt.Errorf("%w: topic %q: %w", ErrParse, topic, err)
	}

	for _, t := range triples {
		if !t.Valid() {
			continue
		}
		e.queue.Enqueue(e.prefix+t.SeriesID, *t.Timestamp, t.Value)
		if *t.Timestamp > e.watermark.Load() {
			e.watermark.Store(*t.Timestamp)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.flushTimeout)
	defer cancel()
	e.queue.Flush(ctx)

	return nil
}

// Flush uploads pending points immediately.
func (e *Extractor) Flush(ctx context.Context) upload.FlushResult {
	return e.queue.Flush(ctx)
}

// Watermark returns the largest timestamp enqueued so far.
func (e *Extractor) Watermark() int64 {
	return e.watermark.Load()
}

// StoreTimeStamp returns the largest timestamp uploaded so far.
func (e *Extractor) StoreTimeStamp() int64 {
	return e.storeStamp.Load()
}

// handleUpload is the queue's completion callback. An empty list means the
// flush uploaded nothing and is counted as a failed request.
func (e *Extractor) handleUpload(uploaded []upload.SeriesBatch) {
	e.metrics.Requests.Inc()

	points := upload.CountPoints(uploaded)
	e.metrics.DataPoints.Add(float64(points))

	if len(uploaded) == 0 {
		e.metrics.RequestsFailed.Inc()
		return
	}

	e.logger.Info("uploaded data points", "points", points, "series", len(uploaded))

	if latest, ok := upload.LatestTimestamp(uploaded); ok && latest > e.storeStamp.Load() {
		e.storeStamp.Store(latest)
		e.metrics.StoreTimeStamp.Set(float64(latest))
	}

	if e.status.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultReportTimeout)
		defer cancel()
		e.status.Report(ctx, uploaded)
	}
}
