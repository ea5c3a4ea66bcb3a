package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by NewQueue.
const (
	defaultInterval     = time.Second
	defaultFlushTimeout = 30 * time.Second
)

// Options configures a Queue.
type Options struct {
	// Store receives the flushed batches. Required.
	Store Store

	// CreateMissing creates series the store reports as unknown, then
	// retries the upload once.
	CreateMissing bool

	// MaxQueueSize wakes the background loop once this many points are
	// pending. Zero disables the threshold.
	MaxQueueSize int

	// Interval is the maximum time between background flushes.
	Interval time.Duration

	// FlushTimeout bounds background and shutdown flushes.
	FlushTimeout time.Duration

	// OnUpload is called exactly once per flush with the uploaded batches,
	// or with an empty slice when nothing was uploaded.
	OnUpload func(uploaded []SeriesBatch)

	Logger Logger
}

// FlushResult describes the outcome of one flush.
type FlushResult struct {
	// ID tags the flush in log output.
	ID string

	// Uploaded holds the batches that reached the store.
	Uploaded []SeriesBatch

	// Points is the number of points in Uploaded.
	Points int

	// Dropped counts points discarded because their series could not be created.
	Dropped int

	// Err is ErrNothingToUpload for an empty flush, wraps ErrUploadFailed
	// when the store call failed, and is nil otherwise.
	Err error
}

// Queue accumulates data points per series and uploads them in batches.
//
// Thread Safety: Enqueue and Flush are safe for concurrent use. Flushes are
// serialised so completion callbacks never overlap.
type Queue struct {
	store         Store
	createMissing bool
	maxQueueSize  int
	interval      time.Duration
	flushTimeout  time.Duration
	onUpload      func([]SeriesBatch)
	logger        Logger

	// Pending batch
	batchMu sync.Mutex
	pending map[string][]Datapoint
	order   []string
	count   int

	flushMu sync.Mutex

	// Background loop
	trigger   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewQueue creates a Queue. Call Start to enable interval and threshold
// flushes, and Close to stop them and flush what remains.
func NewQueue(opts Options) (*Queue, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	if opts.MaxQueueSize < 0 {
		return nil, fmt.Errorf("upload: max queue size cannot be negative: %d", opts.MaxQueueSize)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	flushTimeout := opts.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	var logger Logger = nopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Queue{
		store:         opts.Store,
		createMissing: opts.CreateMissing,
		maxQueueSize:  opts.MaxQueueSize,
		interval:      interval,
		flushTimeout:  flushTimeout,
		onUpload:      opts.OnUpload,
		logger:        logger,
		pending:       make(map[string][]Datapoint),
		trigger:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}, nil
}

// Start launches the background flush loop. Subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.flushLoop(ctx)
	})
}

// flushLoop flushes on every interval tick with pending points and whenever
// Enqueue signals that the threshold was reached.
func (q *Queue) flushLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if q.Pending() > 0 {
				q.backgroundFlush(ctx)
			}
		case <-q.trigger:
			q.backgroundFlush(ctx)
		case <-q.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) backgroundFlush(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.flushTimeout)
	defer cancel()
	q.Flush(flushCtx)
}

// Enqueue appends a point to the pending batch of externalID. It never
// blocks on I/O and never fails.
func (q *Queue) Enqueue(externalID string, timestamp int64, value any) {
	q.batchMu.Lock()
	points, seen := q.pending[externalID]
	if !seen {
		q.order = append(q.order, externalID)
	}
	q.pending[externalID] = append(points, Datapoint{Timestamp: timestamp, Value: value})
	q.count++
	full := q.maxQueueSize > 0 && q.count >= q.maxQueueSize
	q.batchMu.Unlock()

	if full {
		select {
		case q.trigger <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of points waiting for the next flush.
func (q *Queue) Pending() int {
	q.batchMu.Lock()
	defer q.batchMu.Unlock()
	return q.count
}

// drain swaps the pending batch out under the lock.
func (q *Queue) drain() []SeriesBatch {
	q.batchMu.Lock()
	defer q.batchMu.Unlock()

	if q.count == 0 {
		return nil
	}
	batches := make([]SeriesBatch, 0, len(q.order))
	for _, id := range q.order {
		batches = append(batches, SeriesBatch{ExternalID: id, Datapoints: q.pending[id]})
	}
	q.pending = make(map[string][]Datapoint, len(q.order))
	q.order = nil
	q.count = 0
	return batches
}

// Flush drains every pending point and uploads it. The completion callback
// runs exactly once before Flush returns, including for an empty flush.
func (q *Queue) Flush(ctx context.Context) FlushResult {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	res := FlushResult{ID: uuid.NewString()}

	batches := q.drain()
	if len(batches) == 0 {
		res.Err = ErrNothingToUpload
		q.complete(res.ID, nil)
		return res
	}

	start := time.Now()
	uploaded, dropped, err := q.upload(ctx, res.ID, batches)
	res.Dropped = dropped
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
		q.logger.Error("upload failed",
			"flush_id", res.ID,
			"series", len(batches),
			"points", CountPoints(batches),
			"error", err,
		)
		q.complete(res.ID, nil)
		return res
	}

	res.Uploaded = uploaded
	res.Points = CountPoints(uploaded)
	q.logger.Debug("uploaded datapoints",
		"flush_id", res.ID,
		"series", len(uploaded),
		"points", res.Points,
		"duration", time.Since(start),
	)
	q.complete(res.ID, uploaded)
	return res
}

// upload writes batches, handling series the store does not know yet.
// It returns the batches that were written and the number of dropped points.
func (q *Queue) upload(ctx context.Context, flushID string, batches []SeriesBatch) ([]SeriesBatch, int, error) {
	err := q.store.UploadDatapoints(ctx, batches)
	if err == nil {
		return batches, 0, nil
	}

	var missing *MissingSeriesError
	if !errors.As(err, &missing) || len(missing.ExternalIDs) == 0 {
		return nil, 0, err
	}

	unknown := make(map[string]bool, len(missing.ExternalIDs))
	for _, id := range missing.ExternalIDs {
		unknown[id] = true
	}

	if q.createMissing {
		specs := make([]SeriesSpec, 0, len(unknown))
		for _, b := range batches {
			if unknown[b.ExternalID] {
				specs = append(specs, newSeriesSpec(b))
			}
		}
		if err := q.store.CreateTimeSeries(ctx, specs); err != nil {
			q.logger.Error("creating missing time series failed, dropping their points",
				"flush_id", flushID,
				"series", len(specs),
				"error", err,
			)
		} else {
			q.logger.Info("created missing time series", "flush_id", flushID, "series", len(specs))
			unknown = nil
		}
	}

	retry := batches
	dropped := 0
	if len(unknown) > 0 {
		retry = make([]SeriesBatch, 0, len(batches))
		for _, b := range batches {
			if unknown[b.ExternalID] {
				dropped += len(b.Datapoints)
				continue
			}
			retry = append(retry, b)
		}
		q.logger.Warn("dropping points for missing time series",
			"flush_id", flushID,
			"series", len(batches)-len(retry),
			"points", dropped,
		)
		if len(retry) == 0 {
			return nil, dropped, err
		}
	}

	if err := q.store.UploadDatapoints(ctx, retry); err != nil {
		return nil, dropped, err
	}
	return retry, dropped, nil
}

// newSeriesSpec infers the series type from its first value.
func newSeriesSpec(b SeriesBatch) SeriesSpec {
	spec := SeriesSpec{ExternalID: b.ExternalID}
	if len(b.Datapoints) > 0 {
		_, spec.IsString = b.Datapoints[0].Value.(string)
	}
	return spec
}

// complete invokes the completion callback, containing any panic.
func (q *Queue) complete(flushID string, uploaded []SeriesBatch) {
	if q.onUpload == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("upload callback panicked", "flush_id", flushID, "panic", r)
		}
	}()
	q.onUpload(uploaded)
}

// Close stops the background loop and flushes any remaining points.
// It is safe to call more than once.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		q.wg.Wait()

		if q.Pending() == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), q.flushTimeout)
		defer cancel()
		if res := q.Flush(ctx); res.Err != nil {
			err = res.Err
		}
	})
	return err
}
