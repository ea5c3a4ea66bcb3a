package upload

import "context"

// Datapoint is a single timestamped value. Timestamp is milliseconds since
// the Unix epoch; Value is a float64 or a string.
type Datapoint struct {
	Timestamp int64
	Value     any
}

// SeriesBatch groups the points of one series in enqueue order.
type SeriesBatch struct {
	ExternalID string
	Datapoints []Datapoint
}

// SeriesSpec describes a time series to create.
type SeriesSpec struct {
	ExternalID string
	IsString   bool
}

// Store is the outbound time-series store.
type Store interface {
	// UploadDatapoints writes all batches. A *MissingSeriesError reports
	// series that must exist before the upload can succeed.
	UploadDatapoints(ctx context.Context, batches []SeriesBatch) error

	// CreateTimeSeries creates the given series.
	CreateTimeSeries(ctx context.Context, series []SeriesSpec) error
}

// Logger is the logging interface used by the queue.
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

// CountPoints returns the number of data points across batches.
func CountPoints(batches []SeriesBatch) int {
	n := 0
	for _, b := range batches {
		n += len(b.Datapoints)
	}
	return n
}

// LatestTimestamp returns the largest timestamp across batches, or false
// when there are no points.
func LatestTimestamp(batches []SeriesBatch) (int64, bool) {
	var latest int64
	found := false
	for _, b := range batches {
		for _, dp := range b.Datapoints {
			if !found || dp.Timestamp > latest {
				latest = dp.Timestamp
				found = true
			}
		}
	}
	return latest, found
}
