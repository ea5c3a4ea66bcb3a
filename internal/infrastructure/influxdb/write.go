package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mqtt-extractor/internal/upload"
)

// Measurement and field names written by the store.
const (
	measurementDatapoints   = "datapoints"
	measurementPipelineRuns = "extraction_pipeline_runs"

	tagExternalID = "external_id"
	tagPipeline   = "pipeline"

	fieldValue       = "value"
	fieldStringValue = "string_value"
	fieldStatus      = "status"
)

// UploadDatapoints writes every point of every batch in one request.
func (c *Client) UploadDatapoints(ctx context.Context, batches []upload.SeriesBatch) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	points := toPoints(batches)
	if len(points) == 0 {
		return nil
	}
	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// CreateTimeSeries is a no-op: InfluxDB creates series on first write.
func (c *Client) CreateTimeSeries(context.Context, []upload.SeriesSpec) error {
	return nil
}

// ReportRun writes a pipeline heartbeat.
func (c *Client) ReportRun(ctx context.Context, pipeline, status string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := write.NewPoint(
		measurementPipelineRuns,
		map[string]string{tagPipeline: pipeline},
		map[string]interface{}{fieldStatus: status},
		time.Now(),
	)
	if err := c.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// toPoints converts batches into line protocol points. String values go
// to a separate field from numeric ones.
func toPoints(batches []upload.SeriesBatch) []*write.Point {
	points := make([]*write.Point, 0, upload.CountPoints(batches))
	for _, b := range batches {
		tags := map[string]string{tagExternalID: b.ExternalID}
		for _, dp := range b.Datapoints {
			field := fieldValue
			if _, ok := dp.Value.(string); ok {
				field = fieldStringValue
			}
			points = append(points, write.NewPoint(
				measurementDatapoints,
				tags,
				map[string]interface{}{field: dp.Value},
				time.UnixMilli(dp.Timestamp),
			))
		}
	}
	return points
}
