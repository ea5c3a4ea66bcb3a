// Package influxdb provides an InfluxDB v2 time-series store for the extractor.
//
// It wraps the official influxdb-client-go v2 library and implements the
// upload.Store interface, so it can replace the CDF REST store through
// store.type: influxdb.
//
// # Data layout
//
// Every extracted point becomes one row of the "datapoints" measurement,
// tagged with external_id. Numeric values are written to the "value" field
// and strings to "string_value", so a series changing type never causes a
// field type conflict. Series are implicit and CreateTimeSeries is a no-op.
//
// Pipeline heartbeats are written to the "extraction_pipeline_runs"
// measurement, tagged with pipeline.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.Store.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are blocking: the upload queue already batches points, so each
// UploadDatapoints call maps to one write request.
package influxdb
