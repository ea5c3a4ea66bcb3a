// Package cdf provides a REST client for a CDF-style time-series API.
//
// It implements the upload.Store interface (datapoint insertion and time
// series creation) and reports extraction pipeline runs.
//
// # Usage
//
//	client, err := cdf.Connect(ctx, cfg.Store.CDF)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// # Requests
//
// Datapoint uploads are split into chunks of at most 10,000 series and
// 100,000 points. Chunks are sent concurrently, bounded by max_concurrency.
// A 400 response listing missing identifiers is reported as
// *upload.MissingSeriesError after all chunks have finished.
//
// Authentication uses a bearer token when one is configured and an api-key
// header otherwise.
package cdf
