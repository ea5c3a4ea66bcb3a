package cdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-extractor/internal/jsoncodec"
	"github.com/nerrad567/mqtt-extractor/internal/upload"
)

// Request limits of the datapoints and time series endpoints.
const (
	maxSeriesPerRequest = 10000
	maxPointsPerRequest = 100000
	maxCreatePerRequest = 1000

	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	maxErrorBody          = 64 << 10
)

// Client talks to the CDF REST API.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	project    string
	apiKey     string
	token      string
	clientName string
	httpClient *http.Client

	concurrency     int
	seriesPerChunk  int
	pointsPerChunk  int
	createsPerChunk int
}

// New creates a client without contacting the API.
func New(cfg config.CDFConfig) (*Client, error) {
	if cfg.Project == "" || (cfg.APIKey == "" && cfg.Token == "") {
		return nil, ErrNotConfigured
	}

	timeout := cfg.GetTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		project:         cfg.Project,
		apiKey:          cfg.APIKey,
		token:           cfg.Token,
		clientName:      cfg.ClientName,
		httpClient:      &http.Client{Timeout: timeout},
		concurrency:     concurrency,
		seriesPerChunk:  maxSeriesPerRequest,
		pointsPerChunk:  maxPointsPerRequest,
		createsPerChunk: maxCreatePerRequest,
	}, nil
}

// Connect creates a client and verifies that the project is reachable with
// the configured credentials.
func Connect(ctx context.Context, cfg config.CDFConfig) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := c.HealthCheck(checkCtx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// HealthCheck lists a single time series to verify access to the project.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/timeseries?limit=1", nil)
}

type datapointsRequest struct {
	Items []datapointsItem `json:"items"`
}

type datapointsItem struct {
	ExternalID string      `json:"externalId"`
	Datapoints []datapoint `json:"datapoints"`
}

type datapoint struct {
	Timestamp int64 `json:"timestamp"`
	Value     any   `json:"value"`
}

// UploadDatapoints inserts all batches. Series reported missing by any
// chunk are collected into one *upload.MissingSeriesError.
func (c *Client) UploadDatapoints(ctx context.Context, batches []upload.SeriesBatch) error {
	chunks := chunkBatches(batches, c.seriesPerChunk, c.pointsPerChunk)

	var (
		mu      sync.Mutex
		missing = make(map[string]struct{})
	)

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for _, chunk := range chunks {
		g.Go(func() error {
			err := c.do(ctx, http.MethodPost, "/timeseries/data", datapointsRequest{Items: chunk})
			var missingErr *upload.MissingSeriesError
			if errors.As(err, &missingErr) {
				mu.Lock()
				for _, id := range missingErr.ExternalIDs {
					missing[id] = struct{}{}
				}
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(missing) > 0 {
		ids := make([]string, 0, len(missing))
		for id := range missing {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return &upload.MissingSeriesError{ExternalIDs: ids}
	}
	return nil
}

// chunkBatches splits batches into request bodies within the series and
// point limits. A series larger than maxPoints spans several chunks.
func chunkBatches(batches []upload.SeriesBatch, maxSeries, maxPoints int) [][]datapointsItem {
	var (
		chunks [][]datapointsItem
		cur    []datapointsItem
		points int
	)
	emit := func() {
		if len(cur) > 0 {
			chunks = append(chunks, cur)
		}
		cur = nil
		points = 0
	}

	for _, b := range batches {
		remaining := b.Datapoints
		for len(remaining) > 0 {
			if len(cur) == maxSeries || points == maxPoints {
				emit()
			}
			n := min(len(remaining), maxPoints-points)
			dps := make([]datapoint, n)
			for i, dp := range remaining[:n] {
				dps[i] = datapoint{Timestamp: dp.Timestamp, Value: dp.Value}
			}
			cur = append(cur, datapointsItem{ExternalID: b.ExternalID, Datapoints: dps})
			points += n
			remaining = remaining[n:]
		}
	}
	emit()
	return chunks
}

type timeSeriesRequest struct {
	Items []timeSeriesItem `json:"items"`
}

type timeSeriesItem struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	IsString   bool   `json:"isString"`
}

// CreateTimeSeries creates the given series. Series that already exist are
// not an error.
func (c *Client) CreateTimeSeries(ctx context.Context, series []upload.SeriesSpec) error {
	for start := 0; start < len(series); start += c.createsPerChunk {
		end := min(start+c.createsPerChunk, len(series))
		items := make([]timeSeriesItem, 0, end-start)
		for _, s := range series[start:end] {
			items = append(items, timeSeriesItem{ExternalID: s.ExternalID, Name: s.ExternalID, IsString: s.IsString})
		}

		if err := c.createChunk(ctx, items); err != nil {
			return err
		}
	}
	return nil
}

// createChunk creates one request's worth of series. The API rejects the
// whole request when any series exists, so the series it names as duplicated
// are removed and the rest are sent once more.
func (c *Client) createChunk(ctx context.Context, items []timeSeriesItem) error {
	err := c.do(ctx, http.MethodPost, "/timeseries", timeSeriesRequest{Items: items})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		return err
	}
	if len(apiErr.Duplicated) == 0 {
		return nil
	}

	existing := make(map[string]bool, len(apiErr.Duplicated))
	for _, id := range apiErr.Duplicated {
		existing[id] = true
	}
	remaining := make([]timeSeriesItem, 0, len(items))
	for _, item := range items {
		if !existing[item.ExternalID] {
			remaining = append(remaining, item)
		}
	}
	if len(remaining) == 0 {
		return nil
	}

	err = c.do(ctx, http.MethodPost, "/timeseries", timeSeriesRequest{Items: remaining})
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return nil
	}
	return err
}

type runsRequest struct {
	Items []runItem `json:"items"`
}

type runItem struct {
	ExternalID string `json:"extpipeExternalId"`
	Status     string `json:"status"`
}

// ReportRun records an extraction pipeline run.
func (c *Client) ReportRun(ctx context.Context, pipeline, status string) error {
	return c.do(ctx, http.MethodPost, "/extpipes/runs", runsRequest{
		Items: []runItem{{ExternalID: pipeline, Status: status}},
	})
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Missing []struct {
			ExternalID string `json:"externalId"`
		} `json:"missing"`

		Duplicated []struct {
			ExternalID string `json:"externalId"`
		} `json:"duplicated"`
	} `json:"error"`
}

// do sends one request relative to the project path and decodes API errors.
func (c *Client) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := jsoncodec.Marshal(body)
		if err != nil {
			return fmt.Errorf("cdf: encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.baseURL + "/api/v1/projects/" + url.PathEscape(c.project) + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.Header.Set("api-key", c.apiKey)
	}
	if c.clientName != "" {
		req.Header.Set("x-cdp-app", c.clientName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(raw)),
		RequestID:  resp.Header.Get("x-request-id"),
	}

	var parsed errorResponse
	if jsoncodec.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		if resp.StatusCode == http.StatusBadRequest && len(parsed.Error.Missing) > 0 {
			ids := make([]string, 0, len(parsed.Error.Missing))
			for _, m := range parsed.Error.Missing {
				ids = append(ids, m.ExternalID)
			}
			return &upload.MissingSeriesError{ExternalIDs: ids}
		}
		for _, d := range parsed.Error.Duplicated {
			apiErr.Duplicated = append(apiErr.Duplicated, d.ExternalID)
		}
	}
	return apiErr
}
