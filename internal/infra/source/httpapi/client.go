package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/pipeline"
)

// Config holds the paginated REST source configuration.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
}

// Client pulls record pages from a REST endpoint that supports
// limit/offset pagination. Each page becomes one chunk.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a source client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Open returns an iterator over the dataset, page by page. Resumption
// skips whole pages: chunk N maps to offset N*pageSize.
func (c *Client) Open(ctx context.Context, q pipeline.QueryDescriptor) (pipeline.ChunkIterator, error) {
	if q.Dataset == "" {
		return nil, domain.Fatal(fmt.Errorf("query has no dataset"))
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = c.cfg.PageSize
	}
	return &iterator{
		client:   c,
		query:    q,
		pageSize: pageSize,
		seq:      q.ResumeAfter,
	}, nil
}

// EstimateSize asks the endpoint for a total row count. Failures are
// reported to the caller, which treats the estimate as optional.
func (c *Client) EstimateSize(ctx context.Context, q pipeline.QueryDescriptor) (int64, error) {
	var resp struct {
		Total int64 `json:"total"`
	}
	params := url.Values{"limit": {"0"}}
	if q.Filter != "" {
		params.Set("filter", q.Filter)
	}
	if err := c.get(ctx, q.Dataset, params, &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

type iterator struct {
	client   *Client
	query    pipeline.QueryDescriptor
	pageSize int
	seq      int64
	done     bool
}

// Next fetches the next page. A short or empty page marks exhaustion.
func (it *iterator) Next(ctx context.Context) (*domain.Chunk, error) {
	if it.done {
		return nil, nil
	}

	seq := it.seq + 1
	params := url.Values{
		"limit":  {strconv.Itoa(it.pageSize)},
		"offset": {strconv.FormatInt((seq-1)*int64(it.pageSize), 10)},
	}
	if it.query.Filter != "" {
		params.Set("filter", it.query.Filter)
	}

	var resp struct {
		Records []domain.Record `json:"records"`
	}
	if err := it.client.get(ctx, it.query.Dataset, params, &resp); err != nil {
		return nil, err
	}

	if len(resp.Records) == 0 {
		it.done = true
		return nil, nil
	}
	if len(resp.Records) < it.pageSize {
		it.done = true
	}

	it.seq = seq
	return &domain.Chunk{Sequence: seq, Records: resp.Records}, nil
}

// get issues one request and decodes the JSON body, classifying
// failures so the retry policy can tell transient from fatal.
func (c *Client) get(ctx context.Context, dataset string, params url.Values, out any) error {
	u := fmt.Sprintf("%s/datasets/%s/records?%s",
		c.cfg.BaseURL, url.PathEscape(dataset), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Fatal(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return domain.Fatal(fmt.Errorf("source rejected request: %s", resp.Status))
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return domain.Unhealthy(fmt.Errorf("source unavailable: %s", resp.Status))
	default:
		return domain.Transient(fmt.Errorf("unexpected status: %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Transient(fmt.Errorf("failed to read response: %w", err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.Transient(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
