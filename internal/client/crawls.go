package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/raphaelgruber/docdash/internal/models"
)

// CrawlRequest starts a single crawl job.
type CrawlRequest struct {
	URL             string `json:"url"`
	MaxPages        int    `json:"max_pages"`
	FollowLinks     bool   `json:"follow_links"`
	RenderJS        bool   `json:"render_js"`
	RenderTimeoutMs int    `json:"render_timeout_ms,omitempty"`
	WaitSelector    string `json:"wait_selector,omitempty"`
}

// BulkCrawlRequest starts one crawl job per URL.
type BulkCrawlRequest struct {
	URLs        []string `json:"urls"`
	MaxPages    int      `json:"max_pages"`
	FollowLinks bool     `json:"follow_links"`
}

// CrawlJobRef identifies a job created by a bulk request.
type CrawlJobRef struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// BulkCrawlResult is the answer to a bulk crawl request.
type BulkCrawlResult struct {
	JobsCreated int           `json:"jobs_created"`
	Jobs        []CrawlJobRef `json:"jobs"`
}

// CrawlStatus is a crawl job status reading.
type CrawlStatus struct {
	Status       string `json:"status"`
	PagesCrawled int    `json:"pages_crawled"`
	Error        string `json:"error,omitempty"`
}

// CrawlPage is one page of the crawl list.
type CrawlPage struct {
	Crawls []models.CrawlJobRecord `json:"crawls"`
	Total  int                     `json:"total"`
}

// StartCrawl submits a single crawl job and returns its id.
func (c *Client) StartCrawl(ctx context.Context, req CrawlRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/client/crawl/start", req, &out); err != nil {
		return "", fmt.Errorf("start crawl: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("start crawl: %w: missing job id", ErrMalformedResponse)
	}
	return out.ID, nil
}

// StartBulkCrawl submits one crawl job per URL.
func (c *Client) StartBulkCrawl(ctx context.Context, req BulkCrawlRequest) (BulkCrawlResult, error) {
	var out BulkCrawlResult
	if err := c.doJSON(ctx, http.MethodPost, "/client/crawl/bulk", req, &out); err != nil {
		return BulkCrawlResult{}, fmt.Errorf("start bulk crawl: %w", err)
	}
	return out, nil
}

// GetCrawlStatus returns the status of a crawl job.
func (c *Client) GetCrawlStatus(ctx context.Context, id string) (CrawlStatus, error) {
	var st CrawlStatus
	if err := c.do(ctx, http.MethodGet, "/client/crawls/"+url.PathEscape(id)+"/status", nil, "", &st); err != nil {
		return CrawlStatus{}, fmt.Errorf("get crawl status: %w", err)
	}
	if st.Status == "" {
		return CrawlStatus{}, fmt.Errorf("get crawl status: %w: missing status", ErrMalformedResponse)
	}
	return st, nil
}

// ListCrawls returns one page of crawl jobs.
func (c *Client) ListCrawls(ctx context.Context, page, limit int) (CrawlPage, error) {
	var p CrawlPage
	if err := c.do(ctx, http.MethodGet, "/client/crawls"+pageQuery(page, limit), nil, "", &p); err != nil {
		return CrawlPage{}, fmt.Errorf("list crawls: %w", err)
	}
	return p, nil
}

// DeleteCrawl deletes a crawl job.
func (c *Client) DeleteCrawl(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/client/crawls/"+url.PathEscape(id), nil, "", nil); err != nil {
		return fmt.Errorf("delete crawl: %w", err)
	}
	return nil
}
