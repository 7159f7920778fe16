package models

import "time"

// CrawlJobRecord is a web crawl job submitted to the backend.
type CrawlJobRecord struct {
	ID           string      `json:"id"`
	URL          string      `json:"url"`
	Status       CrawlStatus `json:"status"`
	PagesCrawled int         `json:"pages_crawled"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	Error        string      `json:"error,omitempty"`
}
