package models

import "strings"

// TransferStatus is the lifecycle state of a document upload.
type TransferStatus string

const (
	TransferQueued     TransferStatus = "queued"
	TransferUploading  TransferStatus = "uploading"
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferQueued:     {TransferUploading, TransferFailed},
	TransferUploading:  {TransferPending, TransferProcessing, TransferCompleted, TransferFailed},
	TransferPending:    {TransferProcessing, TransferCompleted, TransferFailed},
	TransferProcessing: {TransferCompleted, TransferFailed},
	TransferFailed:     {TransferQueued, TransferUploading},
}

// CanTransition reports whether moving from s to next is a legal step.
// Staying in the same state is always allowed (repeated polls).
func (s TransferStatus) CanTransition(next TransferStatus) bool {
	if s == next {
		return true
	}
	for _, t := range transferTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether polling stops at this state.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

// ParseTransferStatus maps a backend status string onto a TransferStatus.
// Unknown or empty values fall back to uploading, the implicit default the
// backend uses while it is still receiving bytes.
func ParseTransferStatus(s string) TransferStatus {
	switch TransferStatus(s) {
	case TransferPending, TransferProcessing, TransferCompleted, TransferFailed:
		return TransferStatus(s)
	default:
		return TransferUploading
	}
}

// CrawlStatus is the lifecycle state of a web crawl job.
type CrawlStatus string

const (
	CrawlPending   CrawlStatus = "pending"
	CrawlCrawling  CrawlStatus = "crawling"
	CrawlCompleted CrawlStatus = "completed"
	CrawlFailed    CrawlStatus = "failed"
)

// Terminal reports whether polling stops at this state.
func (s CrawlStatus) Terminal() bool {
	return s == CrawlCompleted || s == CrawlFailed
}

// ParseCrawlStatus maps a backend crawl status onto the known states.
// Unrecognised non-terminal values count as crawling.
func ParseCrawlStatus(s string) CrawlStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pending", "queued", "waiting":
		return CrawlPending
	case "completed", "done", "finished", "success":
		return CrawlCompleted
	case "failed", "error", "cancelled", "canceled":
		return CrawlFailed
	default:
		return CrawlCrawling
	}
}
