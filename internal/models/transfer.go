// Package models defines the records tracked by the docdash upload and crawl pipelines.
package models

import (
	"math"
	"time"
)

// FileRef describes the local payload behind a transfer. The bytes themselves
// stay with the file source; records only carry the metadata.
type FileRef struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// TransferRecord is one in-flight or recently finished upload.
// Records are values: the upload manager replaces them wholesale on every
// change, so a copy handed to a subscriber never mutates underneath it.
type TransferRecord struct {
	ID          string         `json:"id"`
	File        FileRef        `json:"file"`
	Status      TransferStatus `json:"status"`
	Progress    int            `json:"progress"`
	Loaded      int64          `json:"loaded"`
	Speed       float64        `json:"speed"` // bytes per second
	ETA         time.Duration  `json:"eta"`
	RetryCount  int            `json:"retry_count"`
	RemoteJobID string         `json:"remote_job_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	Retryable   bool           `json:"retryable,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// InfiniteETA marks an unknown remaining time (no measurable speed yet).
const InfiniteETA = time.Duration(math.MaxInt64)

// HasETA reports whether the record carries a finite remaining-time estimate.
func (r TransferRecord) HasETA() bool {
	return r.ETA != InfiniteETA
}
