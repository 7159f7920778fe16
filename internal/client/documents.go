package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/raphaelgruber/docdash/internal/models"
)

// UploadResult is the normalised answer to a document upload.
type UploadResult struct {
	JobID    string
	Status   string
	Progress int
}

// JobStatus is a document processing status reading.
type JobStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// DocumentPage is one page of the document list.
type DocumentPage struct {
	Documents []models.Document `json:"pdfs"`
	Total     int               `json:"total"`
}

// UploadDocument streams r as a multipart "file" field. The body is produced
// while it is sent, so wrapping r is enough to observe upload progress.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader) (UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/client/pdfs", pr, mw.FormDataContentType(), &raw)
	// Unblock the writer goroutine if the request ended before the body was drained.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	return normalizeUpload(raw)
}

// normalizeUpload accepts {"pdf": {...}} as well as a flat object.
func normalizeUpload(raw json.RawMessage) (UploadResult, error) {
	type fields struct {
		ID       json.RawMessage `json:"id"`
		Status   string          `json:"status"`
		Progress int             `json:"progress"`
	}
	var body struct {
		fields
		PDF *fields `json:"pdf"`
	}
	if len(raw) == 0 {
		return UploadResult{}, fmt.Errorf("%w: empty upload response", ErrMalformedResponse)
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	f := body.fields
	if body.PDF != nil {
		f = *body.PDF
	}
	id, err := idString(f.ID)
	if err != nil {
		return UploadResult{}, err
	}
	if id == "" && f.Status == "" {
		return UploadResult{}, fmt.Errorf("%w: upload response has neither id nor status", ErrMalformedResponse)
	}
	return UploadResult{JobID: id, Status: f.Status, Progress: f.Progress}, nil
}

// idString accepts ids encoded as JSON strings or numbers.
func idString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: unexpected id %s", ErrMalformedResponse, raw)
}

// GetDocumentStatus returns the processing status of a document.
func (c *Client) GetDocumentStatus(ctx context.Context, id string) (JobStatus, error) {
	var st JobStatus
	if err := c.do(ctx, http.MethodGet, "/client/pdfs/"+url.PathEscape(id)+"/status", nil, "", &st); err != nil {
		return JobStatus{}, fmt.Errorf("get document status: %w", err)
	}
	if st.Status == "" {
		return JobStatus{}, fmt.Errorf("get document status: %w: missing status", ErrMalformedResponse)
	}
	return st, nil
}

// ListDocuments returns one page of documents.
func (c *Client) ListDocuments(ctx context.Context, page, limit int) (DocumentPage, error) {
	var p DocumentPage
	if err := c.do(ctx, http.MethodGet, "/client/pdfs"+pageQuery(page, limit), nil, "", &p); err != nil {
		return DocumentPage{}, fmt.Errorf("list documents: %w", err)
	}
	return p, nil
}

// DeleteDocument deletes one document.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/client/pdfs/"+url.PathEscape(id), nil, "", nil); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// BulkDeleteDocuments deletes several documents and returns how many the
// server removed.
func (c *Client) BulkDeleteDocuments(ctx context.Context, ids []string) (int, error) {
	var out struct {
		DeletedCount int `json:"deleted_count"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/client/pdfs", map[string]any{"ids": ids}, &out); err != nil {
		return 0, fmt.Errorf("bulk delete documents: %w", err)
	}
	return out.DeletedCount, nil
}
