package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/raphaelgruber/docdash/internal/metrics"
	"github.com/raphaelgruber/docdash/internal/models"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	return table
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

func formatETA(r models.TransferRecord) string {
	if r.Status != models.TransferUploading {
		return "-"
	}
	if !r.HasETA() {
		return "∞"
	}
	return r.ETA.Round(time.Second).String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// writeRecords prints the upload queue.
func writeRecords(w io.Writer, records []models.TransferRecord) {
	table := newTable(w, "ID", "File", "Size", "Status", "Progress", "Retries", "Detail")
	for _, r := range records {
		detail := r.Error
		if r.Retryable {
			detail += " (retry possible)"
		}
		table.Append([]string{
			r.ID,
			r.File.Name,
			humanize.IBytes(uint64(r.File.Size)),
			string(r.Status),
			fmt.Sprintf("%d%%", r.Progress),
			strconv.Itoa(r.RetryCount),
			detail,
		})
	}
	table.Render()
}

func writeDocuments(w io.Writer, docs []models.Document, total int) {
	table := newTable(w, "ID", "Filename", "Size", "Status", "Progress", "Uploaded")
	for _, d := range docs {
		table.Append([]string{
			d.ID,
			d.Filename,
			humanize.IBytes(uint64(max(d.Size, 0))),
			d.Status,
			fmt.Sprintf("%d%%", d.Progress),
			formatTime(d.CreatedAt),
		})
	}
	table.Render()
	fmt.Fprintf(w, "\n%d of %d documents\n", len(docs), total)
}

func writeCrawls(w io.Writer, crawls []models.CrawlJobRecord) {
	table := newTable(w, "ID", "URL", "Status", "Pages", "Started", "Detail")
	for _, c := range crawls {
		table.Append([]string{
			c.ID,
			c.URL,
			string(c.Status),
			strconv.Itoa(c.PagesCrawled),
			formatTime(c.CreatedAt),
			c.Error,
		})
	}
	table.Render()
}

// writeStats prints the end-of-run summary.
func writeStats(w io.Writer, snap metrics.Snapshot) {
	if len(snap.Operations) == 0 {
		return
	}
	fmt.Fprintln(w)
	table := newTable(w, "Operation", "Count", "Failed", "Avg", "Max", "Bytes")
	for _, op := range snap.Operations {
		bytes := "-"
		if op.Bytes > 0 {
			bytes = humanize.IBytes(uint64(op.Bytes))
		}
		table.Append([]string{
			op.Name,
			humanize.Comma(op.Count),
			humanize.Comma(op.Failures),
			(time.Duration(op.AvgTimeMs * float64(time.Millisecond))).Round(time.Millisecond).String(),
			(time.Duration(op.MaxTimeMs) * time.Millisecond).String(),
			bytes,
		})
	}
	table.Render()
	fmt.Fprintf(w, "Run time: %s\n", (time.Duration(snap.UptimeSeconds * float64(time.Second))).Round(time.Second))
}
