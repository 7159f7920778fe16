package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docdash",
		Name:      "uploads_total",
		Help:      "Finished uploads by result (accepted, rejected, failed).",
	}, []string{"result"})

	UploadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "docdash",
		Name:      "upload_bytes_total",
		Help:      "Bytes sent in accepted uploads.",
	})

	UploadRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "docdash",
		Name:      "upload_retries_total",
		Help:      "Automatic and manual upload retry attempts.",
	})

	UploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "docdash",
		Name:      "upload_duration_seconds",
		Help:      "Time from first byte to server acknowledgement.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docdash",
		Name:      "status_polls_total",
		Help:      "Status poll requests by job kind and result.",
	}, []string{"kind", "result"})

	ActivePollers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "docdash",
		Name:      "active_pollers",
		Help:      "Polling sessions currently running, by job kind.",
	}, []string{"kind"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docdash",
		Name:      "notifications_total",
		Help:      "User notifications emitted, by level.",
	}, []string{"level"})

	CrawlJobsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docdash",
		Name:      "crawl_jobs_submitted_total",
		Help:      "Crawl jobs created, by submission mode (single, bulk).",
	}, []string{"mode"})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		UploadsTotal,
		UploadBytesTotal,
		UploadRetriesTotal,
		UploadDuration,
		PollsTotal,
		ActivePollers,
		NotificationsTotal,
		CrawlJobsSubmitted,
	)
}

// Handler returns an HTTP handler exposing reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
