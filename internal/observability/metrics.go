package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	apiErrorsTotal         *prometheus.CounterVec
	analysesTotal          *prometheus.CounterVec
	analysisStageSeconds   *prometheus.HistogramVec
	uploadRejectedTotal    *prometheus.CounterVec
	contentSkippedTotal    *prometheus.CounterVec
	consistencyIssuesTotal *prometheus.CounterVec
	reportDownloadsTotal   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		analysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Completed analysis runs by outcome.",
		}, []string{"outcome"})

		analysisStageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analysis_stage_seconds",
			Help:    "Duration of each analysis pipeline stage.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"stage"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rejected_total",
			Help: "Uploads rejected before analysis by reason.",
		}, []string{"reason"})

		contentSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_skipped_total",
			Help: "Project files skipped during content aggregation by reason.",
		}, []string{"reason"})

		consistencyIssuesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_consistency_issues_total",
			Help: "Mismatches between rubric criteria and returned grades by kind.",
		}, []string{"kind"})

		reportDownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_downloads_total",
			Help: "Report download attempts by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			analysesTotal, analysisStageSeconds, uploadRejectedTotal,
			contentSkippedTotal, consistencyIssuesTotal, reportDownloadsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// Analyses exposes the analysis outcome counter.
func Analyses() *prometheus.CounterVec {
	RegisterMetrics()
	return analysesTotal
}

// AnalysisStage exposes the per stage duration histogram.
func AnalysisStage() *prometheus.HistogramVec {
	RegisterMetrics()
	return analysisStageSeconds
}

// UploadRejected exposes the counter for rejected uploads.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// ContentSkipped exposes the counter for skipped project files.
func ContentSkipped() *prometheus.CounterVec {
	RegisterMetrics()
	return contentSkippedTotal
}

// ConsistencyIssues exposes the counter for grade reconciliation mismatches.
func ConsistencyIssues() *prometheus.CounterVec {
	RegisterMetrics()
	return consistencyIssuesTotal
}

// ReportDownloads exposes the counter for report downloads.
func ReportDownloads() *prometheus.CounterVec {
	RegisterMetrics()
	return reportDownloadsTotal
}
