package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quakesafe_http_requests_total",
		Help: "Total HTTP requests by route and status code",
	}, []string{"route", "code"})
	HTTPDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quakesafe_http_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"route"})
	AnalysisRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quakesafe_analysis_requests_total",
		Help: "Total analysis API calls by kind and outcome",
	}, []string{"kind", "outcome"})
	UploadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quakesafe_upload_bytes_total",
		Help: "Total bytes of images stored",
	})
	PanelFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quakesafe_panel_fetches_total",
		Help: "Assessment fetch completions seen by the map panel by outcome",
	}, []string{"outcome"})
	PanelRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quakesafe_panel_refreshes_total",
		Help: "Map panel pin list refreshes by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurationMs)
	prometheus.MustRegister(AnalysisRequestsTotal)
	prometheus.MustRegister(UploadBytesTotal)
	prometheus.MustRegister(PanelFetchesTotal)
	prometheus.MustRegister(PanelRefreshesTotal)
}

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler { return promhttp.Handler() }
