// Package metrics holds the Prometheus collectors of the Control Plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProgressWrites counts upsert attempts by trigger and outcome
	// (inserted, updated, skipped, failed).
	ProgressWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanova_progress_writes_total",
		Help: "Progress upserts by trigger and result",
	}, []string{"trigger", "result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cleanova_playback_sessions_active",
		Help: "Playback sessions currently owned by this process",
	})

	MediaErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanova_playback_media_errors_total",
		Help: "Media failures reported by players, by user-facing category",
	}, []string{"category"})

	// AssetResolutions counts resolver outcomes per asset class.
	AssetResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanova_asset_resolutions_total",
		Help: "Signed asset URL resolutions by class and outcome",
	}, []string{"class", "outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanova_http_requests_total",
		Help: "HTTP requests by route pattern, method and status",
	}, []string{"route", "method", "status"})
)

func IncProgressWrite(trigger, result string) {
	ProgressWrites.WithLabelValues(trigger, result).Inc()
}

func IncMediaError(category string) {
	MediaErrors.WithLabelValues(category).Inc()
}

func IncAssetResolution(class, outcome string) {
	AssetResolutions.WithLabelValues(class, outcome).Inc()
}

func ObserveHTTPRequest(route, method, status string) {
	HTTPRequests.WithLabelValues(route, method, status).Inc()
}
