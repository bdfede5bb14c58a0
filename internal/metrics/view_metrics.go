// Package metrics exposes Prometheus collectors for the poll loop, the
// view synchronizer and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pveview_refresh_duration_seconds",
			Help:    "Time spent fetching and reconciling one snapshot",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	ChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pveview_changes_total",
			Help: "Total number of view mutations by kind",
		},
		[]string{"kind"}, // removed, inserted, updated
	)

	ReordersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pveview_reorders_total",
			Help: "Total number of refreshes that changed the order of the view",
		},
	)

	ViewEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pveview_view_entries",
			Help: "Number of entries currently in the view",
		},
	)

	RefreshErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pveview_refresh_errors_total",
			Help: "Total number of failed polls by error kind",
		},
		[]string{"kind"},
	)

	PollsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pveview_polls_skipped_total",
			Help: "Total number of poll ticks dropped because a poll was still running",
		},
	)

	TicketRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pveview_ticket_renewals_total",
			Help: "Total number of ticket logins and renewals by result",
		},
		[]string{"result"}, // success, failure
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pveview_websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)
)

// RefreshStats summarizes one applied refresh.
type RefreshStats struct {
	Removed   int
	Inserted  int
	Updated   int
	Reordered bool
	Total     int
}

// RecordRefresh records a successful refresh and the mutations it produced.
func RecordRefresh(elapsed time.Duration, stats RefreshStats) {
	RefreshDuration.Observe(elapsed.Seconds())
	ChangesTotal.WithLabelValues("removed").Add(float64(stats.Removed))
	ChangesTotal.WithLabelValues("inserted").Add(float64(stats.Inserted))
	ChangesTotal.WithLabelValues("updated").Add(float64(stats.Updated))
	if stats.Reordered {
		ReordersTotal.Inc()
	}
	ViewEntries.Set(float64(stats.Total))
}

// RecordRefreshError counts a failed poll.
func RecordRefreshError(kind string) {
	RefreshErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordPollSkipped counts a dropped tick.
func RecordPollSkipped() {
	PollsSkippedTotal.Inc()
}

// RecordTicketRenewal counts a login or renewal attempt.
func RecordTicketRenewal(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	TicketRenewalsTotal.WithLabelValues(result).Inc()
}
