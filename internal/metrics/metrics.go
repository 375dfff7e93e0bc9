package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session pool
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "untiscal_logins_total",
		Help: "WebUntis login attempts by result.",
	}, []string{"result"})
	SessionInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "untiscal_session_invalidations_total",
		Help: "Sessions dropped after a failed timetable call.",
	})

	// Fetcher
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "untiscal_fetch_errors_total",
		Help: "Failed timetable fetches by step.",
	}, []string{"op"})
	LessonsServed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "untiscal_lessons_per_fetch",
		Help:    "Number of merged lessons returned per fetch.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// Rendered output cache
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "untiscal_feed_cache_lookups_total",
		Help: "Rendered feed cache lookups by result (hit, miss, expired).",
	}, []string{"result"})
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "untiscal_feed_cache_swept_total",
		Help: "Expired feeds removed by the background sweep.",
	})
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "untiscal_feed_cache_entries",
		Help: "Rendered feeds currently held in memory.",
	})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
