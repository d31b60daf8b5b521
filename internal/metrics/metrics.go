package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StorageOperation identifies the durable medium call being instrumented.
type StorageOperation string

const (
	StorageOperationGet    StorageOperation = "get"
	StorageOperationSet    StorageOperation = "set"
	StorageOperationRemove StorageOperation = "remove"
)

// StorageResult captures the result of a durable medium call.
type StorageResult string

const (
	StorageResultOK    StorageResult = "ok"
	StorageResultMiss  StorageResult = "miss"
	StorageResultQuota StorageResult = "quota"
	StorageResultError StorageResult = "error"
)

// CacheLookupOutcome captures the result of a TTL cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates a live entry was returned.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no entry was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupExpired indicates an entry was present but stale and got evicted.
	CacheLookupExpired CacheLookupOutcome = "expired"
)

// EvictionReason explains why entries left a namespace.
type EvictionReason string

const (
	EvictionExpired EvictionReason = "expired"
	EvictionDeleted EvictionReason = "deleted"
	EvictionCleared EvictionReason = "cleared"
)

// NavigationOutcome records what the page landed on after a navigation.
type NavigationOutcome string

const (
	NavigationRestored NavigationOutcome = "restored"
	NavigationReset    NavigationOutcome = "reset"
	NavigationRejected NavigationOutcome = "rejected"
)

// Recorder publishes Prometheus metrics for cache and session activity. All
// methods are safe on a nil receiver.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	storageOperations *prometheus.CounterVec
	storageLatency    *prometheus.HistogramVec
	quotaRecoveries   *prometheus.CounterVec

	cacheLookups   *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheEntries   *prometheus.GaugeVec
	cacheBytes     *prometheus.GaugeVec

	navigations *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	storageOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manga",
		Subsystem: "storage",
		Name:      "operations_total",
		Help:      "Durable medium operations issued by the cache.",
	}, []string{"medium", "operation", "result"})

	storageLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "manga",
		Subsystem: "storage",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for durable medium operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"medium", "operation"})

	quotaRecoveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manga",
		Subsystem: "storage",
		Name:      "quota_recoveries_total",
		Help:      "Evict-and-retry cycles triggered by a full medium.",
	}, []string{"outcome"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manga",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "TTL cache lookups by namespace and result.",
	}, []string{"namespace", "result"})

	cacheEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manga",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries removed from the TTL cache.",
	}, []string{"namespace", "reason"})

	cacheEntries := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "manga",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Live entries per namespace.",
	}, []string{"namespace"})

	cacheBytes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "manga",
		Subsystem: "cache",
		Name:      "size_bytes",
		Help:      "Estimated serialized size per namespace.",
	}, []string{"namespace"})

	navigations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manga",
		Subsystem: "session",
		Name:      "navigations_total",
		Help:      "Page navigations by direction and outcome.",
	}, []string{"direction", "outcome"})

	reg.MustRegister(storageOperations, storageLatency, quotaRecoveries,
		cacheLookups, cacheEvictions, cacheEntries, cacheBytes, navigations)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		storageOperations: storageOperations,
		storageLatency:    storageLatency,
		quotaRecoveries:   quotaRecoveries,
		cacheLookups:      cacheLookups,
		cacheEvictions:    cacheEvictions,
		cacheEntries:      cacheEntries,
		cacheBytes:        cacheBytes,
		navigations:       navigations,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveStorage records one durable medium call.
func (r *Recorder) ObserveStorage(medium string, op StorageOperation, result StorageResult, duration time.Duration) {
	if r == nil {
		return
	}
	mediumLabel := normalizeLabel(medium)
	opLabel := normalizeLabel(string(op))
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(StorageResultError)
	}
	r.storageOperations.WithLabelValues(mediumLabel, opLabel, resultLabel).Inc()
	r.storageLatency.WithLabelValues(mediumLabel, opLabel).Observe(duration.Seconds())
}

// ObserveQuotaRecovery records whether the retry after an eviction sweep succeeded.
func (r *Recorder) ObserveQuotaRecovery(recovered bool) {
	if r == nil {
		return
	}
	outcome := "failed"
	if recovered {
		outcome = "recovered"
	}
	r.quotaRecoveries.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup records the result of a namespace lookup.
func (r *Recorder) ObserveCacheLookup(namespace string, result CacheLookupOutcome) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.cacheLookups.WithLabelValues(normalizeLabel(namespace), resultLabel).Inc()
}

// ObserveEvictions adds count evicted entries. Zero counts are ignored.
func (r *Recorder) ObserveEvictions(namespace string, reason EvictionReason, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.cacheEvictions.WithLabelValues(normalizeLabel(namespace), normalizeLabel(string(reason))).Add(float64(count))
}

// SetCacheSize publishes the live size of a namespace.
func (r *Recorder) SetCacheSize(namespace string, entries int, bytes int64) {
	if r == nil {
		return
	}
	label := normalizeLabel(namespace)
	r.cacheEntries.WithLabelValues(label).Set(float64(entries))
	r.cacheBytes.WithLabelValues(label).Set(float64(bytes))
}

// ObserveNavigation records one page navigation.
func (r *Recorder) ObserveNavigation(direction string, outcome NavigationOutcome) {
	if r == nil {
		return
	}
	r.navigations.WithLabelValues(normalizeLabel(direction), normalizeLabel(string(outcome))).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
