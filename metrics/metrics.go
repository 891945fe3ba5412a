// Package metrics instruments statement execution with Prometheus.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kestrel"

// Collector holds the executor's metrics
type Collector struct {
	commands       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	sourceQueries  *prometheus.CounterVec
	prefetched     *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	boundVariables prometheus.Gauge
}

// New creates a collector and registers it with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Executed statements by command and outcome.",
		}, []string{"command", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Statement execution time by command.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"command"}),
		sourceQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasource_queries_total",
			Help:      "Data source calls by scheme and kind (retrieve, traverse, prefetch).",
		}, []string{"scheme", "kind"}),
		prefetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_records_total",
			Help:      "Records returned by prefetch queries, by purpose.",
		}, []string{"purpose"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variable_cache_lookups_total",
			Help:      "Variable store memo lookups by result.",
		}, []string{"result"}),
		boundVariables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bound_variables",
			Help:      "Variables bound in the session.",
		}),
	}
	for _, col := range []prometheus.Collector{c.commands, c.duration, c.sourceQueries, c.prefetched, c.cacheLookups, c.boundVariables} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveCommand records one executed statement
func (c *Collector) ObserveCommand(command string, d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.commands.WithLabelValues(command, outcome).Inc()
	c.duration.WithLabelValues(command).Observe(d.Seconds())
}

// ObserveSourceQuery records one data source call
func (c *Collector) ObserveSourceQuery(scheme, kind string) {
	if c == nil {
		return
	}
	c.sourceQueries.WithLabelValues(scheme, kind).Inc()
}

// ObservePrefetch records how many records a prefetch query returned
func (c *Collector) ObservePrefetch(purpose string, added int) {
	if c == nil || added <= 0 {
		return
	}
	c.prefetched.WithLabelValues(purpose).Add(float64(added))
}

// ObserveCacheLookup implements store.CacheObserver
func (c *Collector) ObserveCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// SetBoundVariables records the size of the variable environment
func (c *Collector) SetBoundVariables(n int) {
	if c == nil {
		return
	}
	c.boundVariables.Set(float64(n))
}
