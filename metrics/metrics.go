// Package metrics exposes the counter and gauge helpers used by the fastrpc
// runtime. Collectors are backed by prometheus/client_golang and registered
// lazily on first use, keyed by group (namespace) and name.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Value represents a metric value as a float64.
type Value float64

// Dimension represents metric dimensions as key-value pairs, used to add
// contextual information such as transport type or error kind.
type Dimension map[string]string

var (
	mu         sync.Mutex
	registerer prometheus.Registerer = prometheus.DefaultRegisterer
	counters                         = make(map[string]*prometheus.CounterVec)
	gauges                           = make(map[string]*prometheus.GaugeVec)
)

// SetRegisterer redirects collector registration, e.g. to a per-test registry.
// Must be called before any metric is emitted.
func SetRegisterer(r prometheus.Registerer) {
	mu.Lock()
	defer mu.Unlock()
	registerer = r
	counters = make(map[string]*prometheus.CounterVec)
	gauges = make(map[string]*prometheus.GaugeVec)
}

func labelNames(dims map[string]string) []string {
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// A metric keeps the label set it was first emitted with; callers must use a
// stable dimension key set per metric name.
func counterVec(group, name string, dims map[string]string) *prometheus.CounterVec {
	key := group + "." + name
	if c, ok := counters[key]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: group,
		Name:      name,
	}, labelNames(dims))
	registerer.MustRegister(c)
	counters[key] = c
	return c
}

func gaugeVec(group, name string, dims map[string]string) *prometheus.GaugeVec {
	key := group + "." + name
	if g, ok := gauges[key]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: group,
		Name:      name,
	}, labelNames(dims))
	registerer.MustRegister(g)
	gauges[key] = g
	return g
}

// IncrCounterWithGroup increments a counter in the given group.
func IncrCounterWithGroup(group, name string, v Value) {
	mu.Lock()
	defer mu.Unlock()
	counterVec(group, name, nil).WithLabelValues().Add(float64(v))
}

// IncrCounterWithDimGroup increments a counter carrying dimensions.
func IncrCounterWithDimGroup(group, name string, v Value, dims map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	counterVec(group, name, dims).With(prometheus.Labels(dims)).Add(float64(v))
}

// UpdateGaugeWithGroup sets a gauge in the given group.
func UpdateGaugeWithGroup(group, name string, v Value) {
	mu.Lock()
	defer mu.Unlock()
	gaugeVec(group, name, nil).WithLabelValues().Set(float64(v))
}

// UpdateGaugeWithDimGroup sets a gauge carrying dimensions.
func UpdateGaugeWithDimGroup(group, name string, v Value, dims map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	gaugeVec(group, name, dims).With(prometheus.Labels(dims)).Set(float64(v))
}
