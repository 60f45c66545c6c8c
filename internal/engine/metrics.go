package engine

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// statsCollector exports the engine's prometheus metrics directly from
// live atomic counters, rather than scraping Instance state on every
// Collect, so it imposes no lock contention on the dispatch path.
type statsCollector struct {
	mu      sync.RWMutex
	running map[string]int // plugin -> 1 if running, else absent
	missed  map[string]int

	pluginsKnown    *prometheus.Desc
	pluginsRunning  *prometheus.Desc
	execTotal       atomic.Int64
	execErrors      atomic.Int64
	execTotalDesc   *prometheus.Desc
	execErrorsDesc  *prometheus.Desc
	missedPongsDesc *prometheus.Desc
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		running: make(map[string]int),
		missed:  make(map[string]int),

		pluginsKnown: prometheus.NewDesc(
			prometheus.BuildFQName(PluginName, "", "plugins_known"),
			"Total number of discovered plugins",
			nil, nil,
		),
		pluginsRunning: prometheus.NewDesc(
			prometheus.BuildFQName(PluginName, "", "plugins_running"),
			"Number of plugins with a live process",
			nil, nil,
		),
		execTotalDesc: prometheus.NewDesc(
			prometheus.BuildFQName(PluginName, "", "execute_total"),
			"Total number of execute/input calls dispatched",
			nil, nil,
		),
		execErrorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(PluginName, "", "execute_errors_total"),
			"Total number of execute/input calls that terminated in error",
			nil, nil,
		),
		missedPongsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(PluginName, "", "missed_pongs"),
			"Current consecutive missed pongs per plugin",
			[]string{"plugin"}, nil,
		),
	}
}

// RecordDispatch increments the call counters; ok is false for a
// terminal error outcome.
func (s *statsCollector) RecordDispatch(ok bool) {
	s.execTotal.Add(1)
	if !ok {
		s.execErrors.Add(1)
	}
}

// SetPluginState records whether a plugin currently has a live process,
// for the plugins_running gauge.
func (s *statsCollector) SetPluginState(name string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if running {
		s.running[name] = 1
	} else {
		delete(s.running, name)
	}
}

// SetMissedPongs records a plugin's current watchdog miss count.
func (s *statsCollector) SetMissedPongs(name string, missed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missed[name] = missed
}

// Describe implements prometheus.Collector.
func (s *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.pluginsKnown
	ch <- s.pluginsRunning
	ch <- s.execTotalDesc
	ch <- s.execErrorsDesc
	ch <- s.missedPongsDesc
}

// Collect implements prometheus.Collector.
func (s *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch <- prometheus.MustNewConstMetric(s.pluginsKnown, prometheus.GaugeValue, float64(len(s.missed)))
	ch <- prometheus.MustNewConstMetric(s.pluginsRunning, prometheus.GaugeValue, float64(len(s.running)))
	ch <- prometheus.MustNewConstMetric(s.execTotalDesc, prometheus.CounterValue, float64(s.execTotal.Load()))
	ch <- prometheus.MustNewConstMetric(s.execErrorsDesc, prometheus.CounterValue, float64(s.execErrors.Load()))
	for plugin, missed := range s.missed {
		ch <- prometheus.MustNewConstMetric(s.missedPongsDesc, prometheus.GaugeValue, float64(missed), plugin)
	}
}
