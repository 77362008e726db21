package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// window bounds how many observations are kept per series.
const window = 100

type sizeObservation struct {
	value     float64
	timestamp time.Time
}

// Collector keeps in-process counters and rolling latency/size windows.
type Collector struct {
	counters  map[string]map[string]int64
	latencies map[string][]time.Duration
	sizes     map[string][]sizeObservation
	mutex     sync.RWMutex
}

func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]map[string]int64),
		latencies: make(map[string][]time.Duration),
		sizes:     make(map[string][]sizeObservation),
	}
}

// labelKey renders labels as a stable "k:v,k:v" key.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return "default"
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+":"+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (mc *Collector) IncrementCounter(name string, labels map[string]string) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, exists := mc.counters[name]; !exists {
		mc.counters[name] = make(map[string]int64)
	}
	mc.counters[name][labelKey(labels)]++
}

func (mc *Collector) ObserveLatency(name string, duration time.Duration) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.latencies[name] = append(mc.latencies[name], duration)
	if len(mc.latencies[name]) > window {
		mc.latencies[name] = mc.latencies[name][len(mc.latencies[name])-window:]
	}
}

// Since is a helper for `defer mc.Since("name", time.Now())`.
func (mc *Collector) Since(name string, start time.Time) {
	mc.ObserveLatency(name, time.Since(start))
}

func (mc *Collector) ObserveSize(name string, size float64) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	mc.sizes[name] = append(mc.sizes[name], sizeObservation{value: size, timestamp: time.Now()})
	if len(mc.sizes[name]) > window {
		mc.sizes[name] = mc.sizes[name][len(mc.sizes[name])-window:]
	}
}

func (mc *Collector) Counters() map[string]map[string]int64 {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	counters := make(map[string]map[string]int64, len(mc.counters))
	for name, labels := range mc.counters {
		counters[name] = make(map[string]int64, len(labels))
		for label, value := range labels {
			counters[name][label] = value
		}
	}
	return counters
}

func (mc *Collector) Latencies() map[string]map[string]float64 {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	result := make(map[string]map[string]float64)
	for name, durations := range mc.latencies {
		if len(durations) == 0 {
			continue
		}
		var sum, max time.Duration
		for _, d := range durations {
			sum += d
			if d > max {
				max = d
			}
		}
		result[name] = map[string]float64{
			"avg_ms": float64(sum) / float64(len(durations)) / float64(time.Millisecond),
			"max_ms": float64(max) / float64(time.Millisecond),
		}
	}
	return result
}

func (mc *Collector) Sizes() map[string]map[string]float64 {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	result := make(map[string]map[string]float64)
	for name, observations := range mc.sizes {
		if len(observations) == 0 {
			continue
		}
		var sum, max float64
		for _, obs := range observations {
			sum += obs.value
			if obs.value > max {
				max = obs.value
			}
		}
		result[name] = map[string]float64{
			"avg_bytes": sum / float64(len(observations)),
			"max_bytes": max,
		}
	}
	return result
}

// Snapshot is the payload served on the metrics endpoint.
type Snapshot struct {
	Counters  map[string]map[string]int64   `json:"counters"`
	Latencies map[string]map[string]float64 `json:"latencies"`
	Sizes     map[string]map[string]float64 `json:"sizes"`
}

func (mc *Collector) Snapshot() Snapshot {
	return Snapshot{
		Counters:  mc.Counters(),
		Latencies: mc.Latencies(),
		Sizes:     mc.Sizes(),
	}
}
