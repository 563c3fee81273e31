package metrics

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

// Package metrics keeps a small embedded time-series store for agent gauges
// and counters. Readers use GetLatest / GetCounter; writers never block on
// storage errors (metrics are best-effort).

var (
	storage  tstorage.Storage
	mu       sync.RWMutex
	latest   = map[string]int64{}
	counters = map[string]int64{}
)

// InitMetrics opens the metrics storage under workdir.
func InitMetrics(workdir string) error {
	s, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	storage = s
	mu.Unlock()
	return nil
}

// SetGauge records the current value of a gauge metric.
func SetGauge(name string, value int64) {
	mu.Lock()
	latest[name] = value
	s := storage
	mu.Unlock()
	if s == nil {
		return
	}
	_ = s.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: float64(value)},
	}})
}

// IncrCounter adds delta to a monotonic counter and records it.
func IncrCounter(name string, delta int64) {
	mu.Lock()
	counters[name] += delta
	v := counters[name]
	s := storage
	mu.Unlock()
	if s == nil {
		return
	}
	_ = s.InsertRows([]tstorage.Row{{
		Metric:    name,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: float64(v)},
	}})
}

// GetLatest returns the last recorded gauge value.
func GetLatest(name string) int64 {
	mu.RLock()
	defer mu.RUnlock()
	return latest[name]
}

// GetCounter returns the current counter value.
func GetCounter(name string) int64 {
	mu.RLock()
	defer mu.RUnlock()
	return counters[name]
}

// Snapshot returns a copy of all gauges and counters.
func Snapshot() map[string]int64 {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]int64, len(latest)+len(counters))
	for k, v := range latest {
		out[k] = v
	}
	for k, v := range counters {
		out[k] = v
	}
	return out
}

// Close flushes and closes the metrics storage.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
