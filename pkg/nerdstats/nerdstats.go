// Package nerdstats snapshots Go runtime statistics for the debug surface
// and the shutdown report.
package nerdstats

import (
	"runtime"
	"time"

	"github.com/corralhq/corral/pkg/format"
)

type NerdStats struct {
	LastGC time.Time

	GoVersion string

	HeapAlloc    uint64
	HeapSys      uint64
	HeapInuse    uint64
	HeapReleased uint64
	StackInuse   uint64
	TotalAlloc   uint64
	Mallocs      uint64
	Frees        uint64

	TotalGCTime   time.Duration
	Uptime        time.Duration
	GCCPUFraction float64

	NumGoroutines int
	NumCPU        int
	GOMAXPROCS    int
	NumGC         uint32
}

// Snapshot captures the current runtime state. Cheap enough to call per
// metrics request.
func Snapshot(startTime time.Time) *NerdStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := &NerdStats{
		HeapAlloc:    m.HeapAlloc,
		HeapSys:      m.HeapSys,
		HeapInuse:    m.HeapInuse,
		HeapReleased: m.HeapReleased,
		StackInuse:   m.StackInuse,
		TotalAlloc:   m.TotalAlloc,
		Mallocs:      m.Mallocs,
		Frees:        m.Frees,

		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,

		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		GoVersion:     runtime.Version(),
		Uptime:        time.Since(startTime),
	}

	if m.LastGC > 0 {
		stats.LastGC = time.Unix(0, int64(m.LastGC))
		stats.TotalGCTime = time.Duration(m.PauseTotalNs)
	}

	return stats
}

// GetMemoryPressure returns a coarse assessment of heap pressure.
func (ps *NerdStats) GetMemoryPressure() string {
	heapUsageRatio := float64(ps.HeapInuse) / float64(ps.HeapSys)
	allocsPerFree := float64(ps.Mallocs) / float64(ps.Frees+1)

	if heapUsageRatio > 0.9 && allocsPerFree > 1.5 {
		return "HIGH"
	} else if heapUsageRatio > 0.7 || allocsPerFree > 1.2 {
		return "MEDIUM"
	}
	return "LOW"
}

// GetGoroutineHealthStatus assesses goroutine count health.
func (ps *NerdStats) GetGoroutineHealthStatus() string {
	if ps.NumGoroutines > 1000 {
		return "CONCERNING"
	} else if ps.NumGoroutines > 500 {
		return "ELEVATED"
	} else if ps.NumGoroutines > 100 {
		return "NORMAL"
	}
	return "HEALTHY"
}

func CalculateAverageGCPause(stats *NerdStats) string {
	if stats.NumGC == 0 {
		return "N/A"
	}
	return format.Duration(stats.TotalGCTime / time.Duration(stats.NumGC))
}
