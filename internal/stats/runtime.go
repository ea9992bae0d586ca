package stats

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// RuntimeStats serves Go runtime and process metrics in Prometheus text
// format on /runtime.
type RuntimeStats struct {
	startTime time.Time
}

// NewRuntimeStats creates a runtime stats handler.
func NewRuntimeStats() *RuntimeStats {
	return &RuntimeStats{startTime: time.Now()}
}

// ServeHTTP writes runtime metrics in Prometheus format.
func (r *RuntimeStats) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(w, "profile_bridge_process_start_time_seconds", "Start time of the process since unix epoch in seconds", float64(r.startTime.Unix()))
	writeGauge(w, "profile_bridge_process_uptime_seconds", "Time since process started in seconds", time.Since(r.startTime).Seconds())
	writeGauge(w, "profile_bridge_goroutines", "Number of goroutines", float64(runtime.NumGoroutine()))
	writeGauge(w, "profile_bridge_memory_alloc_bytes", "Currently allocated memory in bytes", float64(m.Alloc))
	writeGauge(w, "profile_bridge_memory_sys_bytes", "Total memory obtained from system in bytes", float64(m.Sys))
	writeGauge(w, "profile_bridge_memory_heap_inuse_bytes", "Heap memory in use in bytes", float64(m.HeapInuse))
	writeGauge(w, "profile_bridge_memory_heap_objects", "Number of allocated heap objects", float64(m.HeapObjects))
	writeCounter(w, "profile_bridge_gc_cycles_total", "Total number of GC cycles completed", float64(m.NumGC))
	writeCounter(w, "profile_bridge_gc_pause_total_seconds", "Total GC pause time in seconds", float64(m.PauseTotalNs)/1e9)
	writeGauge(w, "profile_bridge_gc_cpu_percent", "Percentage of CPU used by GC", m.GCCPUFraction*100)

	fmt.Fprintf(w, "# HELP profile_bridge_go_info Go version information\n")
	fmt.Fprintf(w, "# TYPE profile_bridge_go_info gauge\n")
	fmt.Fprintf(w, "profile_bridge_go_info{version=%q} 1\n", runtime.Version())

	// OS-level resident set size (Linux only).
	if rss, ok := readVmRSS(); ok {
		writeGauge(w, "profile_bridge_process_resident_memory_bytes", "Resident set size from /proc/self/status", float64(rss))
	}
}

func writeGauge(w http.ResponseWriter, name, help string, v float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, v)
}

func writeCounter(w http.ResponseWriter, name, help string, v float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %g\n", name, help, name, name, v)
}

// readVmRSS parses VmRSS from /proc/self/status. Returns false on
// non-Linux systems or parse failure.
func readVmRSS() (int64, bool) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
