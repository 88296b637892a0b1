package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var perfMeter = otel.Meter("process.perf_stats")

type perfGauges struct {
	cpu        metric.Float64Gauge
	rss        metric.Int64Gauge
	heap       metric.Int64Gauge
	goroutines metric.Int64Gauge
	fds        metric.Int64Gauge
}

func newPerfGauges(m metric.Meter) (perfGauges, error) {
	var g perfGauges
	var err error
	if g.cpu, err = m.Float64Gauge("process_cpu_percent"); err != nil {
		return g, err
	}
	if g.rss, err = m.Int64Gauge("process_rss_bytes", metric.WithUnit("By")); err != nil {
		return g, err
	}
	if g.heap, err = m.Int64Gauge("go_heap_alloc_bytes", metric.WithUnit("By")); err != nil {
		return g, err
	}
	if g.goroutines, err = m.Int64Gauge("go_goroutines"); err != nil {
		return g, err
	}
	if g.fds, err = m.Int64Gauge("process_open_fds"); err != nil {
		return g, err
	}
	return g, nil
}

// sample records one reading, readings the platform cannot provide are skipped.
func (g perfGauges) sample(ctx context.Context, proc *process.Process) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.heap.Record(ctx, int64(mem.HeapAlloc))
	g.goroutines.Record(ctx, int64(runtime.NumGoroutine()))

	if proc == nil {
		return
	}
	percent, err := proc.CPUPercentWithContext(ctx)
	if err == nil {
		g.cpu.Record(ctx, percent)
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err == nil {
		g.rss.Record(ctx, int64(info.RSS))
	}
	fds, err := proc.NumFDsWithContext(ctx)
	if err == nil {
		g.fds.Record(ctx, int64(fds))
	}
}

// InstrumentPerfStats samples the scraper process every interval (30s when
// zero) until ctx ends. It is meant for the long running scheduler.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	gauges, err := newPerfGauges(perfMeter)
	if err != nil {
		slog.WarnContext(ctx, "perf stats disabled", "err", err)
		return
	}
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.WarnContext(ctx, "process stats unavailable, recording runtime stats only", "err", err)
		proc = nil
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				gauges.sample(ctx, proc)
			case <-ctx.Done():
				return
			}
		}
	}()
}
