// Package telemetry captures host resource snapshots attached to execution
// reports.
package telemetry

import (
	"context"
	"log"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"apiguardian/types"
)

// Snapshot captures the current host resource usage. Individual probe
// failures are logged and zeroed; a snapshot is always returned.
func Snapshot(ctx context.Context) *types.Telemetry {
	t := &types.Telemetry{
		GoRoutines: runtime.NumGoroutine(),
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		t.MemoryUsedPercent = memInfo.UsedPercent
	} else {
		log.Printf("⚠️ Failed to get memory metrics: %v", err)
	}

	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		t.CPUPercent = cpuPercent[0]
	} else if err != nil {
		log.Printf("⚠️ Failed to get CPU metrics: %v", err)
	}

	return t
}
