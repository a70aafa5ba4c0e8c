package health

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// CheckHostMemory samples system RAM usage and records it as the "host_memory"
// component: Healthy below warnPercent, Degraded between warnPercent and
// critPercent, Unhealthy at or above critPercent. The frame cache's RAM tier
// competes with the rest of the host for memory, so sustained pressure here
// is an early signal that cache_ram_bytes is oversubscribed before decodes
// start failing outright.
func (m *Monitor) CheckHostMemory(warnPercent, critPercent float64) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		m.Update("host_memory", Unknown, fmt.Sprintf("sample failed: %v", err))
		return err
	}

	status := memStatus(vm.UsedPercent, warnPercent, critPercent)
	m.Update("host_memory", status, fmt.Sprintf("%.1f%% used", vm.UsedPercent))
	return nil
}

func memStatus(usedPercent, warnPercent, critPercent float64) Status {
	switch {
	case usedPercent >= critPercent:
		return Unhealthy
	case usedPercent >= warnPercent:
		return Degraded
	default:
		return Healthy
	}
}
