package stresstest

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSample is the load of the machine driving the test
type HostSample struct {
	CPUPercent float64
	MemPercent float64
}

// SampleHost reads host usage. The CPU figure covers the time since the
// previous call, so a first call at run start primes the measurement for the
// call at the end. Unavailable figures stay at zero.
func SampleHost() HostSample {
	var s HostSample

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		s.CPUPercent = cpuPercent[0]
	}

	if memStats, err := mem.VirtualMemory(); err == nil && memStats != nil {
		s.MemPercent = memStats.UsedPercent
	}

	return s
}
