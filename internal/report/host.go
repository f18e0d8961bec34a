package report

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Host describes the machine generating load. A saturated client skews
// latency figures, so the report carries CPU use over the run.
type Host struct {
	Hostname    string  `yaml:"hostname"`
	Platform    string  `yaml:"platform"`
	CPUs        int     `yaml:"cpus"`
	CPUPercent  float64 `yaml:"cpu_percent"`
	MemoryTotal uint64  `yaml:"memory_total"`
	MemoryUsed  float64 `yaml:"memory_used_percent"`
}

// HostProbe measures client CPU use between Start and Finish.
type HostProbe struct{}

// StartHostProbe records the CPU times the run is measured against.
func StartHostProbe(ctx context.Context) *HostProbe {
	_, _ = cpu.PercentWithContext(ctx, 0, false)
	return &HostProbe{}
}

// Finish returns host details and CPU use since StartHostProbe. Fields that
// cannot be read are left zero.
func (p *HostProbe) Finish(ctx context.Context) *Host {
	h := &Host{CPUs: runtime.NumCPU(), Platform: runtime.GOOS + "/" + runtime.GOARCH}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		h.CPUPercent = pct[0]
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Hostname = info.Hostname
		if info.Platform != "" {
			h.Platform = info.Platform + " " + info.PlatformVersion
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemoryTotal = vm.Total
		h.MemoryUsed = vm.UsedPercent
	}
	return h
}
