package process

import (
	"context"
	"math"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// DefaultSampleInterval is the CPU measurement window.
const DefaultSampleInterval = 100 * time.Millisecond

// Usage is a point-in-time resource reading of a child process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMMB      float64 `json:"ram_mb"`
}

// Sampler reads resource usage of a pid from the OS process table.
type Sampler interface {
	Sample(ctx context.Context, pid int) (Usage, error)
}

// PsSampler samples through gopsutil. CPU is measured over Interval so the
// value is a current rate rather than a lifetime average.
type PsSampler struct {
	Interval time.Duration
}

func (s PsSampler) Sample(ctx context.Context, pid int) (Usage, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, err
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	cpu, err := p.PercentWithContext(ctx, interval)
	if err != nil {
		return Usage{}, err
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		CPUPercent: round2(cpu),
		RAMMB:      round2(float64(mem.RSS) / 1024 / 1024),
	}, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
