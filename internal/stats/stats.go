// Package stats reports host resource usage and per-bot figures for the
// dashboard endpoints.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/store"
	"github.com/loykin/botvisr/internal/supervisor"
)

const mb = 1024 * 1024

// Tracker is the part of the supervisor the collector reads.
type Tracker interface {
	GetAllBotsStatus(ctx context.Context) map[string]supervisor.BotStatus
}

// SystemStats is a host snapshot plus bot counts.
type SystemStats struct {
	CPUPercent  float64   `json:"cpu_percent"`
	RAMUsedMB   float64   `json:"ram_used_mb"`
	RAMTotalMB  float64   `json:"ram_total_mb"`
	RAMPercent  float64   `json:"ram_percent"`
	DiskUsedGB  float64   `json:"disk_used_gb"`
	DiskTotalGB float64   `json:"disk_total_gb"`
	DiskPercent float64   `json:"disk_percent"`
	NetSentMB   float64   `json:"net_sent_mb"`
	NetRecvMB   float64   `json:"net_recv_mb"`
	Bots        Counts    `json:"bots"`
	Timestamp   time.Time `json:"timestamp"`
}

// Counts groups bot records by status.
type Counts struct {
	Total    int `json:"total"`
	Running  int `json:"running"`
	Stopped  int `json:"stopped"`
	Crashed  int `json:"crashed"`
	Starting int `json:"starting"`
	Stopping int `json:"stopping"`
}

// BotStats describes one tracked bot.
type BotStats struct {
	BotID      string     `json:"bot_id"`
	Name       string     `json:"name"`
	Kind       bot.Kind   `json:"kind"`
	Status     bot.Status `json:"status"`
	PID        int        `json:"pid"`
	CPUPercent float64    `json:"cpu_percent"`
	RAMMB      float64    `json:"ram_mb"`
	UptimeSec  float64    `json:"uptime_seconds"`
}

// AggregateStats sums the tracked bots.
type AggregateStats struct {
	Counts
	TotalCPUPercent float64 `json:"total_cpu_percent"`
	TotalRAMMB      float64 `json:"total_ram_mb"`
	AvgUptimeSec    float64 `json:"avg_uptime_seconds"`
}

type Collector struct {
	tracker  Tracker
	store    store.Store
	diskPath string
	log      *slog.Logger
}

// New returns a collector. Disk usage is read for the filesystem holding
// diskPath (the bots directory in practice).
func New(tr Tracker, st store.Store, diskPath string, log *slog.Logger) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Collector{tracker: tr, store: st, diskPath: diskPath, log: log}
	// prime the cpu counters; later zero-interval reads measure since the previous call
	_, _ = cpu.Percent(0, false)
	return c
}

// System samples the host. Probe failures leave their fields zero; only a
// store failure is returned.
func (c *Collector) System(ctx context.Context) (SystemStats, error) {
	out := SystemStats{Timestamp: time.Now().UTC()}
	if p, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		c.log.Warn("cpu stats", "error", err)
	} else if len(p) > 0 {
		out.CPUPercent = round2(p[0])
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.log.Warn("memory stats", "error", err)
	} else {
		out.RAMUsedMB = round2(float64(vm.Used) / mb)
		out.RAMTotalMB = round2(float64(vm.Total) / mb)
		out.RAMPercent = round2(vm.UsedPercent)
	}
	if du, err := disk.UsageWithContext(ctx, c.diskPath); err != nil {
		c.log.Warn("disk stats", "path", c.diskPath, "error", err)
	} else {
		out.DiskUsedGB = round2(float64(du.Used) / (mb * 1024))
		out.DiskTotalGB = round2(float64(du.Total) / (mb * 1024))
		out.DiskPercent = round2(du.UsedPercent)
	}
	if io, err := psnet.IOCountersWithContext(ctx, false); err != nil {
		c.log.Warn("network stats", "error", err)
	} else if len(io) > 0 {
		out.NetSentMB = round2(float64(io[0].BytesSent) / mb)
		out.NetRecvMB = round2(float64(io[0].BytesRecv) / mb)
	}

	counts, _, err := c.counts(ctx)
	if err != nil {
		return out, err
	}
	out.Bots = counts
	return out, nil
}

func (c *Collector) counts(ctx context.Context) (Counts, map[string]bot.Record, error) {
	recs, err := c.store.List(ctx)
	if err != nil {
		return Counts{}, nil, fmt.Errorf("list bots: %w", err)
	}
	var n Counts
	byID := make(map[string]bot.Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
		n.Total++
		switch r.Status {
		case bot.StatusRunning:
			n.Running++
		case bot.StatusStopped:
			n.Stopped++
		case bot.StatusCrashed:
			n.Crashed++
		case bot.StatusStarting:
			n.Starting++
		case bot.StatusStopping:
			n.Stopping++
		}
	}
	return n, byID, nil
}

// Bots lists every tracked bot ordered by name.
func (c *Collector) Bots(ctx context.Context) ([]BotStats, error) {
	_, byID, err := c.counts(ctx)
	if err != nil {
		return nil, err
	}
	return c.bots(ctx, byID), nil
}

func (c *Collector) bots(ctx context.Context, byID map[string]bot.Record) []BotStats {
	statuses := c.tracker.GetAllBotsStatus(ctx)
	out := make([]BotStats, 0, len(statuses))
	for id, bs := range statuses {
		b := BotStats{BotID: id, PID: bs.PID, UptimeSec: bs.UptimeSec}
		if rec, ok := byID[id]; ok {
			b.Name, b.Kind, b.Status = rec.Name, rec.Kind, rec.Status
		}
		if bs.Usage != nil {
			b.CPUPercent = bs.Usage.CPUPercent
			b.RAMMB = bs.Usage.RAMMB
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].BotID < out[j].BotID
	})
	return out
}

// Aggregate combines store counts with the usage of tracked bots.
func (c *Collector) Aggregate(ctx context.Context) (AggregateStats, error) {
	counts, byID, err := c.counts(ctx)
	if err != nil {
		return AggregateStats{}, err
	}
	agg := AggregateStats{Counts: counts}
	bots := c.bots(ctx, byID)
	var uptime float64
	for _, b := range bots {
		agg.TotalCPUPercent += b.CPUPercent
		agg.TotalRAMMB += b.RAMMB
		uptime += b.UptimeSec
	}
	agg.TotalCPUPercent = round2(agg.TotalCPUPercent)
	agg.TotalRAMMB = round2(agg.TotalRAMMB)
	if len(bots) > 0 {
		agg.AvgUptimeSec = round2(uptime / float64(len(bots)))
	}
	return agg, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
