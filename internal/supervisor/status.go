package supervisor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/botvisr/internal/metrics"
	"github.com/loykin/botvisr/internal/process"
)

// BotStatus is a live read of a tracked bot's process.
type BotStatus struct {
	BotID     string         `json:"bot_id"`
	Alive     bool           `json:"alive"`
	PID       int            `json:"pid,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	Uptime    time.Duration  `json:"-"`
	UptimeSec float64        `json:"uptime_seconds"`
	Usage     *process.Usage `json:"usage,omitempty"`
}

// GetBotStatus reads the live status of a bot. It reports false when the
// supervisor does not track the bot.
func (s *Supervisor) GetBotStatus(ctx context.Context, id string) (BotStatus, bool) {
	h := s.handle(id)
	if h == nil {
		return BotStatus{}, false
	}
	bs := BotStatus{BotID: id, Alive: h.IsRunning()}
	if pid, ok := h.PID(); ok {
		bs.PID = pid
	}
	if st, ok := h.StartTime(); ok {
		bs.StartedAt = st.UTC()
		bs.Uptime = time.Since(st)
		bs.UptimeSec = bs.Uptime.Truncate(time.Millisecond).Seconds()
	}
	if bs.Alive {
		bs.Usage = s.sample(ctx, id, h)
	}
	return bs, true
}

// sample coalesces concurrent resource reads of one bot. The shared read is
// detached from the first caller so its cancellation does not fail the others.
func (s *Supervisor) sample(ctx context.Context, id string, h *process.Handle) *process.Usage {
	v, _, _ := s.sampleG.Do(id, func() (any, error) {
		u, ok := h.ResourceUsage(context.WithoutCancel(ctx))
		if !ok {
			return (*process.Usage)(nil), nil
		}
		return &u, nil
	})
	u, _ := v.(*process.Usage)
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// GetAllBotsStatus reads every tracked bot concurrently.
func (s *Supervisor) GetAllBotsStatus(ctx context.Context) map[string]BotStatus {
	ids := s.TrackedIDs()
	out := make(map[string]BotStatus, len(ids))
	var mu sync.Mutex
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if bs, ok := s.GetBotStatus(ctx, id); ok {
				mu.Lock()
				out[id] = bs
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ResourceSamples adapts GetAllBotsStatus for metrics.ResourceCollector.
func (s *Supervisor) ResourceSamples(ctx context.Context) map[string]metrics.Sample {
	now := time.Now()
	out := make(map[string]metrics.Sample)
	for id, bs := range s.GetAllBotsStatus(ctx) {
		if !bs.Alive || bs.Usage == nil {
			continue
		}
		out[id] = metrics.Sample{PID: bs.PID, CPUPercent: bs.Usage.CPUPercent, RAMMB: bs.Usage.RAMMB, Timestamp: now}
	}
	return out
}
