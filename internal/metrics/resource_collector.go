package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sample is one CPU/RAM observation of a bot process.
type Sample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RAMMB      float64   `json:"ram_mb"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleFunc returns the current usage of every running bot keyed by bot id.
type SampleFunc func(ctx context.Context) map[string]Sample

// ResourceConfig holds configuration for resource collection.
type ResourceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"collect_interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ring is a fixed-size circular buffer of samples.
type ring struct {
	buf   []Sample
	start int
	count int
}

func (r *ring) add(s Sample) {
	if r.count < len(r.buf) {
		r.buf[r.count] = s
		r.count++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) latest() (Sample, bool) {
	if r.count == 0 {
		return Sample{}, false
	}
	if r.count < len(r.buf) {
		return r.buf[r.count-1], true
	}
	return r.buf[(r.start-1+len(r.buf))%len(r.buf)], true
}

// ordered returns samples oldest first.
func (r *ring) ordered() []Sample {
	out := make([]Sample, r.count)
	if r.count < len(r.buf) {
		copy(out, r.buf[:r.count])
		return out
	}
	n := copy(out, r.buf[r.start:])
	copy(out[n:], r.buf[:r.start])
	return out
}

// ResourceCollector periodically samples running bots, exports the
// cpu_percent and ram_mb gauges and keeps a bounded history per bot.
type ResourceCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	history map[string]*ring

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	ramMB      *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourceConfig) *ResourceCollector {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &ResourceCollector{
		enabled:    cfg.Enabled,
		interval:   cfg.Interval,
		maxHistory: cfg.MaxHistory,
		history:    make(map[string]*ring),
		stopCh:     make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "botvisr",
				Subsystem: "bot",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of running bots.",
			}, []string{"bot"},
		),
		ramMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "botvisr",
				Subsystem: "bot",
				Name:      "ram_mb",
				Help:      "Resident memory in MB of running bots.",
			}, []string{"bot"},
		),
	}
}

// RegisterMetrics registers the resource gauges with r.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	for _, collector := range []prometheus.Collector{c.cpuPercent, c.ramMB} {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (c *ResourceCollector) IsEnabled() bool { return c.enabled }

// Start begins periodic collection until ctx is cancelled or Stop is called.
func (c *ResourceCollector) Start(ctx context.Context, sample SampleFunc) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(sample(ctx))
			}
		}
	}()
}

func (c *ResourceCollector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect records one round of samples. Bots missing from samples are no
// longer running: their gauges and history are dropped.
func (c *ResourceCollector) Collect(samples map[string]Sample) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range samples {
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		c.cpuPercent.WithLabelValues(id).Set(s.CPUPercent)
		c.ramMB.WithLabelValues(id).Set(s.RAMMB)
		r, ok := c.history[id]
		if !ok {
			r = &ring{buf: make([]Sample, c.maxHistory)}
			c.history[id] = r
		}
		r.add(s)
	}
	for id := range c.history {
		if _, ok := samples[id]; !ok {
			delete(c.history, id)
			c.cpuPercent.DeleteLabelValues(id)
			c.ramMB.DeleteLabelValues(id)
		}
	}
}

// Latest returns the most recent sample of a bot.
func (c *ResourceCollector) Latest(id string) (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.history[id]
	if !ok {
		return Sample{}, false
	}
	return r.latest()
}

// History returns the recorded samples of a bot in chronological order.
func (c *ResourceCollector) History(id string) ([]Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.history[id]
	if !ok || r.count == 0 {
		return nil, false
	}
	return r.ordered(), true
}
