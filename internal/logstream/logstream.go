// Package logstream buffers and fans out captured bot output and serves
// paged reads of the per-bot log files.
package logstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/loykin/botvisr/internal/logger"
	"github.com/loykin/botvisr/internal/process"
)

const (
	DefaultBufferSize = 100
	// subscriberBuffer is the channel capacity of a subscription; a full
	// channel drops lines for that subscriber only.
	subscriberBuffer = 256
	maxLineBytes     = 1 << 20
)

// Hub implements process.LineSink.
type Hub struct {
	files logger.FileConfig
	size  int

	mu   sync.Mutex
	bots map[string]*botLog
}

var _ process.LineSink = (*Hub)(nil)

type botLog struct {
	buf   []process.Line
	start int
	count int
	subs  map[*Subscription]struct{}
}

func (b *botLog) add(l process.Line) {
	if b.count < len(b.buf) {
		b.buf[b.count] = l
		b.count++
		return
	}
	b.buf[b.start] = l
	b.start = (b.start + 1) % len(b.buf)
}

func (b *botLog) lines() []process.Line {
	out := make([]process.Line, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.buf[(b.start+i)%len(b.buf)])
	}
	return out
}

// Subscription receives live lines of one bot on C until Close.
type Subscription struct {
	C <-chan process.Line

	ch      chan process.Line
	hub     *Hub
	botID   string
	dropped int
	once    sync.Once
}

// Dropped reports how many lines were skipped because the consumer lagged.
func (s *Subscription) Dropped() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if b, ok := s.hub.bots[s.botID]; ok {
			if _, live := b.subs[s]; live {
				delete(b.subs, s)
				close(s.ch)
			}
		}
		s.hub.mu.Unlock()
	})
}

// New creates a hub keeping bufferSize recent lines per bot. Files locate
// the on-disk logs written by the process handles.
func New(files logger.FileConfig, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{files: files, size: bufferSize, bots: make(map[string]*botLog)}
}

func (h *Hub) botLocked(id string) *botLog {
	b, ok := h.bots[id]
	if !ok {
		b = &botLog{buf: make([]process.Line, h.size), subs: make(map[*Subscription]struct{})}
		h.bots[id] = b
	}
	return b
}

// Deliver buffers l and hands it to every subscriber without blocking.
func (h *Hub) Deliver(l process.Line) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.botLocked(l.BotID)
	b.add(l)
	for s := range b.subs {
		select {
		case s.ch <- l:
		default:
			s.dropped++
		}
	}
}

// Recent returns the buffered lines of a bot, oldest first.
func (h *Hub) Recent(id string) []process.Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bots[id]
	if !ok {
		return nil
	}
	return b.lines()
}

// Subscribe starts a live feed of a bot's lines.
func (h *Hub) Subscribe(id string) *Subscription {
	ch := make(chan process.Line, subscriberBuffer)
	s := &Subscription{C: ch, ch: ch, hub: h, botID: id}
	h.mu.Lock()
	h.botLocked(id).subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Subscribers returns the number of live subscriptions of a bot.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.bots[id]; ok {
		return len(b.subs)
	}
	return 0
}

// Forget closes every subscription of a bot and drops its buffer.
func (h *Hub) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bots[id]
	if !ok {
		return
	}
	for s := range b.subs {
		close(s.ch)
	}
	delete(h.bots, id)
}

// Tail returns the last n lines of a bot's log file. A missing file yields
// no lines.
func (h *Hub) Tail(id string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	ring := make([]string, 0, n)
	err := h.scan(id, func(line string) bool {
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
		return true
	})
	return ring, err
}

// Read returns up to limit lines of a bot's log file after skipping offset.
func (h *Hub) Read(id string, offset, limit int) ([]string, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset must not be negative")
	}
	out := []string{}
	if limit <= 0 {
		return out, nil
	}
	i := 0
	err := h.scan(id, func(line string) bool {
		if i >= offset {
			out = append(out, line)
		}
		i++
		return len(out) < limit
	})
	return out, err
}

// Clear truncates a bot's log file and drops its buffered lines. It reports
// whether a file existed.
func (h *Hub) Clear(id string) (bool, error) {
	path, err := h.path(id)
	if err != nil {
		return false, err
	}
	h.mu.Lock()
	if b, ok := h.bots[id]; ok {
		b.start, b.count = 0, 0
	}
	h.mu.Unlock()
	if err := os.Truncate(path, 0); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (h *Hub) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid bot id %q", id)
	}
	return h.files.BotPath(id), nil
}

func (h *Hub) scan(id string, fn func(string) bool) error {
	path, err := h.path(id)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()
	return scanLines(f, fn)
}

func scanLines(r io.Reader, fn func(string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		raw := sc.Text()
		// a writer still holding its pre-truncate offset leaves a zero-filled gap
		line := strings.TrimLeft(raw, "\x00")
		if line == "" && raw != "" {
			continue
		}
		if !fn(line) {
			return nil
		}
	}
	return sc.Err()
}
