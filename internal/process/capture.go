package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level tags a captured line with the stream it came from.
type Level string

const (
	LevelInfo  Level = "INFO"  // stdout
	LevelError Level = "ERROR" // stderr
)

// Line is one line of child output.
type Line struct {
	BotID string    `json:"bot_id"`
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// LineSink receives captured lines in the order each stream produced them.
// Deliver must not block for long; it runs on the capture goroutine.
type LineSink interface {
	Deliver(Line)
}

// logDest is the per-bot log file. Both capture loops write through it, and
// cleanup may close it while they are still draining.
type logDest struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (d *logDest) writeLine(level Level, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	_, _ = fmt.Fprintf(d.w, "[%s] %s\n", level, text)
}

func (d *logDest) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	_ = d.w.Close()
}

// capture reads r line by line until EOF or a read error, which ends only
// this loop.
func (h *Handle) capture(r *os.File, level Level, dest *logDest) {
	defer h.captureWG.Done()
	defer func() { _ = r.Close() }()

	slogLevel := slog.LevelInfo
	if level == LevelError {
		slogLevel = slog.LevelError
	}
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if raw != "" {
			text := strings.TrimRight(raw, "\r\n")
			dest.writeLine(level, text)
			h.log.Log(context.Background(), slogLevel, text, "bot", h.rec.Name)
			if h.opts.Sink != nil {
				h.opts.Sink.Deliver(Line{BotID: h.rec.ID, Level: level, Text: text, Time: time.Now()})
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				h.log.Debug("output capture ended", "bot", h.rec.Name, "level", level, "error", err)
			}
			return
		}
	}
}
