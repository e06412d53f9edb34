package logstream

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botvisr/internal/logger"
	"github.com/loykin/botvisr/internal/process"
)

func line(id, text string) process.Line {
	return process.Line{BotID: id, Level: process.LevelInfo, Text: text, Time: time.Now()}
}

func writeLog(t *testing.T, dir, id string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[INFO] line %d\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".log"), []byte(b.String()), 0o644))
}

func TestRecentKeepsLastLines(t *testing.T) {
	h := New(logger.FileConfig{Dir: t.TempDir()}, 3)
	for i := 0; i < 5; i++ {
		h.Deliver(line("b1", fmt.Sprintf("l%d", i)))
	}
	h.Deliver(line("b2", "other"))

	got := h.Recent("b1")
	require.Len(t, got, 3)
	assert.Equal(t, "l2", got[0].Text)
	assert.Equal(t, "l4", got[2].Text)
	assert.Len(t, h.Recent("b2"), 1)
	assert.Nil(t, h.Recent("none"))
}

func TestSubscribeReceivesInOrder(t *testing.T) {
	h := New(logger.FileConfig{Dir: t.TempDir()}, 10)
	sub := h.Subscribe("b1")
	defer sub.Close()
	other := h.Subscribe("b2")
	defer other.Close()

	for i := 0; i < 20; i++ {
		h.Deliver(line("b1", fmt.Sprintf("l%d", i)))
	}
	for i := 0; i < 20; i++ {
		select {
		case l := <-sub.C:
			assert.Equal(t, fmt.Sprintf("l%d", i), l.Text)
		case <-time.After(time.Second):
			t.Fatalf("line %d not delivered", i)
		}
	}
	select {
	case l := <-other.C:
		t.Fatalf("unexpected line for b2: %+v", l)
	default:
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	h := New(logger.FileConfig{Dir: t.TempDir()}, 10)
	sub := h.Subscribe("b1")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+50; i++ {
			h.Deliver(line("b1", "x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a slow subscriber")
	}
	assert.Equal(t, 50, sub.Dropped())
}

func TestCloseAndForget(t *testing.T) {
	h := New(logger.FileConfig{Dir: t.TempDir()}, 10)
	a := h.Subscribe("b1")
	b := h.Subscribe("b1")
	assert.Equal(t, 2, h.Subscribers("b1"))

	a.Close()
	a.Close()
	_, open := <-a.C
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers("b1"))

	h.Forget("b1")
	_, open = <-b.C
	assert.False(t, open)
	b.Close()
	assert.Equal(t, 0, h.Subscribers("b1"))
	assert.Nil(t, h.Recent("b1"))
}

func TestTailAndRead(t *testing.T) {
	dir := t.TempDir()
	h := New(logger.FileConfig{Dir: dir}, 10)
	writeLog(t, dir, "b1", 10)

	tail, err := h.Tail("b1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"[INFO] line 7", "[INFO] line 8", "[INFO] line 9"}, tail)

	all, err := h.Tail("b1", 100)
	require.NoError(t, err)
	assert.Len(t, all, 10)

	page, err := h.Read("b1", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"[INFO] line 2", "[INFO] line 3", "[INFO] line 4"}, page)

	page, err = h.Read("b1", 8, 5)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = h.Read("b1", 50, 5)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = h.Read("b1", -1, 5)
	assert.Error(t, err)

	missing, err := h.Tail("nope", 5)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = h.Tail("../etc", 5)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	h := New(logger.FileConfig{Dir: dir}, 10)
	writeLog(t, dir, "b1", 5)
	h.Deliver(line("b1", "buffered"))

	ok, err := h.Clear("b1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, h.Recent("b1"))

	lines, err := h.Tail("b1", 10)
	require.NoError(t, err)
	assert.Empty(t, lines)

	ok, err = h.Clear("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanSkipsTruncationGap(t *testing.T) {
	var got []string
	err := scanLines(strings.NewReader("\x00\x00\x00\n\x00\x00after clear\nnext\n"), func(s string) bool {
		got = append(got, s)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"after clear", "next"}, got)
}
