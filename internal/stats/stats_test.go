package stats

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/process"
	"github.com/loykin/botvisr/internal/store"
	"github.com/loykin/botvisr/internal/store/memory"
	"github.com/loykin/botvisr/internal/supervisor"
)

type fakeTracker map[string]supervisor.BotStatus

func (f fakeTracker) GetAllBotsStatus(context.Context) map[string]supervisor.BotStatus { return f }

type failingStore struct{ *memory.Store }

func (failingStore) List(context.Context) ([]bot.Record, error) { return nil, errors.New("db down") }

func seed(st *memory.Store) {
	st.Put(bot.Record{ID: "a", Name: "alpha", Kind: bot.KindDiscordBot, Status: bot.StatusRunning, ProcessID: 11})
	st.Put(bot.Record{ID: "b", Name: "beta", Kind: bot.KindTelegramBot, Status: bot.StatusRunning, ProcessID: 12})
	st.Put(bot.Record{ID: "c", Name: "gamma", Kind: bot.KindTelegramBot, Status: bot.StatusCrashed})
	st.Put(bot.Record{ID: "d", Name: "delta", Kind: bot.KindDiscordBot, Status: bot.StatusStopped})
}

func tracker() fakeTracker {
	return fakeTracker{
		"a": {BotID: "a", Alive: true, PID: 11, UptimeSec: 100,
			Usage: &process.Usage{CPUPercent: 2.5, RAMMB: 40}},
		"b": {BotID: "b", Alive: true, PID: 12, UptimeSec: 300,
			Usage: &process.Usage{CPUPercent: 1.25, RAMMB: 60.5}},
	}
}

func TestBots(t *testing.T) {
	st := memory.New()
	seed(st)
	c := New(tracker(), st, t.TempDir(), nil)

	bots, err := c.Bots(context.Background())
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "alpha", bots[0].Name)
	assert.Equal(t, bot.KindDiscordBot, bots[0].Kind)
	assert.Equal(t, bot.StatusRunning, bots[0].Status)
	assert.Equal(t, 2.5, bots[0].CPUPercent)
	assert.Equal(t, "beta", bots[1].Name)
	assert.Equal(t, 60.5, bots[1].RAMMB)
}

func TestAggregate(t *testing.T) {
	st := memory.New()
	seed(st)
	c := New(tracker(), st, t.TempDir(), nil)

	agg, err := c.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, agg.Total)
	assert.Equal(t, 2, agg.Running)
	assert.Equal(t, 1, agg.Stopped)
	assert.Equal(t, 1, agg.Crashed)
	assert.Equal(t, 3.75, agg.TotalCPUPercent)
	assert.Equal(t, 100.5, agg.TotalRAMMB)
	assert.Equal(t, 200.0, agg.AvgUptimeSec)
}

func TestAggregateWithoutTrackedBots(t *testing.T) {
	c := New(fakeTracker{}, memory.New(), t.TempDir(), nil)
	agg, err := c.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, agg.Total)
	assert.Zero(t, agg.AvgUptimeSec)
}

func TestSystem(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("host stats are exercised on linux and darwin")
	}
	st := memory.New()
	seed(st)
	c := New(tracker(), st, t.TempDir(), nil)

	s, err := c.System(context.Background())
	require.NoError(t, err)
	assert.Positive(t, s.RAMTotalMB)
	assert.LessOrEqual(t, s.RAMUsedMB, s.RAMTotalMB)
	assert.Positive(t, s.DiskTotalGB)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
	assert.Equal(t, Counts{Total: 4, Running: 2, Stopped: 1, Crashed: 1}, s.Bots)
	assert.False(t, s.Timestamp.IsZero())
}

func TestStoreFailure(t *testing.T) {
	c := New(tracker(), failingStore{memory.New()}, t.TempDir(), nil)
	_, err := c.System(context.Background())
	require.Error(t, err)
	_, err = c.Bots(context.Background())
	require.Error(t, err)
	_, err = c.Aggregate(context.Background())
	require.Error(t, err)
}

var _ store.Store = failingStore{}
