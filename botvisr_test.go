package botvisr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/loykin/botvisr/internal/config"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func testConfig(t *testing.T, store string) *Config {
	t.Helper()
	dir := t.TempDir()
	c := DefaultConfig()
	c.Paths.BotsDir = dir
	c.Paths.LogsDir = filepath.Join(dir, "logs")
	c.Store.DSN = store
	c.History = []cfg.HistoryConfig{{DSN: "sqlite://" + filepath.Join(dir, "history.db")}}
	c.Supervisor.PollInterval = 50 * time.Millisecond
	c.Supervisor.RestartPause = 0
	c.Metrics.CollectInterval = 50 * time.Millisecond
	c.Kinds = map[string]cfg.KindConfig{
		"telegram_bot": {Command: []string{"/bin/sh", "-c", "echo up; exec sleep 30"}},
	}
	c.Env = []string{"TOKEN=from-operator"}
	return c
}

func TestDaemonLifecycle(t *testing.T) {
	requireUnix(t)
	c := testConfig(t, "sqlite://"+filepath.Join(t.TempDir(), "bots.db"))
	d, err := New(c, nil)
	require.NoError(t, err)

	ctx := context.Background()
	rec := Record{Name: "relay", Kind: "telegram_bot", AutoRestart: true}
	require.NoError(t, d.Store.Create(ctx, &rec))

	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Supervisor.StartBot(ctx, rec.ID))

	h := d.Handler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bots/"+rec.ID+"/status", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var st struct {
		Bot     Record     `json:"bot"`
		Process *BotStatus `json:"process"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, StatusRunning, st.Bot.Status)
	require.NotNil(t, st.Process)
	assert.True(t, st.Process.Alive)

	require.Eventually(t, func() bool {
		_, ok := d.Resources.Latest(rec.ID)
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, d.Close(ctx))

	// reopen the persisted store
	d2, err := New(c, nil)
	require.NoError(t, err)
	defer func() { _ = d2.Close(ctx) }()
	got, err := d2.Store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Zero(t, got.ProcessID)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	c := testConfig(t, "memory://")
	c.Supervisor.PollInterval = 0
	_, err := New(c, nil)
	require.Error(t, err)

	c = testConfig(t, "mysql://nope")
	_, err = New(c, nil)
	require.Error(t, err)

	c = testConfig(t, "memory://")
	c.History = []cfg.HistoryConfig{{DSN: "kafka://broker"}}
	_, err = New(c, nil)
	require.Error(t, err)
}
