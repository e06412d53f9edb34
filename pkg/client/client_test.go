package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	bots := map[string]Bot{}
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	notFound := func(w http.ResponseWriter, id string) {
		reply(w, http.StatusNotFound, ErrorResponse{Error: "bot not found: " + id, Code: "not_found"})
	}
	mux.HandleFunc("POST /api/bots", func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		b := Bot{ID: "id-" + req.Name, Name: req.Name, Kind: req.Kind, Config: req.Config, Status: "stopped",
			AutoRestart: req.AutoRestart == nil || *req.AutoRestart, CreatedAt: time.Now().UTC()}
		bots[b.ID] = b
		reply(w, http.StatusCreated, b)
	})
	mux.HandleFunc("GET /api/bots", func(w http.ResponseWriter, r *http.Request) {
		out := []Bot{}
		for _, b := range bots {
			out = append(out, b)
		}
		reply(w, http.StatusOK, out)
	})
	mux.HandleFunc("GET /api/bots/status", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]ProcessStatus{}
		for id, b := range bots {
			if b.Status == "running" {
				out[id] = ProcessStatus{BotID: id, Alive: true, PID: b.ProcessID, Usage: &Usage{RAMMB: 10}}
			}
		}
		reply(w, http.StatusOK, out)
	})
	mux.HandleFunc("POST /api/bots/{id}/{op}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		b, ok := bots[id]
		if !ok {
			notFound(w, id)
			return
		}
		switch r.PathValue("op") {
		case "start", "restart":
			if r.PathValue("op") == "start" && b.Status == "running" {
				reply(w, http.StatusConflict, ErrorResponse{Error: "bot already running", Code: "already_running"})
				return
			}
			b.Status, b.ProcessID = "running", b.ProcessID+100
		case "stop":
			b.Status, b.ProcessID = "stopped", 0
			if r.URL.Query().Get("force") == "true" {
				b.Config = map[string]any{"forced": true}
			}
		}
		bots[id] = b
		reply(w, http.StatusOK, b)
	})
	mux.HandleFunc("GET /api/bots/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		b, ok := bots[r.PathValue("id")]
		if !ok {
			notFound(w, r.PathValue("id"))
			return
		}
		st := Status{Bot: b}
		if b.Status == "running" {
			st.Process = &ProcessStatus{BotID: b.ID, Alive: true, PID: b.ProcessID}
		}
		reply(w, http.StatusOK, st)
	})
	mux.HandleFunc("GET /api/bots/{id}/logs/tail", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"bot_id": r.PathValue("id"), "lines": []string{"n=" + r.URL.Query().Get("lines")}})
	})
	mux.HandleFunc("DELETE /api/bots/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if bots[id].Status == "running" {
			reply(w, http.StatusConflict, ErrorResponse{Error: "bot is active; stop it first", Code: "bot_active"})
			return
		}
		delete(bots, id)
		reply(w, http.StatusOK, map[string]bool{"ok": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLifecycle(t *testing.T) {
	srv := fakeDaemon(t)
	c := New(Config{BaseURL: srv.URL + "/api"})
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	no := false
	b, err := c.CreateBot(ctx, CreateRequest{Name: "alpha", Kind: "discord_bot",
		Config: map[string]any{"token": "x"}, AutoRestart: &no})
	require.NoError(t, err)
	assert.Equal(t, "id-alpha", b.ID)
	assert.False(t, b.AutoRestart)

	list, err := c.ListBots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	b, err = c.StartBot(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "running", b.Status)

	_, err = c.StartBot(ctx, b.ID)
	require.Error(t, err)
	assert.True(t, IsCode(err, "already_running"))

	st, err := c.Status(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, st.Process)
	assert.Equal(t, b.ProcessID, st.Process.PID)

	all, err := c.AllStatus(ctx)
	require.NoError(t, err)
	require.Contains(t, all, b.ID)
	assert.Equal(t, 10.0, all[b.ID].Usage.RAMMB)

	require.True(t, IsCode(c.DeleteBot(ctx, b.ID), "bot_active"))

	b, err = c.RestartBot(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 200, b.ProcessID)

	lines, err := c.Tail(ctx, b.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, []string{"n=25"}, lines)

	b, err = c.StopBot(ctx, b.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "stopped", b.Status)
	assert.Equal(t, true, b.Config["forced"])

	require.NoError(t, c.DeleteBot(ctx, b.ID))
}

func TestClientErrors(t *testing.T) {
	srv := fakeDaemon(t)
	c := New(Config{BaseURL: srv.URL + "/api"})

	_, err := c.StartBot(context.Background(), "missing")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Equal(t, "not_found", ae.Code)
	assert.Contains(t, ae.Error(), "not_found")

	// non-JSON error body
	_, err = New(Config{BaseURL: srv.URL + "/nope"}).ListBots(context.Background())
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Empty(t, ae.Code)
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.ListBots(context.Background())
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultConfig().BaseURL, c.baseURL)
	assert.Equal(t, DefaultConfig().Timeout, c.client.Timeout)
}
