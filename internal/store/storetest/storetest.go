// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/store"
)

// Run exercises s, which must be empty and have its schema in place.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	a := bot.Record{Name: "alpha", Kind: bot.KindTelegramBot, AutoRestart: true,
		Config: map[string]any{"token": "t1", "admins": []any{"1", "2"}}}
	require.NoError(t, s.Create(ctx, &a))
	require.NotEmpty(t, a.ID)
	assert.Equal(t, bot.StatusStopped, a.Status)
	assert.False(t, a.CreatedAt.IsZero())

	b := bot.Record{ID: "fixed-id", Name: "beta", Kind: bot.KindDiscordBot}
	require.NoError(t, s.Create(ctx, &b))
	assert.Equal(t, "fixed-id", b.ID)

	dup := bot.Record{Name: "alpha", Kind: bot.KindDiscordBot}
	assert.ErrorIs(t, s.Create(ctx, &dup), store.ErrConflict)

	bad := bot.Record{Name: "gamma", Kind: "irc"}
	assert.ErrorIs(t, s.Create(ctx, &bad), bot.ErrUnknownKind)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, bot.KindTelegramBot, got.Kind)
	assert.Equal(t, "t1", got.Config["token"])
	assert.Equal(t, []any{"1", "2"}, got.Config["admins"])
	assert.True(t, got.AutoRestart)
	assert.Nil(t, got.LastStartedAt)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// state updates touch only supervisor columns
	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateState(ctx, a.ID, bot.State{
		Status: bot.StatusRunning, ProcessID: 4242, RestartCount: 2, LastStartedAt: &started,
	}))
	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, bot.StatusRunning, got.Status)
	assert.Equal(t, 4242, got.ProcessID)
	assert.Equal(t, 2, got.RestartCount)
	require.NotNil(t, got.LastStartedAt)
	assert.True(t, started.Equal(*got.LastStartedAt), "started %v got %v", started, *got.LastStartedAt)
	assert.Equal(t, "t1", got.Config["token"])

	assert.ErrorIs(t, s.UpdateState(ctx, "missing", bot.State{Status: bot.StatusStopped}), store.ErrNotFound)

	// UpdateSpec leaves state alone
	got.Name = "alpha-2"
	got.AutoRestart = false
	got.Config = map[string]any{"token": "t2"}
	got.Status = bot.StatusStopped
	require.NoError(t, s.UpdateSpec(ctx, got))
	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha-2", got.Name)
	assert.False(t, got.AutoRestart)
	assert.Equal(t, "t2", got.Config["token"])
	assert.Equal(t, bot.StatusRunning, got.Status)

	got.Name = "beta"
	assert.ErrorIs(t, s.UpdateSpec(ctx, got), store.ErrConflict)

	running, err := s.ListByStatus(ctx, bot.StatusRunning, bot.StatusStarting)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, a.ID, running[0].ID)

	none, err := s.ListByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, b.ID))
	assert.ErrorIs(t, s.Delete(ctx, b.ID), store.ErrNotFound)
	all, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
