package bot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("irc_bot")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestRegistryResolveAndOverride(t *testing.T) {
	r := DefaultRegistry()
	ep, err := r.Resolve(KindTelegramBot)
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "examples/telegram_bot.py"}, ep.Command)
	assert.Equal(t, "examples/telegram_bot.py", ep.Script)

	require.NoError(t, r.Override(KindTelegramBot, []string{"/bin/sh", "-c", "sleep 1"}, nil))
	ep, err = r.Resolve(KindTelegramBot)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "sleep 1"}, ep.Command)
	assert.Equal(t, [][]string{{"TOKEN", "BOT_TOKEN"}}, ep.RequiredEnv, "requirements kept")
	assert.Empty(t, ep.Script)

	assert.ErrorIs(t, r.Override("nope", []string{"x"}, nil), ErrUnknownKind)
	assert.Error(t, r.Override(KindDiscordBot, nil, nil))

	_, err = Registry{}.Resolve(KindDiscordBot)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEntrypointCheck(t *testing.T) {
	r := DefaultRegistry()

	lookup := func(m map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) { v, ok := m[k]; return v, ok }
	}

	assert.NoError(t, r[KindTelegramBot].Check(lookup(map[string]string{"BOT_TOKEN": "x"})))
	assert.NoError(t, r[KindDiscordBot].Check(lookup(map[string]string{"TOKEN": "x"})))

	err := r[KindDiscordBot].Check(lookup(map[string]string{"TOKEN": "  "}))
	assert.ErrorIs(t, err, ErrMissingConfig)

	err = r[KindTelegramUserbot].Check(lookup(map[string]string{"API_ID": "1", "API_HASH": "h"}))
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "PHONE")
}

func TestEntrypointCheckScript(t *testing.T) {
	dir := t.TempDir()
	ep := DefaultRegistry()[KindDiscordBot]
	assert.ErrorIs(t, ep.CheckScript(dir), ErrMissingEntrypoint)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "examples"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ep.Script), []byte("print()\n"), 0o644))
	assert.NoError(t, ep.CheckScript(dir))
	assert.NoError(t, Entrypoint{}.CheckScript(dir))
}

func TestRecordEnvConfig(t *testing.T) {
	r := Record{Config: map[string]any{
		"token":    "abc",
		"api_id":   json.Number("12345"),
		"ratio":    json.Number("1.0"),
		"scale":    float64(2),
		"debug":    true,
		"admins":   []any{json.Number("1"), "ops", false},
		"limits":   map[string]any{"b": nil, "a": json.Number("2.5")},
		"optional": nil,
	}}
	env := r.EnvConfig()
	assert.Equal(t, "abc", env["TOKEN"])
	assert.Equal(t, "12345", env["API_ID"])
	assert.Equal(t, "1.0", env["RATIO"])
	assert.Equal(t, "2.0", env["SCALE"])
	assert.Equal(t, "True", env["DEBUG"])
	assert.Equal(t, "[1, 'ops', False]", env["ADMINS"])
	assert.Equal(t, "{'a': 2.5, 'b': None}", env["LIMITS"])
	assert.Equal(t, "None", env["OPTIONAL"])
	assert.Equal(t, []string{"admins", "api_id", "debug", "limits", "optional", "ratio", "scale", "token"}, r.ConfigKeys())
}

func TestPythonFormatting(t *testing.T) {
	cases := map[any]string{
		false:              "False",
		float64(0):         "0.0",
		0.1:                "0.1",
		-3.25:              "-3.25",
		1e16:               "1e+16",
		1234567.0:          "1234567.0",
		0.00001:            "1e-05",
		json.Number("1e2"): "100.0",
		json.Number("-7"):  "-7",
		"it's":             `"it's"`,
	}
	for in, want := range cases {
		assert.Equal(t, want, pyRepr(in), "%#v", in)
	}
	assert.Equal(t, "plain", stringify("plain"))
}

func TestRecordValidate(t *testing.T) {
	ok := Record{Name: "alpha", Kind: KindDiscordBot, Config: map[string]any{"token": "x"}}
	assert.NoError(t, ok.Validate())

	noName := ok
	noName.Name = " "
	assert.Error(t, noName.Validate())

	badKind := ok
	badKind.Kind = "slack"
	assert.ErrorIs(t, badKind.Validate(), ErrUnknownKind)

	badKey := ok
	badKey.Config = map[string]any{"A=B": "x"}
	assert.Error(t, badKey.Validate())
}

func TestStatus(t *testing.T) {
	for _, s := range Statuses() {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("zombie")
	assert.Error(t, err)

	assert.True(t, StatusStarting.Active())
	assert.True(t, StatusRunning.Active())
	assert.True(t, StatusStopping.Active())
	assert.False(t, StatusStopped.Active())
	assert.False(t, StatusCrashed.Active())
}
