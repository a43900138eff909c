package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.WindowOptions(), 4)
	assert.Len(t, cfg.RendererOptions(), 3)
	assert.Len(t, cfg.EngineOptions(), 6)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[window]
title = "sprites"
width = 800

[render]
present_mode = "uncapped"
msaa = 1
clear_color = [0.0, 0.0, 0.2, 1.0]

[engine]
tick_rate = 30
profiling = true
profile_interval = "500ms"
`))
	require.NoError(t, err)

	assert.Equal(t, "sprites", cfg.Window.Title)
	assert.Equal(t, 800, cfg.Window.Width)
	assert.Equal(t, 720, cfg.Window.Height, "unset keys keep their defaults")
	assert.Equal(t, "uncapped", cfg.Render.PresentMode)
	assert.Equal(t, 1, cfg.Render.MSAA)
	assert.Equal(t, [4]float64{0, 0, 0.2, 1}, cfg.Render.ClearColor)
	assert.InDelta(t, 30.0, cfg.Engine.TickRate, 0)
	assert.True(t, cfg.Engine.Profiling)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[window]\ntitel = \"typo\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "titel")
}

func TestParseReportsSyntaxPosition(t *testing.T) {
	_, err := Parse([]byte("[window]\nwidth = \n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Window.Width = 0
	cfg.Render.PresentMode = "fast"
	cfg.Render.MSAA = 3
	cfg.Render.ClearColor[3] = 2
	cfg.Engine.TickRate = 0
	cfg.Engine.ProfileInterval = "soon"
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"window size", "present_mode", "msaa", "clear_color[3]", "tick_rate", "profile_interval", "log.level", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	cfg := Default()
	cfg.Window.Title = "saved"
	cfg.Render.FrameLimit = 144
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	l := cfg.NewLogger(&out)
	l.Info("hidden")
	l.Warn("shown", "k", 1)

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"msg":"shown"`)
	assert.True(t, l.Enabled(t.Context(), slog.LevelError))
}
