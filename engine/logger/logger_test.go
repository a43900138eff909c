package logger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerDefaultSilent(t *testing.T) {
	l := Logger()
	require.NotNil(t, l)
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		assert.False(t, l.Enabled(context.Background(), level), "level %v", level)
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	Logger().Info("drained", "entries", 3)
	assert.Contains(t, buf.String(), "entries=3")

	SetLogger(nil)
	assert.False(t, Logger().Enabled(context.Background(), slog.LevelError))
}

func TestSetLoggerConcurrent(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		}()
		go func() {
			defer wg.Done()
			assert.NotNil(t, Logger())
		}()
	}
	wg.Wait()
}
