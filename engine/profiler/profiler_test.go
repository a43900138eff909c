package profiler

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/logger"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestProfilerReportsPerInterval(t *testing.T) {
	var out bytes.Buffer
	logger.SetLogger(slog.New(slog.NewTextHandler(&out, nil)))
	t.Cleanup(func() { logger.SetLogger(nil) })

	clock := &fakeClock{t: time.Unix(0, 0)}
	var reports []Report
	p := NewProfiler(
		WithInterval(time.Second),
		WithClock(clock.now),
		WithReportHandler(func(r Report) { reports = append(reports, r) }),
	)

	for i := range 9 {
		clock.t = clock.t.Add(100 * time.Millisecond)
		assert.False(t, p.Tick(2, gpu.QueueStats{Enqueued: uint64(i)}))
	}
	clock.t = clock.t.Add(100 * time.Millisecond)
	p.FrameDone(2, gpu.QueueStats{Enqueued: 30, Collapsed: 10})

	require.Len(t, reports, 1)
	assert.InDelta(t, 10.0, reports[0].FPS, 0.001)
	assert.InDelta(t, 20.0, reports[0].DispatchRate, 0.001)
	assert.Equal(t, uint64(30), reports[0].Enqueued)
	assert.Equal(t, uint64(10), reports[0].Collapsed)
	assert.Contains(t, out.String(), "msg=profiler")

	// Counters are reported as deltas against the previous report.
	clock.t = clock.t.Add(2 * time.Second)
	assert.True(t, p.Tick(0, gpu.QueueStats{Enqueued: 35, Collapsed: 10}))
	require.Len(t, reports, 2)
	assert.Equal(t, uint64(5), reports[1].Enqueued)
	assert.Equal(t, uint64(0), reports[1].Collapsed)
	assert.InDelta(t, 0.5, reports[1].FPS, 0.001)
}
