package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowOptions(t *testing.T) {
	w := newEngineWindow(WithTitle("demo"), WithWidth(800), WithHeight(600), WithMinWidth(100), WithMaxHeight(900))

	assert.Equal(t, "demo", w.title)
	width, height := w.Extent()
	assert.Equal(t, 800, width)
	assert.Equal(t, 600, height)
	assert.Equal(t, 100, w.minWidth)
	assert.Equal(t, 900, w.maxHeight)
	assert.False(t, w.IsRunning(), "no platform window yet")
	assert.Nil(t, w.SurfaceDescriptor())
	assert.Error(t, w.Close())
}

func TestWindowResizeUpdatesExtent(t *testing.T) {
	w := newEngineWindow()
	var got [2]int
	w.SetResizeCallback(func(width, height int) { got = [2]int{width, height} })

	w.handleResize(1024, 0)
	width, height := w.Extent()
	assert.Equal(t, 1024, width)
	assert.Equal(t, 0, height)
	assert.Equal(t, [2]int{1024, 0}, got)
}

func TestWindowKeyRouting(t *testing.T) {
	w := newEngineWindow()
	var down, up []uint32
	w.SetKeyDownCallback(func(k uint32) { down = append(down, k) })
	w.SetKeyUpCallback(func(k uint32) { up = append(up, k) })

	w.handleKey(65, true, false)
	w.handleKey(65, false, false)
	assert.Equal(t, []uint32{65}, down)
	assert.Equal(t, []uint32{65}, up)
	assert.False(t, w.closeRequested.Load())

	w.handleKey(256, true, true)
	assert.True(t, w.closeRequested.Load())
	assert.Len(t, down, 1, "escape is consumed")

	w2 := newEngineWindow(WithEscapeCloses(false))
	w2.SetKeyDownCallback(func(k uint32) { down = append(down, k) })
	w2.handleKey(256, true, true)
	assert.False(t, w2.closeRequested.Load())
	assert.Equal(t, []uint32{65, 256}, down)
}
