// Package config loads engine settings from TOML and translates them into
// builder options for the window, renderer and engine.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Carmen-Shannon/oxy-queue/engine"
	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/profiler"
	"github.com/Carmen-Shannon/oxy-queue/engine/renderer"
	"github.com/Carmen-Shannon/oxy-queue/engine/window"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the root of the TOML document.
type Config struct {
	Window WindowConfig `toml:"window"`
	Render RenderConfig `toml:"render"`
	Engine EngineConfig `toml:"engine"`
	Log    LogConfig    `toml:"log"`
}

// WindowConfig configures the platform window.
type WindowConfig struct {
	Title        string `toml:"title"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	EscapeCloses bool   `toml:"escape_closes"`
}

// RenderConfig configures the renderer and context thread.
type RenderConfig struct {
	// PresentMode is "vsync" or "uncapped".
	PresentMode string `toml:"present_mode"`

	// MSAA is the sample count: 1, 4, 8 or 16.
	MSAA int `toml:"msaa"`

	ForceSoftware bool       `toml:"force_software"`
	ClearColor    [4]float64 `toml:"clear_color"`

	// FrameLimit caps frames per second; 0 is uncapped.
	FrameLimit float64 `toml:"frame_limit"`
}

// EngineConfig configures the tick thread and profiler.
type EngineConfig struct {
	TickRate        float64 `toml:"tick_rate"`
	Profiling       bool    `toml:"profiling"`
	ProfileInterval string  `toml:"profile_interval"`
}

// LogConfig configures the slog handler installed by NewLogger.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
//
// Returns:
//   - Config: the default configuration
func Default() Config {
	return Config{
		Window: WindowConfig{
			Title:        "oxy",
			Width:        1280,
			Height:       720,
			EscapeCloses: true,
		},
		Render: RenderConfig{
			PresentMode: "vsync",
			MSAA:        4,
			ClearColor:  [4]float64{0.1, 0.1, 0.1, 1.0},
		},
		Engine: EngineConfig{
			TickRate:        60,
			ProfileInterval: "1s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates a TOML file. Keys missing from the file keep their defaults.
//
// Parameters:
//   - path: the file to read
//
// Returns:
//   - Config: the loaded configuration
//   - error: an error if the file cannot be read, decoded or validated
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a TOML document held in memory.
func Parse(data []byte) (Config, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a TOML document over the defaults. Unknown keys are rejected.
//
// Parameters:
//   - r: the document
//
// Returns:
//   - Config: the decoded configuration
//   - error: a decode error with its position, or a validation error
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return Config{}, fmt.Errorf("config: line %d column %d: %w", row, col, err)
		}
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return Config{}, fmt.Errorf("config: unknown keys:\n%s", strictErr.String())
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration as TOML.
//
// Parameters:
//   - path: the destination file, created or truncated
//
// Returns:
//   - error: an error if encoding or writing fails
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate reports every out-of-range value at once.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		invalid("window size %dx%d must be positive", c.Window.Width, c.Window.Height)
	}
	if _, ok := renderer.ParsePresentMode(c.Render.PresentMode); !ok {
		invalid("render.present_mode %q is not vsync or uncapped", c.Render.PresentMode)
	}
	if !renderer.MSAASampleCount(c.Render.MSAA).Valid() {
		invalid("render.msaa %d is not 1, 4, 8 or 16", c.Render.MSAA)
	}
	for i, v := range c.Render.ClearColor {
		if v < 0 || v > 1 {
			invalid("render.clear_color[%d] = %g is outside [0, 1]", i, v)
		}
	}
	if c.Render.FrameLimit < 0 {
		invalid("render.frame_limit %g is negative", c.Render.FrameLimit)
	}
	if c.Engine.TickRate <= 0 {
		invalid("engine.tick_rate %g must be positive", c.Engine.TickRate)
	}
	if d, err := time.ParseDuration(c.Engine.ProfileInterval); err != nil || d <= 0 {
		invalid("engine.profile_interval %q is not a positive duration", c.Engine.ProfileInterval)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		invalid("log.level: %v", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		invalid("log.format %q is not text or json", c.Log.Format)
	}
	return errors.Join(errs...)
}

// WindowOptions translates the window section.
func (c Config) WindowOptions() []window.WindowBuilderOption {
	return []window.WindowBuilderOption{
		window.WithTitle(c.Window.Title),
		window.WithWidth(c.Window.Width),
		window.WithHeight(c.Window.Height),
		window.WithEscapeCloses(c.Window.EscapeCloses),
	}
}

// RendererOptions translates the render section. Call Validate first.
func (c Config) RendererOptions() []renderer.RendererBuilderOption {
	mode, _ := renderer.ParsePresentMode(c.Render.PresentMode)
	return []renderer.RendererBuilderOption{
		renderer.WithPresentMode(mode),
		renderer.WithMSAA(renderer.MSAASampleCount(c.Render.MSAA)),
		renderer.WithForceSoftwareRenderer(c.Render.ForceSoftware),
	}
}

// EngineOptions translates the engine and render sections, including the renderer options.
// Call Validate first.
//
// Returns:
//   - []engine.EngineBuilderOption: options for engine.NewEngine
func (c Config) EngineOptions() []engine.EngineBuilderOption {
	interval, _ := time.ParseDuration(c.Engine.ProfileInterval)
	cc := c.Render.ClearColor
	return []engine.EngineBuilderOption{
		engine.WithTickRate(c.Engine.TickRate),
		engine.WithProfiling(c.Engine.Profiling),
		engine.WithProfiler(profiler.NewProfiler(profiler.WithInterval(interval))),
		engine.WithRenderFrameLimit(c.Render.FrameLimit),
		engine.WithClearColor(gpu.Color{R: cc[0], G: cc[1], B: cc[2], A: cc[3]}),
		engine.WithRendererOptions(c.RendererOptions()...),
	}
}

// NewLogger builds the slog logger described by the log section, writing to w.
//
// Parameters:
//   - w: the destination, usually os.Stderr
//
// Returns:
//   - *slog.Logger: the logger to pass to logger.SetLogger
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
