package gpu

// ContextBuilderOption is a functional option for configuring a Context.
type ContextBuilderOption func(*Context)

// WithSurface attaches the window the context thread presents to. Frame watches
// its extent for resizes and Run stops when it closes.
//
// Parameters:
//   - s: the presentation surface
//
// Returns:
//   - ContextBuilderOption: option function to apply
func WithSurface(s Surface) ContextBuilderOption {
	return func(c *Context) {
		c.surface = s
	}
}

// WithClearColor sets the color the target is cleared to at the start of every frame.
//
// Parameters:
//   - color: the clear color
//
// Returns:
//   - ContextBuilderOption: option function to apply
func WithClearColor(color Color) ContextBuilderOption {
	return func(c *Context) {
		c.clearColor = color
	}
}

// WithErrorHandler registers a callback for dispatch failures. It runs on the
// context thread after the failure has been logged, so it must not block.
//
// Parameters:
//   - handler: receives every DispatchError
//
// Returns:
//   - ContextBuilderOption: option function to apply
func WithErrorHandler(handler func(*DispatchError)) ContextBuilderOption {
	return func(c *Context) {
		c.errorHandler = handler
	}
}

// WithFrameObserver registers an observer notified after every completed frame.
//
// Parameters:
//   - observer: the observer, typically a profiler
//
// Returns:
//   - ContextBuilderOption: option function to apply
func WithFrameObserver(observer FrameObserver) ContextBuilderOption {
	return func(c *Context) {
		c.observer = observer
	}
}
