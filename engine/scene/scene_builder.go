package scene

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithActive sets whether the scene is active for rendering.
//
// Parameters:
//   - active: whether the scene is active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active = active
	}
}

// WithWorkers sets the number of worker goroutines running update functions.
// Defaults to runtime.NumCPU()-1. Lower values reduce scheduling overhead for
// scenes with few entities.
//
// Parameters:
//   - n: the number of workers (minimum 1)
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		if n < 1 {
			n = 1
		}
		s.workers = n
	}
}
