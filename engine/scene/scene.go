package scene

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/Carmen-Shannon/oxy-queue/engine/gpu"
	"github.com/Carmen-Shannon/oxy-queue/engine/logger"
)

// UpdateFunc advances one entity by dt. It runs on a worker goroutine and may
// mutate gpu objects freely; the mutations are enqueued, not applied.
type UpdateFunc func(dt time.Duration) error

// Scene is a named set of drawables with optional per-tick update functions.
// Scenes can be hot-swapped via the Active flag to switch between different views or levels.
// Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// SetName sets the scene's identifier.
	SetName(name string)

	// Active returns whether this scene is currently active for rendering.
	Active() bool

	// SetActive sets whether this scene is active for rendering.
	SetActive(active bool)

	// Add registers a drawable with an optional update function.
	// The scene does not take ownership; disposing the drawable stays with the caller.
	//
	// Parameters:
	//   - name: diagnostic name used in errors
	//   - d: the drawable, may be nil for update-only entities
	//   - update: called once per Update, may be nil
	//
	// Returns:
	//   - uint64: the assigned entity ID
	Add(name string, d gpu.Drawable, update UpdateFunc) uint64

	// Get retrieves a drawable by entity ID.
	//
	// Parameters:
	//   - id: the entity ID
	//
	// Returns:
	//   - gpu.Drawable: the drawable or nil
	//   - bool: whether the ID is registered
	Get(id uint64) (gpu.Drawable, bool)

	// Remove unregisters an entity. Returns false if the ID is unknown.
	Remove(id uint64) bool

	// Count returns the number of registered entities.
	Count() int

	// Clear unregisters every entity.
	Clear()

	// Update runs every entity's update function in parallel on the scene's
	// worker pool and waits for all of them. Calls must not overlap.
	//
	// Parameters:
	//   - dt: elapsed time since the previous update
	//
	// Returns:
	//   - error: every update error joined, or nil
	Update(dt time.Duration) error

	// Draw draws every entity in registration order. Called on the context thread.
	// A failing drawable does not stop the others.
	//
	// Parameters:
	//   - device: the device to issue draws to
	//
	// Returns:
	//   - error: every draw error joined, or nil
	Draw(device gpu.Device) error

	// Close stops the worker pool. The scene must not be updated afterwards.
	Close()
}

type entity struct {
	id       uint64
	name     string
	drawable gpu.Drawable
	update   UpdateFunc
}

// scene is the implementation of the Scene interface.
type scene struct {
	mu       *sync.RWMutex
	name     string
	active   bool
	entities map[uint64]*entity
	nextID   uint64

	// order is the sorted ID list, rebuilt lazily after Add/Remove.
	order      []uint64
	orderDirty bool

	// updateMu serializes Update: the pool accepts tasks from one goroutine at a time.
	updateMu sync.Mutex
	pool     worker.DynamicWorkerPool
	workers  int
	closed   bool
}

var _ Scene = &scene{}

// NewScene creates a new, inactive Scene.
//
// Parameters:
//   - name: the name of the scene
//   - options: functional options to configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:       &sync.RWMutex{},
		name:     name,
		entities: make(map[uint64]*entity),
		nextID:   1,
		workers:  max(runtime.NumCPU()-1, 1),
	}
	for _, option := range options {
		option(s)
	}

	// Workers persist across ticks and idle-exit after a second without work.
	s.pool = worker.NewDynamicWorkerPool(s.workers, 256, 1*time.Second)
	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *scene) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *scene) Add(name string, d gpu.Drawable, update UpdateFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.entities[id] = &entity{id: id, name: name, drawable: d, update: update}
	s.orderDirty = true
	return id
}

func (s *scene) Get(id uint64) (gpu.Drawable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	return e.drawable, true
}

func (s *scene) Remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return false
	}
	delete(s.entities, id)
	s.orderDirty = true
	return true
}

func (s *scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func (s *scene) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entities)
	s.order = s.order[:0]
	s.orderDirty = false
}

// snapshot copies the entities in ID order so callers can work without holding the lock.
func (s *scene) snapshot() []*entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orderDirty {
		s.order = s.order[:0]
		for id := range s.entities {
			s.order = append(s.order, id)
		}
		slices.Sort(s.order)
		s.orderDirty = false
	}
	out := make([]*entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entities[id])
	}
	return out
}

func (s *scene) Update(dt time.Duration) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.closed {
		return fmt.Errorf("scene %q: update after close", s.Name())
	}

	entities := s.snapshot()
	errs := make([]error, len(entities))

	// A WaitGroup is the per-tick barrier; pool.Wait blocks until workers idle-exit.
	var wg sync.WaitGroup
	for i, e := range entities {
		if e.update == nil {
			continue
		}
		wg.Add(1)
		s.pool.SubmitTask(worker.Task{
			ID: int(e.id),
			Do: func() (any, error) {
				defer wg.Done()
				if err := e.update(dt); err != nil {
					errs[i] = fmt.Errorf("%s (%d): %w", e.name, e.id, err)
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *scene) Draw(device gpu.Device) error {
	var errs []error
	for _, e := range s.snapshot() {
		if e.drawable == nil {
			continue
		}
		if err := e.drawable.Draw(device); err != nil {
			errs = append(errs, fmt.Errorf("%s (%d): %w", e.name, e.id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *scene) Close() {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pool.Stop()
	logger.Logger().Debug("scene closed", "scene", s.Name())
}
