package explosion

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/blastcore/internal/core/voxel"
)

// Session binds the engine of one world to the loop that owns it.
type Session struct {
	name   string
	exec   voxel.Executor
	engine *Engine
}

func NewSession(name string, exec voxel.Executor, engine *Engine) *Session {
	return &Session{name: name, exec: exec, engine: engine}
}

func (s *Session) Name() string    { return s.name }
func (s *Session) Engine() *Engine { return s.engine }

// Detonate runs one explosion right away and waits for it to be applied.
func (s *Session) Detonate(ctx context.Context, center voxel.Vec3, power float64, ignites bool, source uuid.UUID) (Report, error) {
	return s.engine.Explode(ctx, s.exec, center, power, ignites, source)
}

// Enqueue hands p to the batch collector. Reports of explosions that ran
// immediately are returned.
func (s *Session) Enqueue(ctx context.Context, p Pending) ([]Report, error) {
	var (
		reports []Report
		err     error
	)
	if runErr := s.run(ctx, func(tx voxel.Tx) {
		reports, err = s.engine.Queue(ctx, tx, p)
	}); runErr != nil {
		return nil, runErr
	}
	return reports, err
}

// Tick drives the engine's per-tick work on the loop.
func (s *Session) Tick(ctx context.Context) ([]Report, error) {
	var reports []Report
	if err := s.run(ctx, func(tx voxel.Tx) {
		reports = s.engine.Tick(ctx, tx)
	}); err != nil {
		return nil, err
	}
	return reports, nil
}

// Stats reads engine statistics on the loop.
func (s *Session) Stats(ctx context.Context) (EngineStats, error) {
	var st EngineStats
	if err := s.run(ctx, func(voxel.Tx) { st = s.engine.Stats() }); err != nil {
		return EngineStats{}, err
	}
	return st, nil
}

// Close closes the engine on the loop.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if runErr := s.run(ctx, func(voxel.Tx) { err = s.engine.Close() }); runErr != nil {
		if errors.Is(runErr, ErrNotRun) {
			// The loop is gone, so nothing else can touch the engine.
			return s.engine.Close()
		}
		return runErr
	}
	return err
}

func (s *Session) run(ctx context.Context, f voxel.ExecFunc) error {
	var ran atomic.Bool
	done := s.exec.Exec(func(tx voxel.Tx) {
		ran.Store(true)
		f(tx)
	})
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !ran.Load() {
		return ErrNotRun
	}
	return nil
}

// Registry holds one Session per world.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds s. Registering a second session under the same name fails.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.Name()]; ok {
		return errors.Errorf("explosion: world %q already registered", s.Name())
	}
	r.sessions[s.Name()] = s
	return nil
}

func (r *Registry) Get(world string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[world]
	return s, ok
}

// Names returns the registered world names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for n := range r.sessions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Remove unregisters the session of world and closes its engine.
func (r *Registry) Remove(ctx context.Context, world string) error {
	r.mu.Lock()
	s, ok := r.sessions[world]
	delete(r.sessions, world)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return errors.Wrapf(s.Close(ctx), "close world %q", world)
}

// Close removes every session.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Remove(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
