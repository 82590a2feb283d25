// Package memworld is an in-memory authoritative world with a single-writer
// transaction loop. It backs the server binary and the engine tests.
package memworld

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel"
)

var (
	_ voxel.Reader         = (*World)(nil)
	_ voxel.ChunkProtector = (*World)(nil)
	_ voxel.Locker         = (*World)(nil)
	_ voxel.Executor       = (*World)(nil)
)

// Config holds the construction parameters of a World.
type Config struct {
	Name      string `yaml:"name" json:"name"`
	MinY      int    `yaml:"min_y" json:"min_y"`
	MaxY      int    `yaml:"max_y" json:"max_y"`
	Seed      int64  `yaml:"seed" json:"seed"`
	QueueSize int    `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns an overworld-sized configuration.
func DefaultConfig() Config {
	return Config{
		Name:      "world",
		MinY:      -64,
		MaxY:      319,
		Seed:      1,
		QueueSize: 256,
	}
}

type transaction struct {
	c chan struct{}
	f voxel.ExecFunc
}

// World stores cells and entities in memory. Reads are safe from any goroutine;
// mutation happens only through transactions, which run one at a time.
type World struct {
	conf Config
	log  log.Log

	// txMu serialises transactions. mx guards the data and is only held briefly.
	txMu sync.Mutex
	mx   sync.RWMutex

	cells    map[uint64]voxel.Material
	entities map[uuid.UUID]*Entity
	claims   []voxel.BBox
	locked   map[uint64]struct{}
	effects  Effects

	tick atomic.Int64
	rng  *rand.Rand

	queue     chan transaction
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates an empty World. Every cell starts as air.
func New(conf Config, logger log.Log) *World {
	if conf.MaxY <= conf.MinY {
		d := DefaultConfig()
		conf.MinY, conf.MaxY = d.MinY, d.MaxY
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = DefaultConfig().QueueSize
	}
	if conf.Name == "" {
		conf.Name = DefaultConfig().Name
	}

	return &World{
		conf:     conf,
		log:      log.OrNop(logger).With(log.String("world", conf.Name)),
		cells:    make(map[uint64]voxel.Material),
		entities: make(map[uuid.UUID]*Entity),
		locked:   make(map[uint64]struct{}),
		rng:      rand.New(rand.NewSource(conf.Seed)),
		queue:    make(chan transaction, conf.QueueSize),
		closing:  make(chan struct{}),
	}
}

func (w *World) Name() string { return w.conf.Name }

// Exec queues f to run on the world loop and returns a channel closed once f has
// run. After Close the returned channel is already closed and f never runs.
func (w *World) Exec(f voxel.ExecFunc) <-chan struct{} {
	c := make(chan struct{})
	select {
	case <-w.closing:
		close(c)
		return c
	default:
	}
	select {
	case w.queue <- transaction{c: c, f: f}:
	case <-w.closing:
		close(c)
	}
	return c
}

// Update runs f as a transaction on the calling goroutine, serialised with the loop.
func (w *World) Update(f voxel.ExecFunc) {
	w.run(transaction{c: make(chan struct{}), f: f})
}

// Run drains the transaction queue until ctx is done or the world is closed.
func (w *World) Run(ctx context.Context) error {
	for {
		select {
		case t := <-w.queue:
			w.run(t)
		case <-ctx.Done():
			return ctx.Err()
		case <-w.closing:
			return nil
		}
	}
}

// Close stops Run. Queued transactions that have not started are dropped.
func (w *World) Close() {
	w.closeOnce.Do(func() { close(w.closing) })
}

func (w *World) run(t transaction) {
	w.txMu.Lock()
	defer w.txMu.Unlock()
	defer close(t.c)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("transaction panicked", log.String("panic", fmt.Sprint(r)))
		}
	}()
	t.f(&tx{w: w})
}

// Tick advances the world clock by one and returns the new tick.
func (w *World) Tick() int64 { return w.tick.Add(1) }

// SetTick moves the world clock.
func (w *World) SetTick(t int64) { w.tick.Store(t) }

func (w *World) CurrentTick() int64 { return w.tick.Load() }

func (w *World) Range() (minY, maxY int) { return w.conf.MinY, w.conf.MaxY }

// Material returns the material at p. Cells outside the vertical range are air.
func (w *World) Material(p voxel.Pos) voxel.Material {
	if p.Y < w.conf.MinY || p.Y > w.conf.MaxY {
		return voxel.Air
	}
	w.mx.RLock()
	m, ok := w.cells[p.Key()]
	w.mx.RUnlock()
	if !ok {
		return voxel.Air
	}
	return m
}

// Set places m at p outside of a transaction. Intended for world building.
func (w *World) Set(p voxel.Pos, m voxel.Material) {
	w.mx.Lock()
	w.setLocked(p, m)
	w.mx.Unlock()
}

// Fill places m in every cell of the inclusive box a..b.
func (w *World) Fill(a, b voxel.Pos, m voxel.Material) {
	w.mx.Lock()
	defer w.mx.Unlock()
	for x := min(a.X, b.X); x <= max(a.X, b.X); x++ {
		for y := min(a.Y, b.Y); y <= max(a.Y, b.Y); y++ {
			for z := min(a.Z, b.Z); z <= max(a.Z, b.Z); z++ {
				w.setLocked(voxel.P(x, y, z), m)
			}
		}
	}
}

func (w *World) setLocked(p voxel.Pos, m voxel.Material) {
	if p.Y < w.conf.MinY || p.Y > w.conf.MaxY {
		return
	}
	if m.Air {
		delete(w.cells, p.Key())
		return
	}
	w.cells[p.Key()] = m
}

// CellCount returns the number of non-air cells.
func (w *World) CellCount() int {
	w.mx.RLock()
	defer w.mx.RUnlock()
	return len(w.cells)
}

// EntitiesIn returns by-value copies of every entity whose box intersects box,
// ordered by id.
func (w *World) EntitiesIn(box voxel.BBox) []voxel.EntitySnapshot {
	w.mx.RLock()
	defer w.mx.RUnlock()

	var out []voxel.EntitySnapshot
	for _, e := range w.entities {
		if b := e.boxLocked(); b.Intersects(box) {
			out = append(out, voxel.EntitySnapshot{ID: e.id, Position: e.pos, Box: b})
		}
	}
	slices.SortFunc(out, func(a, b voxel.EntitySnapshot) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out
}

// Spawn adds an entity and returns it.
func (w *World) Spawn(spec EntitySpec) *Entity {
	e := newEntity(w, spec)
	w.mx.Lock()
	w.entities[e.id] = e
	w.mx.Unlock()
	return e
}

// Remove drops the entity with the given id.
func (w *World) Remove(id uuid.UUID) {
	w.mx.Lock()
	delete(w.entities, id)
	w.mx.Unlock()
}

// Lookup returns the entity with the given id.
func (w *World) Lookup(id uuid.UUID) (*Entity, bool) {
	w.mx.RLock()
	defer w.mx.RUnlock()
	e, ok := w.entities[id]
	return e, ok
}

// Protect marks every cell inside box as protected land.
func (w *World) Protect(box voxel.BBox) {
	w.mx.Lock()
	w.claims = append(w.claims, box)
	w.mx.Unlock()
}

// Lock marks the container at p as locked by its owner.
func (w *World) Lock(p voxel.Pos) {
	w.mx.Lock()
	w.locked[p.Key()] = struct{}{}
	w.mx.Unlock()
}

func (w *World) CanExplodeAt(p voxel.Pos) bool {
	c := p.Centre()
	w.mx.RLock()
	defer w.mx.RUnlock()
	for _, b := range w.claims {
		if b.Contains(c) {
			return false
		}
	}
	return true
}

// ChunkVerdict answers for a whole chunk column when no claim touches it.
func (w *World) ChunkVerdict(cx, cz int) (allowed, known bool) {
	chunk := voxel.BBox{
		Min: voxel.Vec3{float64(cx * voxel.ChunkSize), float64(w.conf.MinY), float64(cz * voxel.ChunkSize)},
		Max: voxel.Vec3{float64(cx*voxel.ChunkSize + voxel.ChunkSize), float64(w.conf.MaxY + 1), float64(cz*voxel.ChunkSize + voxel.ChunkSize)},
	}
	w.mx.RLock()
	defer w.mx.RUnlock()
	for _, b := range w.claims {
		if b.Intersects(chunk) {
			return false, false
		}
	}
	return true, true
}

func (w *World) Locked(p voxel.Pos, _ voxel.Material) bool {
	w.mx.RLock()
	defer w.mx.RUnlock()
	_, ok := w.locked[p.Key()]
	return ok
}

// Effects returns a copy of everything recorded by transactions so far.
func (w *World) Effects() Effects {
	w.mx.RLock()
	defer w.mx.RUnlock()
	return w.effects.clone()
}

// ResetEffects discards recorded effects.
func (w *World) ResetEffects() {
	w.mx.Lock()
	w.effects = Effects{}
	w.mx.Unlock()
}
