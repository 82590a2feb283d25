package explosion

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zeusync/blastcore/internal/core/events/bus"
	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel"
	"github.com/zeusync/blastcore/internal/core/voxel/cache"
	"github.com/zeusync/blastcore/pkg/offload"
)

// Report describes one applied explosion.
type Report struct {
	World      string     `json:"world,omitempty"`
	SnapshotID uint64     `json:"snapshot_id"`
	Center     voxel.Vec3 `json:"center"`
	Power      float64    `json:"power"`
	Ignites    bool       `json:"ignites"`
	Source     uuid.UUID  `json:"source"`
	Tick       int64      `json:"tick"`
	// Merged is the number of queued explosions folded into this one.
	Merged   int           `json:"merged"`
	Outcome  string        `json:"outcome"`
	Applied  ApplyStats    `json:"applied"`
	Duration time.Duration `json:"duration"`
}

// EngineStats is a point-in-time view of an Engine.
type EngineStats struct {
	Explosions     uint64        `json:"explosions"`
	Protected      uint64        `json:"protected"`
	Failed         uint64        `json:"failed"`
	PendingBatches int64         `json:"pending_batches"`
	PoolIdle       int           `json:"pool_idle"`
	Strategy       string        `json:"strategy"`
	Cache          cache.Stats   `json:"cache"`
	Offload        offload.Stats `json:"offload"`
}

// Option customises an Engine.
type Option func(*Engine)

func WithLogger(l log.Log) Option {
	return func(e *Engine) { e.log = l }
}

// WithProtector sets the land protection source. Without it the world is used when
// it implements voxel.Protector.
func WithProtector(p voxel.Protector) Option {
	return func(e *Engine) { e.protector = p }
}

// WithLocker sets the container lock source. Without it the world is used when it
// implements voxel.Locker.
func WithLocker(l voxel.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithWorldName tags reports with the world they were applied to.
func WithWorldName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithEventBus publishes destroy and applied events on b.
func WithEventBus(b bus.EventBus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithStrategy bypasses strategy negotiation.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		e.strategy = s
		e.strategySet = true
	}
}

// Engine runs explosions for one world. Every method taking a voxel.Tx must be
// called on that world's loop.
type Engine struct {
	cfg   Config
	name  string
	world voxel.Reader
	log   log.Log
	bus   bus.EventBus

	protector   voxel.Protector
	locker      voxel.Locker
	strategy    Strategy
	strategySet bool

	materials cache.Materials
	calc      *Calculator
	applier   *Applier
	results   *ResultPool
	offloader *offload.Offloader[*Snapshot, *Result]
	batches   *BatchCollector

	closed     atomic.Bool
	explosions atomic.Uint64
	protected  atomic.Uint64
	failed     atomic.Uint64
	pending    atomic.Int64
}

// NewEngine validates cfg and builds an Engine reading world.
func NewEngine(world voxel.Reader, cfg Config, opts ...Option) (*Engine, error) {
	if world == nil {
		return nil, errors.New("explosion: nil world")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid explosion config")
	}

	e := &Engine{cfg: cfg, world: world}
	for _, opt := range opts {
		opt(e)
	}
	e.log = log.OrNop(e.log).Named("explosion")
	if e.name != "" {
		e.log = e.log.With(log.String("world", e.name))
	}

	if e.protector == nil {
		e.protector, _ = world.(voxel.Protector)
	}
	if e.locker == nil {
		e.locker, _ = world.(voxel.Locker)
	}
	if !e.strategySet {
		e.strategy = Negotiate(HostCapabilities(cfg.Strategy))
	}

	if cfg.Workers > 0 {
		e.materials = cache.NewSharded(world, cfg.CacheExpiryTicks, cfg.CacheShards)
	} else {
		e.materials = cache.New(world, cfg.CacheExpiryTicks)
	}

	e.calc = NewCalculator(CalculatorOptions{
		Threshold:   cfg.CollisionThreshold,
		Strategy:    e.strategy,
		FullRaycast: cfg.FullRaycast,
		Debug:       cfg.Debug,
	}, e.log)
	e.applier = NewApplier(ApplierOptions{
		Damage:      cfg.Damage,
		VanillaFire: cfg.VanillaFire,
		Debug:       cfg.Debug,
	}, e.bus, e.log)
	e.results = NewResultPool(cfg.PoolSize)
	e.offloader = offload.New[*Snapshot, *Result](int64(cfg.Workers), e.results.Release)
	e.batches = NewBatchCollector(cfg.MaxBatchSize)

	e.log.Info("explosion engine ready",
		log.Stringer("strategy", e.strategy.Kind()),
		log.Int("workers", cfg.Workers),
		log.Duration("calc_timeout", cfg.CalcTimeout),
		log.Bool("batching", cfg.Batching),
	)
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Materials returns the material cache shared by calculations.
func (e *Engine) Materials() cache.Materials { return e.materials }

// Snapshot captures the world around center.
func (e *Engine) Snapshot(tx voxel.Tx, center voxel.Vec3, power float64, ignites bool) *Snapshot {
	opts := CaptureOptions{
		ShieldEntities: e.cfg.EntityShielding,
		Seed:           tx.Rand().Int63(),
	}
	if e.cfg.LandProtection {
		opts.Protector = e.protector
	}
	if e.cfg.LockProtection {
		opts.Locker = e.locker
	}
	return Capture(tx, center, power, ignites, opts)
}

// Calculate computes snap on the caller. On ErrPartialResult the partial Result is
// returned along with the error; on any other error the Result is released.
func (e *Engine) Calculate(snap *Snapshot) (*Result, error) {
	res := e.results.Acquire()
	err := e.calc.Calculate(snap, e.materials, res)
	if err == nil || errors.Is(err, ErrPartialResult) {
		return res, err
	}
	e.results.Release(res)
	return nil, err
}

// Apply writes res into the world and releases it. res must come from snap.
func (e *Engine) Apply(tx voxel.Tx, snap *Snapshot, res *Result, source uuid.UUID) (ApplyStats, error) {
	if res == nil || res.Released() {
		return ApplyStats{}, ErrResultReleased
	}
	defer e.results.Release(res)

	if res.SnapshotID() != snap.ID() {
		return ApplyStats{}, errors.Wrapf(ErrSnapshotMismatch, "result %d, snapshot %d", res.SnapshotID(), snap.ID())
	}
	return e.applier.Apply(tx, res, source, snap.Center)
}

// Release returns an unapplied Result to the pool.
func (e *Engine) Release(res *Result) { e.results.Release(res) }

// ExplodeTx runs one explosion inside tx. The calculation is offloaded when a worker
// is free and computed again on the loop if it misses the configured timeout.
func (e *Engine) ExplodeTx(ctx context.Context, tx voxel.Tx, center voxel.Vec3, power float64, ignites bool, source uuid.UUID) (Report, error) {
	if e.closed.Load() {
		return Report{}, ErrEngineClosed
	}
	if err := e.validate(center, power); err != nil {
		return Report{}, err
	}

	start := time.Now()
	snap := e.Snapshot(tx, center, power, ignites)
	if snap.CenterProtected {
		e.protected.Add(1)
		return Report{}, ErrCenterProtected
	}

	h := e.offloader.Submit(ctx, snap, e.compute)
	res, outcome, err := e.offloader.TryApply(h, e.cfg.CalcTimeout, func() (*Result, error) {
		return e.compute(ctx, snap)
	})
	if err != nil {
		e.failed.Add(1)
		return Report{}, errors.Wrap(err, "calculate explosion")
	}
	if outcome == offload.Fallback {
		e.log.Debug("explosion calculation missed its deadline",
			log.Uint64("snapshot", snap.ID()), log.Duration("timeout", e.cfg.CalcTimeout))
	}
	return e.finish(tx, snap, res, source, outcome, 1, start)
}

// Explode runs one explosion on the loop behind exec and waits for it.
func (e *Engine) Explode(ctx context.Context, exec voxel.Executor, center voxel.Vec3, power float64, ignites bool, source uuid.UUID) (Report, error) {
	var (
		rep Report
		err error
		ran atomic.Bool
	)
	done := exec.Exec(func(tx voxel.Tx) {
		ran.Store(true)
		rep, err = e.ExplodeTx(ctx, tx, center, power, ignites, source)
	})
	select {
	case <-done:
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
	if !ran.Load() {
		return Report{}, ErrNotRun
	}
	return rep, err
}

// Queue adds an explosion to the current tick's batch. It returns the reports of
// explosions that ran right away: all of them when batching is off, or a batch that
// just reached its maximum size.
func (e *Engine) Queue(ctx context.Context, tx voxel.Tx, p Pending) ([]Report, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := e.validate(p.Center, p.Power); err != nil {
		return nil, err
	}
	if !e.cfg.Batching {
		rep, err := e.ExplodeTx(ctx, tx, p.Center, p.Power, p.Ignites, p.Source)
		if err != nil {
			return nil, err
		}
		return []Report{rep}, nil
	}

	full := e.batches.Add(tx.CurrentTick(), p)
	e.pending.Store(int64(e.batches.Len()))
	if full == nil {
		return nil, nil
	}
	return e.runBatches(ctx, tx, []*Batch{full}), nil
}

// Tick housekeeps the cache and runs the batches queued in earlier ticks. Call it
// once per tick on the loop.
func (e *Engine) Tick(ctx context.Context, tx voxel.Tx) []Report {
	now := tx.CurrentTick()
	if e.materials.Cleanup(now) && e.cfg.Debug {
		e.log.Debug("material cache cleared", log.Int64("tick", now))
	}
	if e.closed.Load() {
		return nil
	}

	ready := e.batches.Flush(now)
	e.pending.Store(int64(e.batches.Len()))
	if len(ready) == 0 {
		return nil
	}
	return e.runBatches(ctx, tx, ready)
}

type batchRun struct {
	snap   *Snapshot
	source uuid.UUID
	merged int
}

func (e *Engine) runBatches(ctx context.Context, tx voxel.Tx, batches []*Batch) []Report {
	start := time.Now()

	runs := make([]batchRun, 0, len(batches))
	snaps := make([]*Snapshot, 0, len(batches))
	for _, b := range batches {
		p := b.Merged()
		// Merging grows power past what a single request may ask for.
		p.Power = math.Min(p.Power, e.cfg.MaxPower)
		snap := e.Snapshot(tx, p.Center, p.Power, p.Ignites)
		if snap.CenterProtected {
			e.protected.Add(1)
			continue
		}
		runs = append(runs, batchRun{snap: snap, source: p.Source, merged: len(b.Members)})
		snaps = append(snaps, snap)
	}

	results := e.computeAll(ctx, snaps)

	// Batches are already out of the collector; the loop-side recompute runs
	// even when ctx has ended so none of them is lost.
	loopCtx := context.WithoutCancel(ctx)

	reports := make([]Report, 0, len(runs))
	for i, run := range runs {
		res, outcome := results[i], offload.Applied
		if res == nil {
			var err error
			outcome = offload.Fallback
			if res, err = e.compute(loopCtx, run.snap); err != nil {
				e.failed.Add(1)
				e.log.Warn("batched explosion failed", log.Uint64("snapshot", run.snap.ID()), log.Error(err))
				continue
			}
		}
		rep, err := e.finish(tx, run.snap, res, run.source, outcome, run.merged, start)
		if err != nil {
			e.log.Warn("applying batched explosion failed", log.Uint64("snapshot", run.snap.ID()), log.Error(err))
			continue
		}
		reports = append(reports, rep)
	}
	return reports
}

// computeAll calculates snaps concurrently when workers are configured. Entries
// that failed are nil.
func (e *Engine) computeAll(ctx context.Context, snaps []*Snapshot) []*Result {
	if len(snaps) == 0 {
		return nil
	}
	if e.cfg.Workers <= 0 || len(snaps) == 1 {
		out := make([]*Result, len(snaps))
		for i, s := range snaps {
			out[i], _ = e.compute(ctx, s)
		}
		return out
	}
	out, err := offload.Batch(ctx, e.cfg.Workers, snaps, e.compute)
	if err != nil {
		e.log.Warn("batch calculation interrupted", log.Int("size", len(snaps)), log.Error(err))
	}
	return out
}

// compute is the offloaded calculation. Partial results are kept.
func (e *Engine) compute(ctx context.Context, snap *Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := e.Calculate(snap)
	if errors.Is(err, ErrPartialResult) {
		e.log.Warn("applying partial explosion result", log.Uint64("snapshot", snap.ID()), log.Error(err))
		return res, nil
	}
	return res, err
}

func (e *Engine) finish(tx voxel.Tx, snap *Snapshot, res *Result, source uuid.UUID, outcome offload.Outcome, merged int, start time.Time) (Report, error) {
	stats, err := e.Apply(tx, snap, res, source)
	if err != nil {
		e.failed.Add(1)
		return Report{}, err
	}
	e.explosions.Add(1)

	rep := Report{
		World:      e.name,
		SnapshotID: snap.ID(),
		Center:     snap.Center,
		Power:      snap.Power,
		Ignites:    snap.Ignites,
		Source:     source,
		Tick:       snap.Tick,
		Merged:     merged,
		Outcome:    outcome.String(),
		Applied:    stats,
		Duration:   time.Since(start),
	}
	if e.bus != nil && e.bus.HasSubscribers(EventApplied) {
		if err := e.bus.Publish(bus.NewEvent(EventApplied, eventSource, rep, nil)); err != nil {
			e.log.Warn("applied handlers failed", log.Error(err))
		}
	}
	return rep, nil
}

// Stats reports counters. The cache figures are only consistent when Stats is
// called on the world loop.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Explosions:     e.explosions.Load(),
		Protected:      e.protected.Load(),
		Failed:         e.failed.Load(),
		PendingBatches: e.pending.Load(),
		PoolIdle:       e.results.Idle(),
		Strategy:       e.strategy.Kind().String(),
		Cache:          e.materials.Stats(),
		Offload:        e.offloader.Stats(),
	}
}

// Close stops accepting explosions and drops cached materials. Queued batches are
// discarded. Close must be called on the world loop.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	dropped := e.batches.Flush(math.MaxInt64)
	e.pending.Store(0)
	e.materials.Clear()
	e.log.Info("explosion engine closed", log.Int("dropped_batches", len(dropped)))
	return nil
}

func (e *Engine) validate(center voxel.Vec3, power float64) error {
	if math.IsNaN(power) || math.IsInf(power, 0) || power < 0 || !voxel.Finite(center) {
		return errors.Wrapf(ErrInvalidPower, "power %v at %v", power, center)
	}
	if power > e.cfg.MaxPower {
		return errors.Wrapf(ErrInvalidPower, "power %v exceeds max_power %v", power, e.cfg.MaxPower)
	}
	return nil
}
