package explosion

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel"
	"github.com/zeusync/blastcore/internal/core/voxel/cache"
	"github.com/zeusync/blastcore/internal/core/voxel/trace"
	"github.com/zeusync/blastcore/pkg/generic"
)

const (
	rayStep       = 0.3
	rayDecay      = 0.225
	rayJitterMin  = 0.7
	rayJitterSpan = 0.6

	resistanceBias  = 0.3
	resistanceScale = 0.3

	maxKnockback  = 2.0
	minLiftFactor = 0.3
)

// CalculatorOptions configure a Calculator.
type CalculatorOptions struct {
	Threshold   float32
	Strategy    Strategy
	FullRaycast bool
	Debug       bool
}

// Calculator turns a Snapshot into a Result. It holds no per-explosion state and is
// safe for concurrent use.
type Calculator struct {
	detector    trace.Detector
	strategy    Strategy
	fullRaycast bool
	debug       bool
	log         log.Log

	scratch *generic.Pool[*scratch]
}

type scratch struct {
	seen       map[uint64]struct{}
	candidates []int
}

func NewCalculator(opts CalculatorOptions, logger log.Log) *Calculator {
	return &Calculator{
		detector:    trace.NewDetector(opts.Threshold),
		strategy:    opts.Strategy,
		fullRaycast: opts.FullRaycast,
		debug:       opts.Debug,
		log:         log.OrNop(logger),
		scratch: generic.NewPool(func() *scratch {
			return &scratch{seen: make(map[uint64]struct{}, 256)}
		}),
	}
}

// Strategy returns the entity prefilter in use.
func (c *Calculator) Strategy() Strategy { return c.strategy }

// Calculate fills res, which must be empty, from snap. Cells outside the snapshot
// are read through materials. A panic during either phase is recovered; res then
// keeps what was accumulated and ErrPartialResult is returned.
func (c *Calculator) Calculate(snap *Snapshot, materials cache.Materials, res *Result) (err error) {
	if math.IsNaN(snap.Power) || math.IsInf(snap.Power, 0) || snap.Power < 0 || !voxel.Finite(snap.Center) {
		return errors.Wrapf(ErrInvalidPower, "power %v at %v", snap.Power, snap.Center)
	}

	res.bind(snap)

	sc := c.scratch.Get()
	defer func() {
		clear(sc.seen)
		sc.candidates = sc.candidates[:0]
		c.scratch.Put(sc)
	}()

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("explosion calculation panicked",
				log.Uint64("snapshot", snap.ID()),
				log.String("panic", fmt.Sprint(r)),
				log.Int("destroyed", len(res.destroyed)),
				log.Int("entities", len(res.knockback)),
			)
			err = errors.Wrapf(ErrPartialResult, "%v", r)
		}
	}()

	view := layered{snap: snap, materials: materials}
	rng := rand.New(rand.NewSource(snap.Seed))

	switch {
	case snap.CenterProtected:
		c.debugf("centre protected, skipping cells", snap)
	case snap.InFluid:
		c.debugf("centre in fluid, skipping cells", snap)
	default:
		c.destroyCells(snap, view, rng, sc.seen, res)
	}

	sc.candidates = c.strategy.Candidates(snap.Center, snap.EntityRadius(), snap.Entities, sc.candidates)
	c.pushEntities(snap, view, sc.candidates, res)

	if c.debug {
		c.log.Debug("explosion calculated",
			log.Uint64("snapshot", snap.ID()),
			log.Float64("power", snap.Power),
			log.Int("destroyed", len(res.destroyed)),
			log.Int("entities", len(res.knockback)),
			log.Stringer("strategy", c.strategy.Kind()),
		)
	}
	return nil
}

func (c *Calculator) destroyCells(snap *Snapshot, view layered, rng *rand.Rand, seen map[uint64]struct{}, res *Result) {
	for _, dir := range rays {
		rayPower := snap.Power * (rayJitterMin + rng.Float64()*rayJitterSpan)
		step := dir.Mul(rayStep)
		at := snap.Center

		for rayPower > 0 {
			p := voxel.PosOf(at)
			m := view.Material(p)

			if !m.Air {
				rayPower -= (math.Max(0, float64(m.Resistance)) + resistanceBias) * resistanceScale
				if !m.Fluid && rayPower > 0 && !m.Replaceable && !snap.Protected(p) {
					k := p.Key()
					if _, dup := seen[k]; !dup {
						seen[k] = struct{}{}
						res.addDestroyed(p)
					}
				}
			}

			at = at.Add(step)
			rayPower -= rayDecay
		}
	}
}

func (c *Calculator) pushEntities(snap *Snapshot, view layered, candidates []int, res *Result) {
	radius := snap.EntityRadius()
	if radius <= 0 {
		return
	}

	for _, i := range candidates {
		e := snap.Entities[i]
		if !voxel.Finite(e.Position) {
			continue
		}

		offset := e.Position.Sub(snap.Center)
		dist := offset.Len()
		if dist >= radius {
			continue
		}

		exposure := c.Exposure(view, snap.Center, e.Box)
		if exposure <= 0 {
			continue
		}

		impact := (1 - dist/radius) * exposure
		if impact <= 0 {
			continue
		}

		dir := voxel.Up
		if dist > 0 {
			dir = offset.Mul(1 / dist)
		}
		kb := dir.Mul(impact)
		kb[1] = math.Max(kb[1], impact*minLiftFactor)
		res.setKnockback(e.ID, voxel.ClampLen(kb, maxKnockback))
	}
}

func (c *Calculator) debugf(msg string, snap *Snapshot) {
	if !c.debug {
		return
	}
	c.log.Debug(msg, log.Uint64("snapshot", snap.ID()), log.Any("center", snap.Center))
}

// layered reads the snapshot first and falls back to the cache outside of it.
type layered struct {
	snap      *Snapshot
	materials cache.Materials
}

func (l layered) Material(p voxel.Pos) voxel.Material {
	if m, ok := l.snap.Material(p); ok {
		return m
	}
	if l.materials == nil {
		return voxel.Air
	}
	return l.materials.Material(p)
}

func (l layered) Resistance(p voxel.Pos) float32 {
	return l.Material(p).Resistance
}
