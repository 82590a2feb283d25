package explosion

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blastcore/internal/core/observability/log"
	"github.com/zeusync/blastcore/internal/core/voxel"
	"github.com/zeusync/blastcore/internal/core/voxel/cache"
	"github.com/zeusync/blastcore/internal/core/voxel/memworld"
)

var origin = voxel.Vec3{0.5, 64.5, 0.5}

func newWorld(t *testing.T) *memworld.World {
	t.Helper()
	return memworld.New(memworld.Config{Name: t.Name(), MinY: 0, MaxY: 255, Seed: 7}, log.NewNop())
}

func newCalculator(strategy StrategyKind) *Calculator {
	return NewCalculator(CalculatorOptions{
		Threshold: 0.5,
		Strategy:  Strategy{kind: strategy},
	}, log.NewNop())
}

func calculate(t *testing.T, w *memworld.World, c *Calculator, snap *Snapshot) *Result {
	t.Helper()
	res := NewResultPool(4).Acquire()
	require.NoError(t, c.Calculate(snap, cache.New(w, 0), res))
	return res
}

func spawnAt(w *memworld.World, feet voxel.Vec3) *memworld.Entity {
	return w.Spawn(memworld.EntitySpec{ID: uuid.New(), Position: feet})
}

// stoneShell surrounds centre with a hollow cube of m at the given half size.
func stoneShell(w *memworld.World, centre voxel.Pos, half int, m voxel.Material) {
	for x := -half; x <= half; x++ {
		for y := -half; y <= half; y++ {
			for z := -half; z <= half; z++ {
				if max(abs(x), abs(y), abs(z)) != half {
					continue
				}
				w.Set(centre.Add(voxel.P(x, y, z)), m)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// testEngine builds an engine over w with overrides applied to the default config.
func testEngine(t *testing.T, w *memworld.World, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Strategy = StrategyScalarName
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(w, cfg, append([]Option{WithLogger(log.NewNop())}, opts...)...)
	require.NoError(t, err)
	return e
}
