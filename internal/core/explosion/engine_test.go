package explosion

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blastcore/internal/core/events/bus"
	"github.com/zeusync/blastcore/internal/core/voxel"
	"github.com/zeusync/blastcore/internal/core/voxel/memworld"
	"github.com/zeusync/blastcore/pkg/offload"
)

func explodeTx(t *testing.T, w *memworld.World, e *Engine, center voxel.Vec3, power float64) (Report, error) {
	t.Helper()
	var (
		rep Report
		err error
	)
	w.Update(func(tx voxel.Tx) {
		rep, err = e.ExplodeTx(context.Background(), tx, center, power, false, uuid.Nil)
	})
	return rep, err
}

func runWorld(t *testing.T, w *memworld.World) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestNewEngineValidates(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig())
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Damage = "loud"
	_, err = NewEngine(newWorld(t), cfg)
	require.Error(t, err)
}

func TestExplodeInline(t *testing.T) {
	w := newWorld(t)
	w.Fill(voxel.P(-3, 62, -3), voxel.P(3, 63, 3), voxel.Dirt)
	victim := spawnAt(w, voxel.Vec3{2.5, 64, 0.5})

	e := testEngine(t, w, func(c *Config) { c.Workers = 0 })
	rep, err := explodeTx(t, w, e, origin, 3)
	require.NoError(t, err)

	require.Equal(t, offload.Inline.String(), rep.Outcome)
	require.Equal(t, 1, rep.Merged)
	require.Positive(t, rep.Applied.Removed)
	require.Equal(t, 1, rep.Applied.Hurt)
	require.NotEmpty(t, victim.Hits())
	require.Equal(t, voxel.Air, w.Material(voxel.P(0, 63, 0)))

	st := e.Stats()
	require.Equal(t, uint64(1), st.Explosions)
	require.Equal(t, 1, st.PoolIdle)
	require.Positive(t, st.Cache.Misses)
}

func TestExplodeOffloaded(t *testing.T) {
	w := newWorld(t)
	w.Fill(voxel.P(-3, 62, -3), voxel.P(3, 63, 3), voxel.Dirt)

	e := testEngine(t, w, func(c *Config) {
		c.Workers = 2
		c.CalcTimeout = time.Minute
	})
	rep, err := explodeTx(t, w, e, origin, 3)
	require.NoError(t, err)
	require.Equal(t, offload.Applied.String(), rep.Outcome)
	require.Positive(t, rep.Applied.Removed)
}

func TestExplodeFallsBackOnTimeout(t *testing.T) {
	w := newWorld(t)
	w.Fill(voxel.P(-6, 58, -6), voxel.P(6, 63, 6), voxel.Stone)

	e := testEngine(t, w, func(c *Config) {
		c.Workers = 1
		c.CalcTimeout = time.Nanosecond
	})
	rep, err := explodeTx(t, w, e, origin, 6)
	require.NoError(t, err)
	require.Equal(t, offload.Fallback.String(), rep.Outcome)
	require.Positive(t, rep.Applied.Removed)

	// The abandoned calculation finishes later and its Result goes back to the pool.
	require.Eventually(t, func() bool {
		st := e.Stats().Offload
		return st.Abandoned == 1 && st.Discarded == 1 && st.InFlight == 0
	}, 5*time.Second, time.Millisecond)
}

func TestExplodeProtectedCentre(t *testing.T) {
	w := newWorld(t)
	w.Fill(voxel.P(-3, 62, -3), voxel.P(3, 63, 3), voxel.Dirt)
	w.Protect(voxel.Box(voxel.Vec3{-1, 60, -1}, voxel.Vec3{2, 70, 2}))

	e := testEngine(t, w, nil)
	_, err := explodeTx(t, w, e, origin, 3)
	require.ErrorIs(t, err, ErrCenterProtected)
	require.Equal(t, voxel.Dirt, w.Material(voxel.P(0, 63, 0)))
	require.Empty(t, w.Effects().Sounds)
	require.Equal(t, uint64(1), e.Stats().Protected)

	unprotected := testEngine(t, w, func(c *Config) { c.LandProtection = false })
	_, err = explodeTx(t, w, unprotected, origin, 3)
	require.NoError(t, err)
}

func TestExplodeRejectsInvalidInput(t *testing.T) {
	w := newWorld(t)
	e := testEngine(t, w, nil)

	_, err := explodeTx(t, w, e, origin, math.NaN())
	require.ErrorIs(t, err, ErrInvalidPower)
	_, err = explodeTx(t, w, e, voxel.Vec3{math.Inf(1), 0, 0}, 2)
	require.ErrorIs(t, err, ErrInvalidPower)
	_, err = explodeTx(t, w, e, origin, 1e5)
	require.ErrorIs(t, err, ErrInvalidPower)

	w.Update(func(tx voxel.Tx) {
		_, err = e.Queue(context.Background(), tx, Pending{Center: origin, Power: DefaultMaxPower + 1})
	})
	require.ErrorIs(t, err, ErrInvalidPower)

	_, err = explodeTx(t, w, e, origin, DefaultMaxPower)
	require.NoError(t, err)
}

func TestMergedPowerIsCapped(t *testing.T) {
	w := newWorld(t)
	e := testEngine(t, w, func(c *Config) { c.MaxPower = 3 })
	ctx := context.Background()

	w.Update(func(tx voxel.Tx) {
		for i := 0; i < 4; i++ {
			_, err := e.Queue(ctx, tx, Pending{Center: origin, Power: 3})
			require.NoError(t, err)
		}
	})

	w.SetTick(1)
	var reports []Report
	w.Update(func(tx voxel.Tx) { reports = e.Tick(ctx, tx) })
	require.Len(t, reports, 1)
	require.Equal(t, 4, reports[0].Merged)
	require.InDelta(t, 3, reports[0].Power, 1e-12)
}

func TestTickWithEndedContextAppliesBatches(t *testing.T) {
	w := newWorld(t)

	for _, workers := range []int{0, 2} {
		workers := workers
		w.Fill(voxel.P(-3, 62, -3), voxel.P(3, 63, 3), voxel.Dirt)
		e := testEngine(t, w, func(c *Config) { c.Workers = workers })

		w.SetTick(0)
		w.Update(func(tx voxel.Tx) {
			_, err := e.Queue(context.Background(), tx, Pending{Center: origin, Power: 2})
			require.NoError(t, err)
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		w.SetTick(1)
		var reports []Report
		w.Update(func(tx voxel.Tx) { reports = e.Tick(ctx, tx) })

		require.Len(t, reports, 1, "workers=%d", workers)
		require.Equal(t, offload.Fallback.String(), reports[0].Outcome)
		require.Positive(t, reports[0].Applied.Removed)
		require.Zero(t, e.Stats().Failed)
		require.Zero(t, e.Stats().PendingBatches)
		require.Equal(t, voxel.Air, w.Material(voxel.P(0, 63, 0)))
	}
}

func TestApplyChecksSnapshot(t *testing.T) {
	w := newWorld(t)
	w.Set(voxel.P(1, 64, 0), voxel.Dirt)
	e := testEngine(t, w, func(c *Config) { c.Workers = 0 })

	w.Update(func(tx voxel.Tx) {
		first := e.Snapshot(tx, origin, 2, false)
		second := e.Snapshot(tx, origin, 2, false)

		res, err := e.Calculate(first)
		require.NoError(t, err)

		_, err = e.Apply(tx, second, res, uuid.Nil)
		require.ErrorIs(t, err, ErrSnapshotMismatch)
		require.True(t, res.Released())

		_, err = e.Apply(tx, first, res, uuid.Nil)
		require.ErrorIs(t, err, ErrResultReleased)
	})
	require.Equal(t, voxel.Dirt, w.Material(voxel.P(1, 64, 0)))
}

func TestEnginePublishesApplied(t *testing.T) {
	w := newWorld(t)
	events := bus.New()

	var (
		mu      sync.Mutex
		reports []Report
	)
	_, err := events.Subscribe(EventApplied, func(ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, ev.Data().(Report))
		return nil
	})
	require.NoError(t, err)

	e := testEngine(t, w, nil, WithEventBus(events), WithWorldName("overworld"))
	source := uuid.New()
	w.Update(func(tx voxel.Tx) {
		_, err = e.ExplodeTx(context.Background(), tx, origin, 2, true, source)
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 1)
	require.Equal(t, source, reports[0].Source)
	require.Equal(t, "overworld", reports[0].World)
	require.True(t, reports[0].Ignites)
}

func TestExplodeThroughExecutor(t *testing.T) {
	w := newWorld(t)
	w.Fill(voxel.P(-2, 63, -2), voxel.P(2, 63, 2), voxel.Sand)
	runWorld(t, w)

	e := testEngine(t, w, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rep, err := e.Explode(ctx, w, origin, 2, false, uuid.Nil)
	require.NoError(t, err)
	require.Positive(t, rep.Applied.Removed)

	w.Close()
	_, err = e.Explode(ctx, w, origin, 2, false, uuid.Nil)
	require.ErrorIs(t, err, ErrNotRun)
}

func TestQueueMergesSameTick(t *testing.T) {
	w := newWorld(t)
	w.Fill(voxel.P(-4, 62, -4), voxel.P(12, 63, 12), voxel.Dirt)
	w.SetTick(5)

	e := testEngine(t, w, nil)
	ctx := context.Background()

	w.Update(func(tx voxel.Tx) {
		for _, c := range []voxel.Vec3{{0.5, 64.5, 0.5}, {2.5, 64.5, 0.5}, {1.5, 64.5, 3.5}} {
			out, err := e.Queue(ctx, tx, Pending{Center: c, Power: 2})
			require.NoError(t, err)
			require.Empty(t, out)
		}
		require.Empty(t, e.Tick(ctx, tx))
	})
	require.Equal(t, int64(1), e.Stats().PendingBatches)

	w.SetTick(6)
	var reports []Report
	w.Update(func(tx voxel.Tx) { reports = e.Tick(ctx, tx) })

	require.Len(t, reports, 1)
	require.Equal(t, 3, reports[0].Merged)
	require.InDelta(t, math.Sqrt(12), reports[0].Power, 1e-9)
	require.InDeltaSlice(t, []float64{1.5, 64.5, 1.5}, reports[0].Center[:], 1e-9)
	require.Zero(t, e.Stats().PendingBatches)
}

func TestQueueSeparatesChunks(t *testing.T) {
	w := newWorld(t)
	e := testEngine(t, w, nil)
	ctx := context.Background()

	w.Update(func(tx voxel.Tx) {
		_, err := e.Queue(ctx, tx, Pending{Center: voxel.Vec3{0.5, 64.5, 0.5}, Power: 1})
		require.NoError(t, err)
		_, err = e.Queue(ctx, tx, Pending{Center: voxel.Vec3{40.5, 64.5, 0.5}, Power: 1})
		require.NoError(t, err)
	})

	w.SetTick(1)
	var reports []Report
	w.Update(func(tx voxel.Tx) { reports = e.Tick(ctx, tx) })
	require.Len(t, reports, 2)
	for _, r := range reports {
		require.Equal(t, 1, r.Merged)
	}
}

func TestQueueRunsFullBatch(t *testing.T) {
	w := newWorld(t)
	e := testEngine(t, w, func(c *Config) { c.MaxBatchSize = 2 })
	ctx := context.Background()

	w.Update(func(tx voxel.Tx) {
		out, err := e.Queue(ctx, tx, Pending{Center: origin, Power: 1})
		require.NoError(t, err)
		require.Empty(t, out)

		out, err = e.Queue(ctx, tx, Pending{Center: origin, Power: 1})
		require.NoError(t, err)
		require.Len(t, out, 1)
		require.Equal(t, 2, out[0].Merged)
	})
}

func TestQueueWithoutBatching(t *testing.T) {
	w := newWorld(t)
	e := testEngine(t, w, func(c *Config) { c.Batching = false })

	w.Update(func(tx voxel.Tx) {
		out, err := e.Queue(context.Background(), tx, Pending{Center: origin, Power: 1})
		require.NoError(t, err)
		require.Len(t, out, 1)
	})
}

func TestEngineClose(t *testing.T) {
	w := newWorld(t)
	e := testEngine(t, w, nil)

	w.Update(func(tx voxel.Tx) {
		_, err := e.Queue(context.Background(), tx, Pending{Center: origin, Power: 1})
		require.NoError(t, err)
	})
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := explodeTx(t, w, e, origin, 1)
	require.ErrorIs(t, err, ErrEngineClosed)
	require.Zero(t, e.Stats().PendingBatches)
}
