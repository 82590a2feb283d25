package explosion

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blastcore/internal/core/voxel"
	"github.com/zeusync/blastcore/internal/core/voxel/memworld"
)

func newSession(t *testing.T, name string) (*Session, *memworld.World) {
	t.Helper()
	w := newWorld(t)
	runWorld(t, w)
	return NewSession(name, w, testEngine(t, w, nil)), w
}

func TestSessionLifecycle(t *testing.T) {
	s, w := newSession(t, "overworld")
	w.Fill(voxel.P(-2, 63, -2), voxel.P(2, 63, 2), voxel.Dirt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rep, err := s.Detonate(ctx, origin, 2, false, uuid.Nil)
	require.NoError(t, err)
	require.Positive(t, rep.Applied.Removed)

	out, err := s.Enqueue(ctx, Pending{Center: origin, Power: 1})
	require.NoError(t, err)
	require.Empty(t, out)

	w.Tick()
	reports, err := s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), st.Explosions)

	require.NoError(t, s.Close(ctx))
	_, err = s.Detonate(ctx, origin, 2, false, uuid.Nil)
	require.ErrorIs(t, err, ErrEngineClosed)
}

func TestSessionCloseAfterLoopStopped(t *testing.T) {
	s, w := newSession(t, "nether")
	w.Close()
	require.NoError(t, s.Close(context.Background()))
	require.ErrorIs(t, func() error {
		_, err := s.Engine().Queue(context.Background(), nil, Pending{Power: 1})
		return err
	}(), ErrEngineClosed)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, _ := newSession(t, "b-world")
	b, _ := newSession(t, "a-world")

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.Error(t, r.Register(a))

	require.Equal(t, []string{"a-world", "b-world"}, r.Names())

	got, ok := r.Get("b-world")
	require.True(t, ok)
	require.Same(t, a, got)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, r.Remove(ctx, "b-world"))
	require.NoError(t, r.Remove(ctx, "missing"))
	_, ok = r.Get("b-world")
	require.False(t, ok)

	_, err := a.Detonate(ctx, origin, 1, false, uuid.Nil)
	require.ErrorIs(t, err, ErrEngineClosed)

	require.NoError(t, r.Close(ctx))
	require.Empty(t, r.Names())
}
