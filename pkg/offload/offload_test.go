package offload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func double(_ context.Context, v int) (int, error) { return v * 2, nil }

func TestSubmitApplied(t *testing.T) {
	o := New[int, int](2, nil)
	h := o.Submit(context.Background(), 21, double)

	r, outcome, err := o.TryApply(h, time.Second, func() (int, error) {
		t.Fatal("fallback must not run")
		return 0, nil
	})
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)
	require.Equal(t, 42, r)
}

func TestSubmitInlineWhenDisabled(t *testing.T) {
	o := New[int, int](0, nil)
	h := o.Submit(context.Background(), 4, double)

	select {
	case <-h.Done():
	default:
		t.Fatal("inline handle must be complete")
	}

	r, outcome, err := o.TryApply(h, time.Nanosecond, nil)
	require.NoError(t, err)
	require.Equal(t, Inline, outcome)
	require.Equal(t, 8, r)
	require.EqualValues(t, 1, o.Stats().Inline)
}

func TestSubmitInlineWhenSaturated(t *testing.T) {
	o := New[int, int](1, nil)
	release := make(chan struct{})
	slow := o.Submit(context.Background(), 1, func(_ context.Context, v int) (int, error) {
		<-release
		return v, nil
	})

	h := o.Submit(context.Background(), 5, double)
	_, outcome, err := o.TryApply(h, time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, Inline, outcome)

	close(release)
	r, err := slow.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, r)
}

func TestTimeoutFallsBackAndDiscards(t *testing.T) {
	var discarded atomic.Int64
	o := New[int, int](1, func(r int) { discarded.Store(int64(r)) })

	release := make(chan struct{})
	finished := make(chan struct{})
	h := o.Submit(context.Background(), 7, func(_ context.Context, v int) (int, error) {
		defer close(finished)
		<-release
		return v * 100, nil
	})

	r, outcome, err := o.TryApply(h, 5*time.Millisecond, func() (int, error) { return -1, nil })
	require.NoError(t, err)
	require.Equal(t, Fallback, outcome)
	require.Equal(t, -1, r)

	close(release)
	<-finished
	require.Eventually(t, func() bool { return discarded.Load() == 700 }, time.Second, time.Millisecond)

	s := o.Stats()
	require.EqualValues(t, 1, s.Abandoned)
	require.EqualValues(t, 1, s.Discarded)
}

func TestTimeoutWithoutFallback(t *testing.T) {
	o := New[int, int](1, nil)
	release := make(chan struct{})
	defer close(release)

	h := o.Submit(context.Background(), 1, func(_ context.Context, v int) (int, error) {
		<-release
		return v, nil
	})
	_, outcome, err := o.TryApply(h, time.Millisecond, nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, Fallback, outcome)
}

func TestPanicIsRecovered(t *testing.T) {
	o := New[int, int](1, nil)
	h := o.Submit(context.Background(), 1, func(context.Context, int) (int, error) {
		panic("bad snapshot")
	})
	_, _, err := o.TryApply(h, time.Second, nil)
	require.ErrorIs(t, err, ErrPanic)
}

func TestBatch(t *testing.T) {
	out, err := Batch(context.Background(), 2, []int{1, 2, 3, 4}, double)
	require.NoError(t, err)
	require.Equal(t, []int{2, 4, 6, 8}, out)

	boom := errors.New("boom")
	_, err = Batch(context.Background(), 0, []int{1, 2}, func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	})
	require.ErrorIs(t, err, boom)
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "applied", Applied.String())
	require.Equal(t, "inline", Inline.String())
	require.Equal(t, "fallback", Fallback.String())
}
