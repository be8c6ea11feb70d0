package iteration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func double(_ context.Context, item, _ int) (int, error) {
	return item * 2, nil
}

func TestMap_Sequential(t *testing.T) {
	results, err := Map(context.Background(), Config{Strategy: StrategySequential}, []int{1, 2, 3}, double)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, results)
}

func TestMap_ParallelKeepsOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	results, err := Map(context.Background(), Config{Strategy: StrategyParallel, MaxConcurrent: 4}, items,
		func(_ context.Context, item, _ int) (int, error) {
			time.Sleep(time.Duration(50-item) * 50 * time.Microsecond)
			return item * 2, nil
		})
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, i*2, r)
	}
}

func TestMap_Empty(t *testing.T) {
	results, err := Map(context.Background(), Config{}, []int(nil), double)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMap_SequentialFailFast(t *testing.T) {
	var calls int
	_, err := Map(context.Background(), Config{Strategy: StrategySequential}, []int{1, 2, 3, 4},
		func(_ context.Context, item, index int) (int, error) {
			calls++
			if index == 2 {
				return 0, errors.New("boom")
			}
			return item, nil
		})

	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 2, itemErr.Index)
	assert.EqualError(t, err, "failed processing item 2: boom")
	assert.Equal(t, 3, calls)
}

func TestMap_ParallelBoundsWorkers(t *testing.T) {
	var active, peak atomic.Int32
	items := make([]int, 20)
	_, err := Map(context.Background(), Config{Strategy: StrategyParallel, MaxConcurrent: 3}, items,
		func(_ context.Context, item, _ int) (int, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			return item, nil
		})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMap_ParallelCancelsOnError(t *testing.T) {
	_, err := Map(context.Background(), Config{Strategy: StrategyParallel, MaxConcurrent: 2}, []int{0, 1, 2, 3},
		func(ctx context.Context, item, _ int) (int, error) {
			if item == 0 {
				return 0, errors.New("first")
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Second):
				return item, nil
			}
		})
	require.Error(t, err)
}

func TestMap_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Map(ctx, Config{Strategy: StrategySequential}, []int{1}, double)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStrategyValid(t *testing.T) {
	assert.True(t, StrategyParallel.Valid())
	assert.False(t, Strategy("batch").Valid())
}
