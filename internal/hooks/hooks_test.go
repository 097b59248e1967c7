package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesRunsInOrder(t *testing.T) {
	h := NewSeries[*[]string]("emit")
	var calls []string

	h.Tap("first", func(_ context.Context, log *[]string) error {
		*log = append(*log, "first")
		return nil
	})
	h.Tap("second", func(_ context.Context, log *[]string) error {
		*log = append(*log, "second")
		return nil
	})

	require.NoError(t, h.Call(context.Background(), &calls))
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, []string{"first", "second"}, h.Taps())
}

func TestSeriesStopsAtFirstError(t *testing.T) {
	h := NewSeries[int]("make")
	boom := errors.New("boom")
	secondCalled := false

	h.Tap("failing", func(context.Context, int) error { return boom })
	h.Tap("never", func(context.Context, int) error {
		secondCalled = true
		return nil
	})

	err := h.Call(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "hook make: failing")
	assert.False(t, secondCalled)
}

func TestWaterfallThreadsPayload(t *testing.T) {
	h := NewWaterfall[string]("beforeEmit")
	h.Tap("upper", func(_ context.Context, s string) (string, error) { return s + "-a", nil })
	h.Tap("suffix", func(_ context.Context, s string) (string, error) { return s + "-b", nil })

	out, err := h.Call(context.Background(), "html")
	require.NoError(t, err)
	assert.Equal(t, "html-a-b", out)
}

func TestWaterfallWithoutTapsReturnsPayload(t *testing.T) {
	h := NewWaterfall[[]int]("alterAssetTags")
	out, err := h.Call(context.Background(), []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, out)
}

func TestWaterfallErrorKeepsLastPayload(t *testing.T) {
	h := NewWaterfall[int]("afterTemplateExecution")
	h.Tap("inc", func(_ context.Context, n int) (int, error) { return n + 1, nil })
	h.Tap("fail", func(context.Context, int) (int, error) { return 0, errors.New("nope") })

	out, err := h.Call(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 2, out)
}

func TestCallHonorsCancelledContext(t *testing.T) {
	h := NewSeries[int]("done")
	called := false
	h.Tap("observer", func(context.Context, int) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Call(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
