package hook

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainableFoldsObserverResults(t *testing.T) {
	h := NewChainable[int]("doubling")
	h.Tap(func(_ context.Context, v int) (int, error) { return v + 1, nil })
	h.Tap(func(_ context.Context, v int) (int, error) { return v * 2, nil })

	out, err := h.Invoke(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 8, out)
	assert.Equal(t, 2, h.Len())
}

func TestChainableAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	h := NewChainable[string]("aborting")
	h.Tap(func(_ context.Context, v string) (string, error) { return v + "-a", nil })
	h.Tap(func(_ context.Context, v string) (string, error) { return "", boom })
	reached := false
	h.Tap(func(_ context.Context, v string) (string, error) {
		reached = true
		return v, nil
	})

	out, err := h.Invoke(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "aborting")
	assert.False(t, reached)
	// the value that reached the failing observer comes back
	assert.Equal(t, "x-a", out)
}

func TestChainableNoObservers(t *testing.T) {
	h := NewChainable[int]("empty")
	out, err := h.Invoke(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestFireAndForgetRunsAllObservers(t *testing.T) {
	h := NewFireAndForget[int]("notify")
	var seen []int
	h.Tap(func(_ context.Context, v int) error {
		seen = append(seen, v)
		return errors.New("ignored")
	})
	h.Tap(func(_ context.Context, v int) error {
		seen = append(seen, v*10)
		return nil
	})

	h.Invoke(context.Background(), 5)
	// an earlier failure never blocks later observers
	assert.Equal(t, []int{5, 50}, seen)
}
