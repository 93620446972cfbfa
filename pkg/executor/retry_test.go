package executor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securactl/securactl/pkg/remote"
)

func TestRetryerExhaustsAttemptsWithExponentialBackoff(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetryer(4, zerolog.Nop()).WithSleeper(func(d time.Duration) {
		sleeps = append(sleeps, d)
	})

	attempts := 0
	err := r.Do(context.Background(), "volume.create", func(context.Context) error {
		attempts++
		return remote.NewError(remote.CodeUnavailable, "service busy")
	})

	require.Error(t, err)
	assert.True(t, remote.IsRetryable(err))
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, sleeps)
}

func TestRetryerReturnsNonRetryableImmediately(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetryer(5, zerolog.Nop()).WithSleeper(func(d time.Duration) {
		sleeps = append(sleeps, d)
	})

	attempts := 0
	err := r.Do(context.Background(), "volume.create", func(context.Context) error {
		attempts++
		return remote.NewError(remote.CodePermissionDenied, "no CREATE privilege")
	})

	require.Error(t, err)
	assert.True(t, remote.IsPermissionDenied(err))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sleeps)
}

func TestRetryerStopsAfterSuccess(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetryer(5, zerolog.Nop()).WithSleeper(func(d time.Duration) {
		sleeps = append(sleeps, d)
	})

	attempts := 0
	err := r.Do(context.Background(), "volume.update", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return remote.NewError(remote.CodeInternal, "hiccup")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeps)
}

func TestRollbackContinueOnErrorKeepsPopping(t *testing.T) {
	stack := NewRollbackStack(true, zerolog.Nop())

	var ran []string
	stack.Push("undo a", func(context.Context) error {
		ran = append(ran, "a")
		return nil
	})
	stack.Push("undo b", func(context.Context) error {
		ran = append(ran, "b")
		return remote.NewError(remote.CodeInternal, "boom")
	})
	stack.Push("undo c", func(context.Context) error {
		ran = append(ran, "c")
		return nil
	})

	require.NoError(t, stack.Rollback(context.Background()))
	assert.Equal(t, []string{"c", "b", "a"}, ran)
	assert.Zero(t, stack.Len())
}
