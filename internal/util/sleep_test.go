package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepContext(t *testing.T) {
	t.Run("zero_duration", func(t *testing.T) {
		assert.NoError(t, SleepContext(context.Background(), 0))
	})

	t.Run("short_sleep", func(t *testing.T) {
		start := time.Now()
		assert.NoError(t, SleepContext(context.Background(), 10*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := SleepContext(ctx, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("cancelled_zero_duration", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, SleepContext(ctx, 0), context.Canceled)
	})
}
