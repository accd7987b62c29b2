package utils_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/blixtwallet/blixtd/utils"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	t.Run("succeeds after a few attempts", func(t *testing.T) {
		attempts := 0
		err := utils.Retry(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
			attempts++
			return attempts == 3, nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("stops on error", func(t *testing.T) {
		attempts := 0
		err := utils.Retry(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
			attempts++
			return false, fmt.Errorf("boom")
		})
		require.Error(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("times out", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := utils.Retry(ctx, time.Millisecond, func(ctx context.Context) (bool, error) {
			return false, nil
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "timed out")
	})

	t.Run("respects cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := utils.Retry(ctx, time.Millisecond, func(ctx context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}
