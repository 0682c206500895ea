package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-mobility/parkwatch/internal/store"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), "connect", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), "connect", func(context.Context) error {
		calls++
		if calls < 3 {
			return eris.Wrap(store.ErrUnavailable, "connect")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_DoesNotRetryPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), "lookup", func(context.Context) error {
		calls++
		return store.ErrNotFound
	})
	assert.True(t, eris.Is(err, store.ErrNotFound))
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), "connect", func(context.Context) error {
		calls++
		return store.ErrUnavailable
	})
	assert.True(t, eris.Is(err, store.ErrUnavailable))
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastConfig()
	cfg.InitialBackoff = time.Minute

	err := Do(ctx, cfg, "connect", func(context.Context) error {
		return store.ErrUnavailable
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled during retry")
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(eris.Wrap(store.ErrUnavailable, "ping")))
	assert.False(t, IsTransient(store.ErrNotFound))
	assert.False(t, IsTransient(eris.New("boom")))
}
