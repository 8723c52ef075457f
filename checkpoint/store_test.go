package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/maxpert/catalogbridge/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroStore(t *testing.T) {
	ctx := context.Background()
	s := NewZeroStore()

	require.NoError(t, s.Advance(ctx, 150))
	pos, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pos, "zero store never remembers progress")

	err = s.Advance(ctx, -1)
	assert.ErrorIs(t, err, ErrNonMonotonic)
}

func TestMemoryStore_Monotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	require.NoError(t, s.Advance(ctx, 4))
	require.NoError(t, s.Advance(ctx, 4), "re-advancing to the same position is allowed")
	require.NoError(t, s.Advance(ctx, 10))

	err := s.Advance(ctx, 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonMonotonic)

	var nm *NonMonotonicError
	require.True(t, errors.As(err, &nm))
	assert.Equal(t, 10, nm.Current)
	assert.Equal(t, 9, nm.Requested)

	pos, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, pos)
}

func TestMemoryStore_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := s.Read(ctx); err != nil {
					t.Errorf("Read failed: %v", err)
					return
				}
			}
		}()
	}
	for i := 1; i <= 100; i++ {
		require.NoError(t, s.Advance(ctx, i))
	}
	wg.Wait()

	pos, _ := s.Read(ctx)
	assert.Equal(t, 100, pos)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		config   cfg.CheckpointConfiguration
		expected any
	}{
		{"zero", cfg.CheckpointConfiguration{Store: cfg.CheckpointZero}, &ZeroStore{}},
		{"memory", cfg.CheckpointConfiguration{Store: cfg.CheckpointMemory}, &MemoryStore{}},
		{"default", cfg.CheckpointConfiguration{}, &MemoryStore{}},
		{"pebble", cfg.CheckpointConfiguration{Store: cfg.CheckpointPebble, DataDir: t.TempDir()}, &PebbleStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.config, "all_games_json")
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.expected, s)
		})
	}

	_, err := Open(cfg.CheckpointConfiguration{Store: "etcd"}, "all_games_json")
	assert.Error(t, err)
}
