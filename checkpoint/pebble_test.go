package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPebbleStore(t *testing.T) {
	tmpDir := t.TempDir()

	ps, err := NewPebbleStore(tmpDir, "all_games_json")
	require.NoError(t, err)
	defer ps.Close()

	assert.Equal(t, filepath.Join(tmpDir, "checkpoint"), ps.path)
	assert.Equal(t, "/checkpoint/all_games_json", string(ps.key))

	pos, err := ps.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
}

func TestNewPebbleStore_Validation(t *testing.T) {
	_, err := NewPebbleStore("", "topic")
	assert.Error(t, err)

	_, err = NewPebbleStore(t.TempDir(), "")
	assert.Error(t, err)
}

func TestPebbleStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	ps, err := NewPebbleStore(tmpDir, "all_games_json")
	require.NoError(t, err)
	require.NoError(t, ps.Advance(ctx, 2))
	require.NoError(t, ps.Advance(ctx, 4))
	require.NoError(t, ps.Close())

	reopened, err := NewPebbleStore(tmpDir, "all_games_json")
	require.NoError(t, err)
	defer reopened.Close()

	pos, err := reopened.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, pos)

	err = reopened.Advance(ctx, 3)
	assert.ErrorIs(t, err, ErrNonMonotonic)
}

func TestPebbleStore_TopicsAreIndependent(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	games, err := NewPebbleStore(tmpDir, "all_games_json")
	require.NoError(t, err)
	require.NoError(t, games.Advance(ctx, 7))
	require.NoError(t, games.Close())

	other, err := NewPebbleStore(tmpDir, "player_counts")
	require.NoError(t, err)
	defer other.Close()

	pos, err := other.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
}

func TestPebbleStore_Closed(t *testing.T) {
	ctx := context.Background()
	ps, err := NewPebbleStore(t.TempDir(), "all_games_json")
	require.NoError(t, err)
	require.NoError(t, ps.Close())

	_, err = ps.Read(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ps.Advance(ctx, 1), ErrClosed)
	assert.Error(t, ps.Close(), "double close is reported")
}
