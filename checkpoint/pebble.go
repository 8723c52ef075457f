package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/catalogbridge/encoding"
	"github.com/rs/zerolog/log"
)

// Key prefix for Pebble storage: /checkpoint/{topic}
const prefixCheckpoint = "/checkpoint/"

// record is the persisted value, msgpack encoded
type record struct {
	Position  int64     `msgpack:"pos"`
	UpdatedAt time.Time `msgpack:"at"`
}

// PebbleStore persists the checkpoint in a local Pebble database
type PebbleStore struct {
	db    *pebble.DB
	path  string
	key   []byte
	topic string

	// Cached position, loaded at open and updated after each synced write
	mu       sync.Mutex
	position int

	closed atomic.Bool
}

// NewPebbleStore opens or creates {dataDir}/checkpoint and loads the position for topic
func NewPebbleStore(dataDir, topic string) (*PebbleStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	path := filepath.Join(dataDir, "checkpoint")
	db, err := pebble.Open(path, &pebble.Options{DisableWAL: false})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store at %s: %w", path, err)
	}

	ps := &PebbleStore{
		db:    db,
		path:  path,
		key:   []byte(prefixCheckpoint + topic),
		topic: topic,
	}

	if err := ps.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	log.Info().
		Str("topic", topic).
		Str("path", path).
		Int("position", ps.position).
		Msg("Opened pebble checkpoint store")

	return ps, nil
}

func (ps *PebbleStore) load() error {
	val, closer, err := ps.db.Get(ps.key)
	if err == pebble.ErrNotFound {
		ps.position = 0
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	var rec record
	if err := encoding.Unmarshal(val, &rec); err != nil {
		return fmt.Errorf("corrupted checkpoint for topic %s: %w", ps.topic, err)
	}
	if rec.Position < 0 {
		return fmt.Errorf("corrupted checkpoint for topic %s: negative position %d", ps.topic, rec.Position)
	}

	ps.position = int(rec.Position)
	return nil
}

func (ps *PebbleStore) Read(ctx context.Context) (int, error) {
	if ps.closed.Load() {
		return 0, ErrClosed
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.position, nil
}

func (ps *PebbleStore) Advance(ctx context.Context, position int) error {
	if ps.closed.Load() {
		return ErrClosed
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if position < ps.position {
		return &NonMonotonicError{Current: ps.position, Requested: position}
	}
	if position == ps.position {
		return nil
	}

	val, err := encoding.Marshal(&record{Position: int64(position), UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := ps.db.Set(ps.key, val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}

	// Only update the cached position after a successful synced write
	ps.position = position
	return nil
}

// Close closes the Pebble database
func (ps *PebbleStore) Close() error {
	if !ps.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("checkpoint store already closed")
	}
	return ps.db.Close()
}
