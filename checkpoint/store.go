// Package checkpoint tracks how many catalog entries have been published.
//
// A checkpoint is the count of catalog positions already handed to the
// broker. It only ever moves forward. Stores differ in durability:
//
//   - zero:   always reads 0 (every cycle replays the whole catalog)
//   - memory: survives for the life of the process
//   - pebble: local durable store, one key per topic
//   - redis:  shared durable store, one key per topic
//
// The publish loop is the only writer; stores serialize their own access but
// do not coordinate between processes beyond what the backend provides.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maxpert/catalogbridge/cfg"
)

// ErrNonMonotonic is matched by NonMonotonicError via errors.Is
var ErrNonMonotonic = errors.New("checkpoint cannot move backwards")

// ErrClosed is returned by stores used after Close
var ErrClosed = errors.New("checkpoint store is closed")

// NonMonotonicError reports an attempt to move a checkpoint backwards
type NonMonotonicError struct {
	Current   int
	Requested int
}

func (e *NonMonotonicError) Error() string {
	return fmt.Sprintf("checkpoint cannot move backwards: current=%d requested=%d", e.Current, e.Requested)
}

func (e *NonMonotonicError) Is(target error) bool {
	return target == ErrNonMonotonic
}

// Store persists the catalog position for one topic
type Store interface {
	// Read returns the committed position. It has no side effects.
	Read(ctx context.Context) (int, error)
	// Advance sets the position. Moving backwards fails with NonMonotonicError.
	Advance(ctx context.Context, position int) error
	// Close releases any resources held by the store
	Close() error
}

// Open creates the store selected by config for the given topic
func Open(config cfg.CheckpointConfiguration, topic string) (Store, error) {
	switch config.Store {
	case cfg.CheckpointZero:
		return NewZeroStore(), nil
	case cfg.CheckpointMemory, "":
		return NewMemoryStore(0), nil
	case cfg.CheckpointPebble:
		return NewPebbleStore(config.DataDir, topic)
	case cfg.CheckpointRedis:
		return NewRedisStore(RedisConfig{
			Addr:      config.RedisAddr,
			Password:  config.RedisPassword,
			DB:        config.RedisDB,
			KeyPrefix: config.KeyPrefix,
			Topic:     topic,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint store: %s", config.Store)
	}
}

// ZeroStore always reports position 0. Advances are validated and dropped,
// so every cycle republishes the full catalog.
type ZeroStore struct{}

// NewZeroStore creates a ZeroStore
func NewZeroStore() *ZeroStore {
	return &ZeroStore{}
}

func (z *ZeroStore) Read(ctx context.Context) (int, error) {
	return 0, nil
}

func (z *ZeroStore) Advance(ctx context.Context, position int) error {
	if position < 0 {
		return &NonMonotonicError{Current: 0, Requested: position}
	}
	return nil
}

func (z *ZeroStore) Close() error {
	return nil
}

// MemoryStore keeps the position in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	position int
}

// NewMemoryStore creates a MemoryStore starting at position
func NewMemoryStore(position int) *MemoryStore {
	return &MemoryStore{position: position}
}

func (m *MemoryStore) Read(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.position, nil
}

func (m *MemoryStore) Advance(ctx context.Context, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if position < m.position {
		return &NonMonotonicError{Current: m.position, Requested: position}
	}
	m.position = position
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
