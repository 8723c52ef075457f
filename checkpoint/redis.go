package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// advanceScript sets KEYS[1] to ARGV[1] unless that would move it backwards.
// Returns the stored value before the call; -1 when the update was rejected.
var advanceScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local requested = tonumber(ARGV[1])
if requested < current then
	return {-1, current}
end
redis.call("SET", KEYS[1], ARGV[1])
return {requested, current}
`)

// RedisConfig configures RedisStore
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Topic     string
	PoolSize  int
}

// RedisStore persists the checkpoint as a single redis key per topic
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 4
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return newRedisStore(client, config.KeyPrefix+config.Topic), nil
}

func newRedisStore(client *redis.Client, key string) *RedisStore {
	log.Info().Str("key", key).Msg("Using redis checkpoint store")
	return &RedisStore{client: client, key: key}
}

func (rs *RedisStore) Read(ctx context.Context) (int, error) {
	val, err := rs.client.Get(ctx, rs.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	position, err := strconv.Atoi(val)
	if err != nil || position < 0 {
		return 0, fmt.Errorf("corrupted checkpoint at %s: %q", rs.key, val)
	}
	return position, nil
}

func (rs *RedisStore) Advance(ctx context.Context, position int) error {
	res, err := advanceScript.Run(ctx, rs.client, []string{rs.key}, position).Int64Slice()
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("unexpected checkpoint script reply: %v", res)
	}
	if res[0] < 0 {
		return &NonMonotonicError{Current: int(res[1]), Requested: position}
	}
	return nil
}

// Close closes the redis client
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
