package publisher

import (
	"context"
	"time"

	"github.com/maxpert/catalogbridge/catalog"
)

// Event is one serialized catalog entry ready to publish
type Event struct {
	Key      string // Decimal app id: partition key / dedup id
	Payload  []byte
	Mimetype string
}

// Ack confirms the broker committed an event
type Ack struct {
	Topic     string
	Key       string
	Stream    string    // Broker-side stream or partition the event landed in
	Sequence  uint64    // Broker-assigned sequence or offset
	Committed time.Time // Commit timestamp
}

// Nack reports the broker failed to commit an event
type Nack struct {
	Topic   string
	Key     string
	Code    int
	Message string
}

// AckFunc and NackFunc are invoked by sinks from their own goroutines,
// possibly concurrently and in any order.
type (
	AckFunc  func(Ack)
	NackFunc func(Nack)
)

// CatalogSource fetches the full upstream catalog
type CatalogSource interface {
	Fetch(ctx context.Context) ([]catalog.Entry, error)
}

// Sink is a pub/sub destination for events (e.g., NATS JetStream, Kafka)
type Sink interface {
	// TopicExists reports whether the topic is provisioned on the broker
	TopicExists(ctx context.Context, topic string) (bool, error)
	// PublishAsync submits an event without waiting for the broker.
	// Exactly one of onAck or onNack is called later for every submission
	// that returned nil.
	PublishAsync(topic string, event Event, onAck AckFunc, onNack NackFunc) error
	// Close waits briefly for in-flight publishes and releases resources
	Close() error
}

// Transformer converts a complete catalog entry into an event
type Transformer interface {
	Transform(entry catalog.Entry) (Event, error)
}

// Filter decides whether a catalog entry should be published
type Filter interface {
	// Match returns true if the entry with this name should be published
	Match(name string) bool
}
