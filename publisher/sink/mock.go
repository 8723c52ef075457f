package sink

import (
	"context"
	"sync"
	"time"

	"github.com/maxpert/catalogbridge/publisher"
)

// MockSink is an in-memory Sink for testing. Callbacks fire synchronously
// from PublishAsync unless Manual is set, in which case Resolve fires them.
type MockSink struct {
	Messages   []MockMessage
	Topics     map[string]bool // Topics reported by TopicExists
	PublishErr error           // Returned by PublishAsync
	NackCode   int             // Non-zero: deliver nacks with this code
	Manual     bool            // Hold callbacks until Resolve

	mu      sync.Mutex
	waiting []func()
	closed  bool
}

// MockMessage represents a published message for testing
type MockMessage struct {
	Topic    string
	Key      string
	Value    []byte
	Mimetype string
}

// NewMockSink creates a MockSink that reports topics as existing
func NewMockSink(topics ...string) *MockSink {
	m := &MockSink{Topics: make(map[string]bool)}
	for _, t := range topics {
		m.Topics[t] = true
	}
	return m
}

// TopicExists reports whether topic was registered with the mock
func (m *MockSink) TopicExists(ctx context.Context, topic string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Topics[topic], nil
}

// PublishAsync records a message for later inspection in tests
func (m *MockSink) PublishAsync(topic string, event publisher.Event, onAck publisher.AckFunc, onNack publisher.NackFunc) error {
	m.mu.Lock()

	if m.PublishErr != nil {
		m.mu.Unlock()
		return m.PublishErr
	}

	m.Messages = append(m.Messages, MockMessage{
		Topic:    topic,
		Key:      event.Key,
		Value:    event.Payload,
		Mimetype: event.Mimetype,
	})
	seq := uint64(len(m.Messages))
	code := m.NackCode

	resolve := func() {
		if code != 0 {
			if onNack != nil {
				onNack(publisher.Nack{Topic: topic, Key: event.Key, Code: code, Message: "mock nack"})
			}
			return
		}
		if onAck != nil {
			onAck(publisher.Ack{Topic: topic, Key: event.Key, Stream: topic, Sequence: seq, Committed: time.Now()})
		}
	}

	if m.Manual {
		m.waiting = append(m.waiting, resolve)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	resolve()
	return nil
}

// Resolve fires held callbacks in reverse submission order and returns how many fired
func (m *MockSink) Resolve() int {
	m.mu.Lock()
	waiting := m.waiting
	m.waiting = nil
	m.mu.Unlock()

	for i := len(waiting) - 1; i >= 0; i-- {
		waiting[i]()
	}
	return len(waiting)
}

// Close fires any held callbacks
func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Resolve()
	return nil
}

// Closed reports whether Close was called
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.waiting = nil
}
