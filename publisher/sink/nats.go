package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/catalogbridge/cfg"
	"github.com/maxpert/catalogbridge/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNatsMaxPending   = 4096
	DefaultNatsFlushTimeout = 10 * time.Second
)

func init() {
	publisher.RegisterSink(cfg.BrokerNATS, func(config cfg.BrokerConfiguration) (publisher.Sink, error) {
		if config.NATSURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(NatsConfig{
			URL:             config.NATSURL,
			CredentialsPath: config.CredentialsPath,
			MaxPending:      config.MaxPending,
			ConnectTimeout:  time.Duration(config.ConnectTimeoutSeconds) * time.Second,
		})
	})
}

// NatsConfig holds configuration for NatsSink
type NatsConfig struct {
	URL             string        // Server URL(s), comma separated
	CredentialsPath string        // Optional .creds file
	MaxPending      int           // Unacknowledged publishes before PublishAsync stalls
	ConnectTimeout  time.Duration // Dial timeout
	FlushTimeout    time.Duration // Close waits this long for outstanding acks
}

type pendingAck struct {
	topic  string
	key    string
	future jetstream.PubAckFuture
	onAck  publisher.AckFunc
	onNack publisher.NackFunc
}

// NatsSink implements the Sink interface for NATS JetStream publishing.
// The topic is both the stream name and its subject.
type NatsSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NatsConfig

	mu      sync.RWMutex
	closed  bool
	pending chan pendingAck
	abort   chan struct{}
	done    chan struct{}
}

// NewNatsSink connects to NATS and starts the ack dispatcher
func NewNatsSink(config NatsConfig) (*NatsSink, error) {
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultNatsMaxPending
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = DefaultNatsFlushTimeout
	}

	opts := []nats.Option{
		nats.Name("catalogbridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	}
	if config.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(config.ConnectTimeout))
	}
	if config.CredentialsPath != "" {
		opts = append(opts, nats.UserCredentials(config.CredentialsPath))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc, jetstream.WithPublishAsyncMaxPending(config.MaxPending))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	n := &NatsSink{
		nc:      nc,
		js:      js,
		config:  config,
		pending: make(chan pendingAck, config.MaxPending),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	go n.dispatch()

	return n, nil
}

// TopicExists reports whether a JetStream stream named topic exists
func (n *NatsSink) TopicExists(ctx context.Context, topic string) (bool, error) {
	_, err := n.js.Stream(ctx, topic)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up stream %s: %w", topic, err)
	}
	return true, nil
}

// PublishAsync publishes to the topic subject without waiting for the ack.
// The event key becomes the Nats-Msg-Id, so a replayed entry inside the
// stream's duplicate window is stored once.
func (n *NatsSink) PublishAsync(topic string, event publisher.Event, onAck publisher.AckFunc, onNack publisher.NackFunc) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return fmt.Errorf("nats sink is closed")
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    event.Payload,
		Header:  nats.Header{},
	}
	msg.Header.Set("Content-Type", event.Mimetype)
	msg.Header.Set("key", event.Key)

	future, err := n.js.PublishMsgAsync(msg, jetstream.WithMsgID(topic+"-"+event.Key))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	n.pending <- pendingAck{
		topic:  topic,
		key:    event.Key,
		future: future,
		onAck:  onAck,
		onNack: onNack,
	}
	return nil
}

// dispatch resolves futures in submission order and fires callbacks
func (n *NatsSink) dispatch() {
	defer close(n.done)

	for p := range n.pending {
		select {
		case ack := <-p.future.Ok():
			if p.onAck != nil {
				p.onAck(publisher.Ack{
					Topic:     p.topic,
					Key:       p.key,
					Stream:    ack.Stream,
					Sequence:  ack.Sequence,
					Committed: time.Now(),
				})
			}
		case err := <-p.future.Err():
			n.nack(p, natsErrorCode(err), err.Error())
		case <-n.abort:
			n.nack(p, -1, "sink closed before acknowledgement")
		}
	}
}

func (n *NatsSink) nack(p pendingAck, code int, message string) {
	if p.onNack != nil {
		p.onNack(publisher.Nack{
			Topic:   p.topic,
			Key:     p.key,
			Code:    code,
			Message: message,
		})
	}
}

// natsErrorCode extracts the JetStream API error code, or -1 for client-side errors
func natsErrorCode(err error) int {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return -1
}

// Close waits for outstanding acks up to FlushTimeout, then closes the connection
func (n *NatsSink) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.pending)
	n.mu.Unlock()

	var err error
	select {
	case <-n.js.PublishAsyncComplete():
	case <-time.After(n.config.FlushTimeout):
		err = fmt.Errorf("timed out waiting for %d JetStream acks", n.js.PublishAsyncPending())
		close(n.abort)
	}

	<-n.done
	if n.nc != nil {
		n.nc.Close()
	}
	return err
}
