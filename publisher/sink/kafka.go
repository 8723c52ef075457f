package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/maxpert/catalogbridge/cfg"
	"github.com/maxpert/catalogbridge/publisher"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20 // 1MB
	DefaultKafkaTimeout    = 10 * time.Second
)

func init() {
	publisher.RegisterSink(cfg.BrokerKafka, func(config cfg.BrokerConfiguration) (publisher.Sink, error) {
		kafkaConfig := DefaultKafkaConfig(config.KafkaBrokers)
		kafkaConfig.DialTimeout = time.Duration(config.ConnectTimeoutSeconds) * time.Second

		if config.CredentialsPath != "" {
			mechanism, err := LoadKafkaCredentials(config.CredentialsPath)
			if err != nil {
				return nil, err
			}
			kafkaConfig.SASL = mechanism
		}

		return NewKafkaSink(kafkaConfig)
	})
}

// KafkaSink implements the Sink interface for Kafka publishing. Writes are
// asynchronous; per-message outcomes arrive through the writer's Completion
// callback on a kafka-go goroutine.
type KafkaSink struct {
	writer   *kafka.Writer
	metadata metadataClient
	config   KafkaConfig
}

// metadataClient is the subset of kafka.Client used for topic lookups
type metadataClient interface {
	Metadata(ctx context.Context, req *kafka.MetadataRequest) (*kafka.MetadataResponse, error)
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers      []string           // Kafka broker addresses
	BatchSize    int                // Batch size for async writes (default: 100)
	BatchBytes   int64              // Max batch bytes (default: 1MB)
	RequiredAcks kafka.RequiredAcks // Ack requirement (default: RequireAll)
	DialTimeout  time.Duration      // Connect timeout (default: 10s)
	SASL         sasl.Mechanism     // Optional authentication
}

// kafkaCredentials is the TOML credentials file layout:
//
//	username = "bridge"
//	password = "secret"
type kafkaCredentials struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// LoadKafkaCredentials reads a SASL/PLAIN username and password from path
func LoadKafkaCredentials(path string) (sasl.Mechanism, error) {
	var creds kafkaCredentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, fmt.Errorf("failed to read kafka credentials: %w", err)
	}
	if creds.Username == "" {
		return nil, fmt.Errorf("kafka credentials at %s have no username", path)
	}
	return plain.Mechanism{Username: creds.Username, Password: creds.Password}, nil
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		BatchSize:    DefaultKafkaBatchSize,
		BatchBytes:   DefaultKafkaBatchBytes,
		RequiredAcks: kafka.RequireAll,
		DialTimeout:  DefaultKafkaTimeout,
	}
}

// kafkaCallbacks travels with each message in WriterData
type kafkaCallbacks struct {
	key    string
	onAck  publisher.AckFunc
	onNack publisher.NackFunc
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	// Set defaults if not provided
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultKafkaTimeout
	}

	transport := &kafka.Transport{
		DialTimeout: config.DialTimeout,
		SASL:        config.SASL,
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{}, // Partition by app id
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		Async:                  true,
		AllowAutoTopicCreation: false, // Topics are provisioned out of band
		Transport:              transport,
		Completion:             completeKafkaBatch,
	}

	// Metadata requests from kafka.Client never ask the broker to auto-create
	client := &kafka.Client{
		Addr:      kafka.TCP(config.Brokers...),
		Transport: transport,
		Timeout:   config.DialTimeout,
	}

	return &KafkaSink{writer: writer, metadata: client, config: config}, nil
}

// TopicExists looks the topic up in cluster metadata without creating it
func (k *KafkaSink) TopicExists(ctx context.Context, topic string) (bool, error) {
	resp, err := k.metadata.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return false, fmt.Errorf("failed to read metadata for %s: %w", topic, err)
	}

	for _, t := range resp.Topics {
		if t.Name != topic {
			continue
		}
		if errors.Is(t.Error, kafka.UnknownTopicOrPartition) {
			return false, nil
		}
		if t.Error != nil {
			return false, fmt.Errorf("failed to read metadata for %s: %w", topic, t.Error)
		}
		return len(t.Partitions) > 0, nil
	}

	log.Debug().Str("topic", topic).Msg("Topic absent from kafka metadata")
	return false, nil
}

// PublishAsync queues a message keyed by the event key. The writer batches
// messages and invokes the callbacks once the brokers respond.
func (k *KafkaSink) PublishAsync(topic string, event publisher.Event, onAck publisher.AckFunc, onNack publisher.NackFunc) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.Key),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(event.Mimetype)},
		},
		WriterData: &kafkaCallbacks{key: event.Key, onAck: onAck, onNack: onNack},
	}

	// Async writers return immediately; only closed-writer and sizing errors surface here
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		return fmt.Errorf("failed to queue message for %s: %w", topic, err)
	}
	return nil
}

// completeKafkaBatch dispatches per-message callbacks for a finished batch.
// err is either nil, a kafka.WriteErrors aligned with msgs, or a batch-wide error.
func completeKafkaBatch(msgs []kafka.Message, err error) {
	var perMessage kafka.WriteErrors
	errors.As(err, &perMessage)

	for i, msg := range msgs {
		cb, ok := msg.WriterData.(*kafkaCallbacks)
		if !ok {
			continue
		}

		msgErr := err
		if perMessage != nil {
			msgErr = nil
			if i < len(perMessage) {
				msgErr = perMessage[i]
			}
		}

		if msgErr != nil {
			if cb.onNack != nil {
				cb.onNack(publisher.Nack{
					Topic:   msg.Topic,
					Key:     cb.key,
					Code:    kafkaErrorCode(msgErr),
					Message: msgErr.Error(),
				})
			}
			continue
		}

		if cb.onAck != nil {
			committed := msg.Time
			if committed.IsZero() {
				committed = time.Now()
			}
			cb.onAck(publisher.Ack{
				Topic:     msg.Topic,
				Key:       cb.key,
				Stream:    msg.Topic + "/" + strconv.Itoa(msg.Partition),
				Sequence:  uint64(msg.Offset),
				Committed: committed,
			})
		}
	}
}

// kafkaErrorCode extracts the protocol error code, or -1 for client-side errors
func kafkaErrorCode(err error) int {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return int(kerr)
	}
	return -1
}

// Close flushes queued messages and releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
