package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/maxpert/catalogbridge/cfg"
	"github.com/maxpert/catalogbridge/checkpoint"
	"github.com/rs/zerolog/log"
)

// RegistryConfig wires a publish loop from configuration
type RegistryConfig struct {
	Config     *cfg.Configuration
	Source     CatalogSource
	Checkpoint checkpoint.Store
	Clock      clockwork.Clock // Optional
}

// Registry owns the sink, checkpoint store and loop built from configuration
type Registry struct {
	loop   *Loop
	sink   Sink
	store  checkpoint.Store
	closed atomic.Bool
}

// NewRegistry creates the sink and transformer registered for the configured
// broker type and format, and builds the loop around them.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Config == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("catalog source is required")
	}
	if config.Checkpoint == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}

	c := config.Config

	trans, err := createTransformer(c.Publisher.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(c.Publisher.IncludeNames, c.Publisher.ExcludeNames)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter: %w", err)
	}

	snk, err := createSink(c.Broker)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	loop, err := NewLoop(LoopConfig{
		Topic:       c.Publisher.Topic,
		Source:      config.Source,
		Checkpoint:  config.Checkpoint,
		Sink:        snk,
		Transformer: trans,
		Filter:      filter,
		Interval:    time.Duration(c.Publisher.PollIntervalSeconds) * time.Second,
		Clock:       config.Clock,
	})
	if err != nil {
		snk.Close()
		return nil, fmt.Errorf("failed to create loop: %w", err)
	}

	log.Info().
		Str("broker", string(c.Broker.Type)).
		Str("format", c.Publisher.Format).
		Str("topic", c.Publisher.Topic).
		Msg("Catalog publisher initialized")

	return &Registry{
		loop:  loop,
		sink:  snk,
		store: config.Checkpoint,
	}, nil
}

// Loop returns the publish loop
func (r *Registry) Loop() *Loop {
	return r.loop
}

// Run runs the loop until ctx is canceled or a fatal error occurs
func (r *Registry) Run(ctx context.Context) error {
	if r.closed.Load() {
		return fmt.Errorf("registry is closed")
	}
	return r.loop.Run(ctx)
}

// Close flushes and closes the sink, then the checkpoint store
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	log.Info().Msg("Stopping catalog publisher")

	var errs []error
	if err := r.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close sink: %w", err))
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close checkpoint store: %w", err))
	}
	return errors.Join(errs...)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.BrokerConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[cfg.BrokerType]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a broker type
func RegisterSink(brokerType cfg.BrokerType, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[brokerType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// createSink creates a sink based on the configuration
func createSink(config cfg.BrokerConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown broker type: %s", config.Type)
	}

	return factory(config)
}

// createTransformer creates a transformer based on the format
func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	return factory(), nil
}
