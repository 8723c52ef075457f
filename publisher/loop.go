package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/maxpert/catalogbridge/catalog"
	"github.com/maxpert/catalogbridge/checkpoint"
	"github.com/maxpert/catalogbridge/telemetry"
	"github.com/rs/zerolog/log"
)

// Default interval between cycles
const DefaultPollInterval = 5 * time.Minute

// State is the publish loop state
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDiffing
	StatePublishing
	StateCheckpointAdvancing
	StateSleeping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDiffing:
		return "diffing"
	case StatePublishing:
		return "publishing"
	case StateCheckpointAdvancing:
		return "checkpoint_advancing"
	case StateSleeping:
		return "sleeping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoopConfig configures the publish loop
type LoopConfig struct {
	Topic       string           // Destination topic
	Source      CatalogSource    // Upstream catalog
	Checkpoint  checkpoint.Store // Catalog position already published
	Sink        Sink             // Broker client
	Transformer Transformer      // Entry -> event
	Filter      Filter           // Optional name filter (nil = all)
	Tracker     *DeliveryTracker // Optional (nil = new tracker)
	Interval    time.Duration    // Sleep between cycles
	Clock       clockwork.Clock  // Optional (nil = real clock)
}

// CycleResult summarizes one fetch/diff/publish/advance pass
type CycleResult struct {
	ID               string `json:"id"`
	Fetched          int    `json:"fetched"`
	Published        int    `json:"published"`
	Incomplete       int    `json:"incomplete"`
	Filtered         int    `json:"filtered"`
	Failed           int    `json:"failed"` // Transform errors
	CheckpointBefore int    `json:"checkpoint_before"`
	CheckpointAfter  int    `json:"checkpoint_after"`
	Transient        bool   `json:"transient"` // Abandoned, retried next cycle
	Reason           string `json:"reason,omitempty"`
}

// Status is a point-in-time view of the loop
type Status struct {
	Topic      string        `json:"topic"`
	State      string        `json:"state"`
	Cycles     uint64        `json:"cycles"`
	LastCycle  *CycleResult  `json:"last_cycle,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	Deliveries DeliveryStats `json:"deliveries"`
}

// Loop polls the catalog and publishes entries past the checkpoint.
// A single goroutine runs it; only that goroutine writes the checkpoint.
type Loop struct {
	config LoopConfig
	state  atomic.Int32
	cycles atomic.Uint64

	mu        sync.RWMutex
	lastCycle *CycleResult
	lastErr   error
}

// NewLoop creates a new publish loop
func NewLoop(config LoopConfig) (*Loop, error) {
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("catalog source is required")
	}
	if config.Checkpoint == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}

	if config.Filter == nil {
		config.Filter = matchAll{}
	}
	if config.Tracker == nil {
		config.Tracker = NewDeliveryTracker()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultPollInterval
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Loop{config: config}, nil
}

// Tracker returns the delivery tracker used for callbacks
func (l *Loop) Tracker() *DeliveryTracker {
	return l.config.Tracker
}

// Status returns the current loop status
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{
		Topic:      l.config.Topic,
		State:      State(l.state.Load()).String(),
		Cycles:     l.cycles.Load(),
		Deliveries: l.config.Tracker.Stats(),
	}
	if l.lastCycle != nil {
		c := *l.lastCycle
		st.LastCycle = &c
	}
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	return st
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run verifies the topic, then cycles until ctx is canceled or a fatal
// error occurs. Cancellation returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Preflight(ctx); err != nil {
		return l.fail(err)
	}

	log.Info().
		Str("topic", l.config.Topic).
		Dur("interval", l.config.Interval).
		Msg("Starting catalog publish loop")

	for {
		if _, err := l.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				l.setState(StateIdle)
				return nil
			}
			return l.fail(err)
		}

		if !l.sleep(ctx) {
			l.setState(StateIdle)
			log.Info().Str("topic", l.config.Topic).Msg("Catalog publish loop stopped")
			return nil
		}
	}
}

// Preflight fails with ErrTopicMissing when the topic is not provisioned
func (l *Loop) Preflight(ctx context.Context) error {
	exists, err := l.config.Sink.TopicExists(ctx, l.config.Topic)
	if err != nil {
		return fmt.Errorf("failed to check topic %s: %w", l.config.Topic, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTopicMissing, l.config.Topic)
	}
	return nil
}

// RunCycle runs one fetch/diff/publish/advance pass. Transient failures are
// reported in the result with a nil error; a non-nil error is fatal.
func (l *Loop) RunCycle(ctx context.Context) (CycleResult, error) {
	start := l.config.Clock.Now()
	res := CycleResult{ID: uuid.NewString()}
	logger := log.With().Str("topic", l.config.Topic).Str("cycle", res.ID).Logger()

	defer func() {
		l.cycles.Add(1)
		telemetry.CycleDurationSeconds.Observe(l.config.Clock.Since(start).Seconds())
		l.mu.Lock()
		l.lastCycle = &res
		l.mu.Unlock()
	}()

	// Fetching
	l.setState(StateFetching)
	fetchStart := l.config.Clock.Now()
	entries, err := l.config.Source.Fetch(ctx)
	outcome := fetchResultLabel(err)
	telemetry.CatalogFetchSeconds.With(outcome).Observe(l.config.Clock.Since(fetchStart).Seconds())
	telemetry.CatalogFetchTotal.With(outcome).Inc()
	if err != nil {
		if errors.Is(err, catalog.ErrUpstreamUnavailable) {
			telemetry.CyclesTotal.With("transient").Inc()
			logger.Warn().Err(err).Msg("Catalog fetch failed, retrying next cycle")
			res.Transient = true
			res.Reason = err.Error()
			return res, nil
		}
		telemetry.CyclesTotal.With("fatal").Inc()
		return res, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	telemetry.CatalogEntries.Set(float64(len(entries)))
	res.Fetched = len(entries)

	// Diffing
	l.setState(StateDiffing)
	idx, err := l.config.Checkpoint.Read(ctx)
	if err != nil {
		telemetry.CyclesTotal.With("fatal").Inc()
		return res, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	res.CheckpointBefore = idx
	res.CheckpointAfter = idx
	if idx > len(entries) {
		telemetry.CyclesTotal.With("fatal").Inc()
		return res, &CheckpointOutOfRangeError{Checkpoint: idx, CatalogLength: len(entries)}
	}
	delta := entries[idx:]

	logger.Debug().
		Int("checkpoint", idx).
		Int("catalog", len(entries)).
		Int("delta", len(delta)).
		Msg("Computed catalog delta")

	// Publishing
	l.setState(StatePublishing)
	for _, entry := range delta {
		if !entry.Complete() {
			res.Incomplete++
			telemetry.EntriesSkippedTotal.With("incomplete").Inc()
			continue
		}
		if !l.config.Filter.Match(entry.Title()) {
			res.Filtered++
			telemetry.EntriesSkippedTotal.With("filtered").Inc()
			continue
		}

		event, err := l.config.Transformer.Transform(entry)
		if err != nil {
			res.Failed++
			telemetry.EntriesSkippedTotal.With("transform_error").Inc()
			logger.Warn().Err(err).Int64("appid", entry.ID()).Msg("Failed to build event, skipping entry")
			continue
		}
		if event.Key == "" {
			event.Key = strconv.FormatInt(entry.ID(), 10)
		}

		// Counted before submission: a sink may call back before PublishAsync returns
		l.config.Tracker.Submitted()
		if err := l.config.Sink.PublishAsync(l.config.Topic, event, l.config.Tracker.OnAck, l.config.Tracker.OnNack); err != nil {
			l.config.Tracker.SubmitFailed()
			telemetry.SubmitFailuresTotal.Inc()
			telemetry.CyclesTotal.With("transient").Inc()
			logger.Warn().
				Err(err).
				Int64("appid", entry.ID()).
				Int("submitted", res.Published).
				Msg("Failed to submit event, checkpoint not advanced")
			res.Transient = true
			res.Reason = err.Error()
			return res, nil
		}
		res.Published++
	}

	// CheckpointAdvancing. This happens once every event is submitted, not
	// once every event is acknowledged: a nack after this point is not
	// republished unless the checkpoint is reset.
	l.setState(StateCheckpointAdvancing)
	if err := l.config.Checkpoint.Advance(ctx, len(entries)); err != nil {
		telemetry.CyclesTotal.With("fatal").Inc()
		return res, fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	res.CheckpointAfter = len(entries)
	telemetry.CheckpointPosition.Set(float64(len(entries)))
	telemetry.CyclesTotal.With("published").Inc()

	logger.Info().
		Int("published", res.Published).
		Int("incomplete", res.Incomplete).
		Int("filtered", res.Filtered).
		Int("checkpoint", res.CheckpointAfter).
		Msg("Catalog cycle complete")

	return res, nil
}

// fetchResultLabel classifies a fetch outcome for metrics
func fetchResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, catalog.ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "format_error"
	}
}

// sleep waits for the poll interval. Returns false if ctx was canceled.
func (l *Loop) sleep(ctx context.Context) bool {
	l.setState(StateSleeping)

	select {
	case <-ctx.Done():
		return false
	case <-l.config.Clock.After(l.config.Interval):
		return true
	}
}

func (l *Loop) fail(err error) error {
	l.setState(StateFailed)
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
	return err
}
