package publisher

import (
	"sync/atomic"
	"time"

	"github.com/maxpert/catalogbridge/telemetry"
	"github.com/rs/zerolog/log"
)

// DeliveryStats is a snapshot of delivery outcomes since start
type DeliveryStats struct {
	Submitted uint64 `json:"submitted"`
	Acked     uint64 `json:"acked"`
	Nacked    uint64 `json:"nacked"`
}

// InFlight returns submitted events without an outcome yet
func (s DeliveryStats) InFlight() uint64 {
	done := s.Acked + s.Nacked
	if done > s.Submitted {
		return 0
	}
	return s.Submitted - done
}

// DeliveryTracker records broker acknowledgements. OnAck and OnNack are
// called from sink goroutines concurrently with the loop and each other;
// they only log and count, and never touch pipeline state.
type DeliveryTracker struct {
	submitted atomic.Uint64
	acked     atomic.Uint64
	nacked    atomic.Uint64
}

// NewDeliveryTracker creates a DeliveryTracker
func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{}
}

// Submitted records that an event was handed to the sink
func (d *DeliveryTracker) Submitted() {
	d.submitted.Add(1)
	telemetry.EventsSubmittedTotal.Inc()
	telemetry.InFlightEvents.Inc()
}

// SubmitFailed reverts Submitted for an event the sink refused. The
// submitted counter metric only grows; refusals land in submit_failures_total.
func (d *DeliveryTracker) SubmitFailed() {
	d.submitted.Add(^uint64(0))
	telemetry.InFlightEvents.Dec()
}

// OnAck records a committed event
func (d *DeliveryTracker) OnAck(ack Ack) {
	d.acked.Add(1)
	telemetry.DeliveriesTotal.With("ack").Inc()
	telemetry.InFlightEvents.Dec()

	committed := ack.Committed
	if committed.IsZero() {
		committed = time.Now()
	}

	log.Info().
		Str("topic", ack.Topic).
		Str("key", ack.Key).
		Str("stream", ack.Stream).
		Uint64("seq", ack.Sequence).
		Time("committed_at", committed).
		Msg("Event committed")
}

// OnNack records an event the broker failed to commit. The checkpoint is
// not rolled back and the event is not retried.
func (d *DeliveryTracker) OnNack(nack Nack) {
	d.nacked.Add(1)
	telemetry.DeliveriesTotal.With("nack").Inc()
	telemetry.InFlightEvents.Dec()

	log.Warn().
		Str("topic", nack.Topic).
		Str("key", nack.Key).
		Int("code", nack.Code).
		Str("error", nack.Message).
		Msg("Event was not committed")
}

// Stats returns a snapshot of the counters
func (d *DeliveryTracker) Stats() DeliveryStats {
	return DeliveryStats{
		Submitted: d.submitted.Load(),
		Acked:     d.acked.Load(),
		Nacked:    d.nacked.Load(),
	}
}
