// Package publisher publishes new upstream catalog entries to a pub/sub topic.
//
// # Architecture
//
// The package consists of:
//
// 1. Loop: fetch -> diff against checkpoint -> publish delta -> advance -> sleep
// 2. DeliveryTracker: receives asynchronous ack/nack callbacks from sinks
// 3. GlobFilter: optional include/exclude name patterns
// 4. Interfaces: Sink, Transformer, CatalogSource and Filter abstractions
// 5. Registry: builds a Loop from configuration using registered factories
//
// # Loop
//
// Each cycle reads the checkpoint (the count of catalog entries already
// published) and publishes catalog[checkpoint:]. Entries without an id or a
// name are skipped. Events are submitted with PublishAsync and the loop does
// not wait for acknowledgements before submitting the next one.
//
// Delivery semantics: at-least-once with optimistic checkpointing.
//
//   - The checkpoint advances to len(catalog) once every event in the delta
//     has been submitted, before acks arrive.
//   - A nack is logged and counted; the event is not retried.
//   - A submission failure abandons the cycle without advancing, so the next
//     cycle republishes from the old checkpoint.
//   - Positions are indexes into the upstream list: if the upstream reorders
//     or removes entries, deltas are wrong. A checkpoint larger than the
//     catalog stops the loop with CheckpointOutOfRangeError.
//
// Example usage:
//
//	loop, err := publisher.NewLoop(publisher.LoopConfig{
//		Topic:       "all_games_json",
//		Source:      catalog.NewClient(url, apiKey, 30*time.Second),
//		Checkpoint:  checkpoint.NewMemoryStore(0),
//		Sink:        natsSink,
//		Transformer: transformer.NewJSONTransformer(),
//		Interval:    5 * time.Minute,
//	})
//	if err != nil {
//		return err
//	}
//	return loop.Run(ctx)
//
// # Thread Safety
//
// Loop.Run must be called from one goroutine. Status and the DeliveryTracker
// are safe for concurrent use; sinks call OnAck/OnNack from their own
// goroutines.
package publisher
