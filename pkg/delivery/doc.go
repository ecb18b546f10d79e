// Package delivery drives notifications from the priority queue to
// subscribed connections.
//
// The engine accepts producer submissions, authenticates them against the
// key store, and enqueues them for asynchronous fan-out. A single-flight
// processing loop drains the queue in batches: for each item it resolves
// the channel's current subscribers and pushes the notification to each
// connection through a Dispatcher.
//
// Failure handling distinguishes two domains. Per-connection send errors
// are counted and skipped; the item still counts as processed. Item-level
// failures (subscriber resolution errors, handler panics) put the item
// back into the queue after a delay, up to a bounded number of attempts,
// after which the item is dropped and logged.
//
// Usage:
//
//	engine, err := delivery.New(q, keys, reg, svc, reg,
//		delivery.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	receipt, err := engine.Submit(ctx, delivery.SubmitRequest{
//		Channel:  "orders",
//		Data:     payload,
//		Priority: 8,
//		APIKey:   key,
//	})
package delivery
