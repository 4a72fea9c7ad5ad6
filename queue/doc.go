// Package queue provides the idempotent message dispatch layer that
// triggers asynchronous step execution.
//
// A [Dispatcher] persists an idempotency record for each enqueued
// message and hands an [Envelope] to the configured [Broker]. Supplying
// the same (queue name, idempotency key) pair twice returns the original
// message without re-delivering it.
//
// A [Consumer] polls the broker for deliveries on queues sharing a name
// prefix, runs each one through its middleware chain and handler, and
// settles the delivery: acknowledge on success, request redelivery on
// failure. No code path drops a delivery without an acknowledge or a
// retry.
//
// # Handler outcomes
//
//   - nil: the message is marked processed and acknowledged.
//   - an error wrapping [RetryAfterError] (see [RetryAfter]): the broker
//     redelivers after the requested delay.
//   - any other error: the broker redelivers per its default policy.
//
// # Rate limiting
//
// An optional [Limiter] gates deliveries per queue and per deployment
// using a token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate for concurrency caps:
//
//	lim := queue.NewLimiter(
//	    queue.Limit{QueueName: "wakeups", RatePerSecond: 50, Burst: 100},
//	    queue.Limit{QueueName: "bulk", MaxConcurrency: 4},
//	)
//
// Queues without a [Limit] have no limits beyond the consumer's own
// concurrency.
package queue
