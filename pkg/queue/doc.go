// Package queue buffers notifications between submission and delivery.
//
// Ordering is priority-first with FIFO tie-breaking inside a priority band:
// predictable, testable, and it keeps a flood of priority-10 items from
// starving lower bands indefinitely since same-priority items still drain in
// insertion order. Admission is bounded: once the configured capacity is
// reached Enqueue fails with ErrQueueFull rather than growing without limit.
//
// Every item carries an expiry deadline. Expired items are discarded lazily
// on every queue operation and proactively by a background sweep
// (Start/Stop/Run lifecycle), so Stats reflects reality even when nothing is
// dequeuing. The queue is in-memory only; nothing survives a restart.
package queue
