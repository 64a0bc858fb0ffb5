// Package arbiter owns the GPU. It serializes every load and unload across
// the local backends through a FIFO queue and keeps at most one
// (backend, model) pair resident at a time.
//
//   - queue.go: Queue, the FIFO lock, and the generic Run helper.
//   - unload.go: Drain, the two-phase unload protocol (issue, then poll).
//   - prepare.go: the hot-swap sequence behind Arbiter.Prepare.
//   - arbiter.go: Arbiter construction, tracked state, UnloadAll, ResetTracking.
//   - status.go: concurrent observability snapshot.
//   - errors.go: BackendUnavailable, ModelNotFound, PrepareFailed.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: prometheus collectors.
//
// Tracked state may be read without the queue for observability only; the
// fast path re-verifies it inside the critical section.
package arbiter
