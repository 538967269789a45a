// Package saga provides an orchestrated saga coordinator for Go.
//
// A saga books several independent remote resources as one logical
// transaction. Each step pairs a forward action with a compensation. The
// coordinator runs the steps strictly in order and persists a snapshot after
// every committed step; when a step fails terminally it compensates every
// committed step in reverse commit order and reports a *SagaError.
//
// Overview
//
//  1. Define your steps:
//     - Write a forward and an undo function for each step.
//     - Use NewStep to pair them, or implement Step directly.
//  2. Build a Definition:
//     - Use NewBuilder and Append the steps in execution order.
//     - Attach step-local input with WithInput.
//  3. Run it:
//     - Create a Store. NewMemoryStore and NewFileStore are included, the
//     store/redisstore and store/pgstore packages hold durable back ends.
//     - Create a Coordinator with NewCoordinator and call Run with an
//     instance id. Running the same id again resumes the instance from its
//     last snapshot.
//
// Failures returned by a step are classified with Transient and Terminal.
// Transient failures are retried under the coordinator's RetryPolicy; when
// the budget runs out they become terminal. Unclassified errors are terminal.
//
// Compensations that fail are recorded and never block earlier ones. The
// resulting SagaError reports a PartiallyCompensated outcome naming the steps
// that need manual intervention.
package saga
