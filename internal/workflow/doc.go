// Package workflow runs background work on bounded pools.
//
// A Pool admits at most one active task per key (an object id or upload id),
// caps concurrency with a weighted semaphore, and hands back a Task handle
// that reports state and completion. Closing a pool cancels the shared
// context and waits for running tasks, so shutdown never strands a worker
// mid-write. Panics inside task functions become task errors.
package workflow
