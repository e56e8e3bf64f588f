// Package signalstate holds the two process-wide atomics that POSIX signal
// handlers are allowed to touch directly: the operator interrupt flag and the
// broken-pipe flag. Everything else reacts to these by polling, never by
// running inside the handler itself.
package signalstate

import "sync/atomic"

var (
	interrupted     atomic.Bool
	interruptCount  atomic.Int32
	pipeInterrupted atomic.Bool
)

// Interrupted reports whether a shutdown signal has been observed.
func Interrupted() bool {
	return interrupted.Load()
}

// RaiseInterrupt records a shutdown signal. It returns true the second time
// it is called, which callers use to escalate to immediate termination.
func RaiseInterrupt() (escalate bool) {
	interrupted.Store(true)
	return interruptCount.Add(1) >= 2
}

// ResetForTest clears both flags. Only used by tests that need a clean slate
// between runs in the same process.
func ResetForTest() {
	interrupted.Store(false)
	interruptCount.Store(0)
	pipeInterrupted.Store(false)
}

// PipeInterrupted reports whether a consumer broke a pipe sink since the last
// clear.
func PipeInterrupted() bool {
	return pipeInterrupted.Load()
}

// RaisePipeInterrupt marks that a pipe sink's consumer vanished.
func RaisePipeInterrupt() {
	pipeInterrupted.Store(true)
}

// ClearPipeInterrupt is called by a pipe worker once it has reacted to the
// broken-pipe condition and re-entered AwaitingConsumer.
func ClearPipeInterrupt() {
	pipeInterrupted.Store(false)
}
