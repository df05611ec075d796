// Package progress defines the observer a transfer reports to, and a few
// ready-made implementations of it.
//
// A [Sink] receives three calls per transfer: Start once before any bytes
// are committed, Update with the running byte total each time a write
// advances, and Finished once after the destination has been flushed.
// Finished is never called for a failed transfer.
//
// # Implementations
//
//   - [Funcs] binds caller state to a set of callbacks.
//   - [Table] is a stateless set of optional functions.
//   - [Handle] keeps an atomic snapshot that other goroutines can poll
//     while the transfer runs.
//   - [Logger] writes periodic progress records to a [log/slog.Logger].
package progress
