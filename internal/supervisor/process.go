package supervisor

import "io"

// Process is a started child whose output is being supervised.
type Process interface {
	// Output is the merged stdout/stderr of the child. It returns io.EOF once
	// the child side is gone.
	Output() io.Reader
	// Terminate asks the child to stop gracefully.
	Terminate() error
	// Kill stops the child forcefully.
	Kill() error
	// Wait blocks until the child is reaped and returns its exit code. The
	// error is only set when the exit status cannot be collected.
	Wait() (int, error)
	// Close releases the output handle.
	Close() error
}
