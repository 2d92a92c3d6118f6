package supervisor

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	SpawnFailed         ErrorKind = "spawn failed"
	IOError             ErrorKind = "output read failed"
	TerminationTimedOut ErrorKind = "termination timed out"
)

type ProcessError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProcessError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err wraps a ProcessError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var perr *ProcessError
	return errors.As(err, &perr) && perr.Kind == kind
}
