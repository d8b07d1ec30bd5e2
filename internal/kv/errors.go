package kv

import (
	"errors"
	"fmt"
)

// errConflictingConditions is returned by Set when both NX and XX are requested.
var errConflictingConditions = errors.New("kv: NX and XX are mutually exclusive")

// OpError describes a failed store command. It matches ErrTransport and the
// underlying cause with errors.Is.
type OpError struct {
	Backend string
	Op      string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("kv %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

func opError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Backend: backend, Op: op, Err: err}
}
