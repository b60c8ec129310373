package profz

import (
	"errors"
	"fmt"
	"strings"
)

// Protocol violations. Returned wrapped in a *ProtocolError.
var (
	ErrRootClosed     = errors.New("root node already closed")
	ErrNotInitialized = errors.New("tree not initialized")
	ErrNoOpenNode     = errors.New("no node is open")
	ErrNameMismatch   = errors.New("node name mismatch")
	ErrAlreadyStopped = errors.New("node already stopped")
)

// State violations. Returned wrapped in a *StateError.
var (
	ErrEmptyTree  = errors.New("nothing recorded")
	ErrNotStopped = errors.New("node not closed")
)

// ProtocolError reports a start/stop call that breaks stack discipline.
// It indicates an instrumentation bug, never a transient fault.
type ProtocolError struct {
	Err  error
	Op   string // "start" or "stop"
	Name string // name passed by the caller
	Open string // name of the open node, if any
}

func (e *ProtocolError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNameMismatch):
		return fmt.Sprintf("profz: closing node %s but current node is %s", e.Name, e.Open)
	case e.Op == "stop":
		return fmt.Sprintf("profz: closing node %s but %v", e.Name, e.Err)
	default:
		return fmt.Sprintf("profz: %s %s: %v", e.Op, e.Name, e.Err)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StateError reports a read of a tree that is not ready for it.
type StateError struct {
	Err  error
	Path []string // root-to-node names of the offending node
}

func (e *StateError) Error() string {
	if len(e.Path) == 0 {
		return "profz: " + e.Err.Error()
	}
	return fmt.Sprintf("profz: node %s: %v", strings.Join(e.Path, "/"), e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }
