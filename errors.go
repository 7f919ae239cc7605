package patch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNode is returned if referenced node is not in the graph.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownPort is returned if port index is out of range for the node.
	ErrUnknownPort = errors.New("unknown port")
	// ErrPortTypeMismatch is returned if connected ports have different
	// channel counts.
	ErrPortTypeMismatch = errors.New("port type mismatch")
	// ErrPortAlreadyBound is returned if a single-connection input is
	// already wired.
	ErrPortAlreadyBound = errors.New("port already bound")
	// ErrCapacityExceeded is returned if node or edge limit is reached.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrCycleWithoutDelay is returned if an edge would close a cycle
	// that contains no delay edge.
	ErrCycleWithoutDelay = errors.New("cycle without delay edge")
	// ErrInvalidState is returned if engine method cannot be executed at
	// this moment.
	ErrInvalidState = errors.New("invalid state")
	// ErrNoBackend is returned on start if no backend was provided.
	ErrNoBackend = errors.New("no backend")
)

// CompileError is returned if a graph snapshot cannot be scheduled. It
// carries the nodes left unordered after all acyclic dependencies were
// resolved.
type CompileError struct {
	Nodes []NodeID
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("cannot schedule nodes %v: %v", e.Nodes, ErrCycleWithoutDelay)
}

// Unwrap makes CompileError match ErrCycleWithoutDelay.
func (e *CompileError) Unwrap() error {
	return ErrCycleWithoutDelay
}
