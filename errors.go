package rigid

import (
	"errors"
	"fmt"
)

// Errors returned by structural operations. A rejected operation never
// leaves a tree partially modified.
var (
	// ErrInvalidPhysical indicates a stale handle or a tree that was absorbed or removed.
	ErrInvalidPhysical = errors.New("rigid: invalid or stale physical")

	// ErrSameTree indicates an attach between two members of one tree, which would form a cycle.
	ErrSameTree = errors.New("rigid: physicals belong to the same tree")

	// ErrPartNotFound indicates a part that is not part of the physical it was detached from.
	ErrPartNotFound = errors.New("rigid: part not found on physical")

	// ErrPartAlreadyOwned indicates a part that already belongs to a rigid body.
	ErrPartAlreadyOwned = errors.New("rigid: part already belongs to a physical")

	// ErrInvalidConstraint indicates a nil or degenerate hard constraint.
	ErrInvalidConstraint = errors.New("rigid: invalid hard constraint")

	// ErrInvalidScale indicates a non-positive or non-finite scale factor.
	ErrInvalidScale = errors.New("rigid: scale factors must be positive and finite")

	// ErrInvalidProperties indicates a negative or non-finite density.
	ErrInvalidProperties = errors.New("rigid: invalid part properties")

	// ErrInvalidCFrame indicates a placement with NaN/Inf components or a zero rotation.
	ErrInvalidCFrame = errors.New("rigid: invalid cframe")

	// ErrNotConnected indicates an operation that needs a parent connection on the main physical.
	ErrNotConnected = errors.New("rigid: physical has no parent connection")

	// ErrForeignWorld indicates a tree that is already registered with a world.
	ErrForeignWorld = errors.New("rigid: tree already belongs to a world")

	// ErrNotExclusive indicates a mutation of a running world outside Exclusive or Submit.
	ErrNotExclusive = errors.New("rigid: mutation outside the exclusive window")

	// ErrAlreadyRunning indicates a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("rigid: world already running")

	// ErrWorldClosed indicates the world no longer accepts work.
	ErrWorldClosed = errors.New("rigid: world closed")

	// ErrInvalidConfig indicates a world configuration that failed validation.
	ErrInvalidConfig = errors.New("rigid: invalid world config")
)

// StructureError wraps a rejected structural operation with its name.
type StructureError struct {
	Op  string
	Err error
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StructureError) Unwrap() error {
	return e.Err
}

func structureErr(op string, err error) error {
	return &StructureError{Op: op, Err: err}
}

// invariant panics on corrupted internal state that validation should have made impossible.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("rigid: invariant violated: "+format, args...))
	}
}
