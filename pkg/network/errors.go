package network

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrTopology        = errors.New("illegal topology operation")
	ErrInvariant       = errors.New("network invariant violated")
	ErrPhaseViolation  = errors.New("operation not permitted in current phase")
	ErrMalformedInput  = errors.New("malformed input network")
	ErrZeroBurgers     = errors.New("zero Burgers vector")
	ErrIDExhausted     = errors.New("id space exhausted")
)

// Error provides structured error information for store operations.
type Error struct {
	Op      string // Operation that failed (e.g., "SplitSegment")
	Entity  string // Entity type ("node", "segment")
	ID      uint64 // Entity ID (if applicable)
	Context string // Additional context
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != 0 {
		if e.Context != "" {
			return fmt.Sprintf("%s %s %d (%s): %v", e.Op, e.Entity, e.ID, e.Context, e.Cause)
		}
		return fmt.Sprintf("%s %s %d: %v", e.Op, e.Entity, e.ID, e.Cause)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Entity, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent interface for building Errors.
type ErrorBuilder struct {
	err Error
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: Error{Op: op}}
}

// Node sets the entity to "node" with the given ID.
func (b *ErrorBuilder) Node(id NodeID) *ErrorBuilder {
	b.err.Entity = "node"
	b.err.ID = uint64(id)
	return b
}

// Segment sets the entity to "segment" with the given ID.
func (b *ErrorBuilder) Segment(id SegmentID) *ErrorBuilder {
	b.err.Entity = "segment"
	b.err.ID = uint64(id)
	return b
}

// Context sets additional context information.
func (b *ErrorBuilder) Context(format string, args ...any) *ErrorBuilder {
	b.err.Context = fmt.Sprintf(format, args...)
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	e := b.err
	return &e
}

// TopologyError reports a mutation the store refuses to perform. It is
// recoverable: the network is left unchanged.
type TopologyError struct {
	Op     string
	Nodes  []NodeID
	Reason string
}

// Error implements the error interface.
func (e *TopologyError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Op, e.Nodes, e.Reason)
}

// Unwrap returns ErrTopology.
func (e *TopologyError) Unwrap() error {
	return ErrTopology
}

// InvariantError reports a broken network invariant. It signals a defect in
// a previous algorithmic step and is never recovered.
type InvariantError struct {
	Rule    string
	Node    NodeID
	Segment SegmentID
	Detail  string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	switch {
	case e.Node != 0:
		return fmt.Sprintf("invariant %s at node %d: %s", e.Rule, e.Node, e.Detail)
	case e.Segment != 0:
		return fmt.Sprintf("invariant %s at segment %d: %s", e.Rule, e.Segment, e.Detail)
	default:
		return fmt.Sprintf("invariant %s: %s", e.Rule, e.Detail)
	}
}

// Unwrap returns ErrInvariant.
func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

// Invariant rule names
const (
	RuleBurgers    = "burgers-conservation"
	RuleDuplicate  = "duplicate-segment"
	RuleDegenerate = "degenerate-segment"
	RuleReference  = "back-reference"
)

// Convenience functions for common error patterns

// NodeNotFoundError creates a node not found error.
func NodeNotFoundError(op string, id NodeID) error {
	return NewError(op).Node(id).Cause(ErrNodeNotFound).Err()
}

// SegmentNotFoundError creates a segment not found error.
func SegmentNotFoundError(op string, id SegmentID) error {
	return NewError(op).Segment(id).Cause(ErrSegmentNotFound).Err()
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrSegmentNotFound)
}

// IsFatal reports whether err is an invariant breach.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariant)
}
