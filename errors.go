package weft

import (
	"errors"
	"fmt"
)

var (
	// ErrNamespaceExists is returned when registering a name that is already live.
	ErrNamespaceExists = errors.New("namespace already registered")

	// ErrUnknownNamespace is returned when a qualified reference names no registered namespace.
	ErrUnknownNamespace = errors.New("unknown namespace")

	// ErrUnknownAction is returned when a directive names an action or task that does not exist.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInertDirective marks a directive with no ancestor data-scope.
	ErrInertDirective = errors.New("directive has no ancestor data-scope")

	// ErrBadExpression marks an expression the grammar rejects.
	ErrBadExpression = errors.New("malformed expression")

	// ErrBadPath is returned when a write path cannot be traversed.
	ErrBadPath = errors.New("unresolvable write path")

	// ErrCascadeOverflow is reported when a flush keeps re-dirtying the store past the limit.
	ErrCascadeOverflow = errors.New("flush cascade limit exceeded")

	// ErrSnapshotVersion is returned when a snapshot's major version differs from Version.
	ErrSnapshotVersion = errors.New("incompatible snapshot version")
)

// DirectiveError reports a failing directive binding with enough
// position information to find it in the markup.
type DirectiveError struct {
	Directive string
	Node      string
	Cause     error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("directive %s at %s: %v", e.Directive, e.Node, e.Cause)
}

func (e *DirectiveError) Unwrap() error {
	return e.Cause
}

func newDirectiveError(directive, nodePath string, cause error) *DirectiveError {
	return &DirectiveError{
		Directive: directive,
		Node:      nodePath,
		Cause:     cause,
	}
}

// ExprError reports a rejected expression together with the offending source.
type ExprError struct {
	Source string
	Reason string
}

func (e *ExprError) Error() string {
	return fmt.Sprintf("%v: %q (%s)", ErrBadExpression, e.Source, e.Reason)
}

func (e *ExprError) Unwrap() error {
	return ErrBadExpression
}
