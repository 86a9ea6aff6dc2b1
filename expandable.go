package coil

import (
	"bytes"

	cerrors "github.com/marineam/coil/errors"
	"github.com/marineam/coil/token"
)

// Expandable is the common contract shared by Link, Include, and
// Struct (spec.md §4.C): a node that defers computation until first
// use, memoises the result, and can render itself and compare itself
// to another node of the same kind.
type Expandable interface {
	// expandStep performs this node's own expansion logic exactly
	// once; the cycle-detecting driver (driveExpand) wraps it with
	// the expanded-flag and visited-set bookkeeping every call site
	// actually uses.
	expandStep(visited map[Expandable]bool) (*Value, error)

	// IsExpanded reports whether expandStep has already run and
	// memoised its result.
	IsExpanded() bool

	// Equals compares this node to another Expandable of the same
	// concrete kind.
	Equals(other Expandable) (bool, error)

	// BuildString renders this node's canonical textual form.
	BuildString(buf *bytes.Buffer, indent int) error

	// SourceLocation reports where this node was parsed from, for
	// diagnostics.
	SourceLocation() token.Position
}

// expandableState is the bookkeeping every Expandable implementation
// embeds: the memoisation flag and slot (spec.md §3 "Expandable
// common state"), the owning container, and the source position.
// Grounded on coil_expandable.c's CoilExpandablePrivate.
type expandableState struct {
	expanded  bool
	realValue *Value
	container *Struct
	pos       token.Position
}

func (s *expandableState) IsExpanded() bool { return s.expanded }

func (s *expandableState) SourceLocation() token.Position { return s.pos }

func (s *expandableState) Container() *Struct { return s.container }

func (s *expandableState) markExpanded(v *Value) {
	s.expanded = true
	s.realValue = v
}

// driveExpand is the cycle-detecting wrapper around expandStep,
// ported from coil_expand in coil_expandable.c: a shared visited set
// (keyed by node identity) is threaded through nested expansions so
// that a node reappearing on its own expansion path is caught as a
// cycle rather than looping forever. visited may be nil, in which
// case a fresh set is created for this call and its descendants.
func driveExpand(e Expandable, visited map[Expandable]bool) (*Value, error) {
	if e.IsExpanded() {
		return expandedValueOf(e), nil
	}

	owned := visited == nil
	if owned {
		visited = make(map[Expandable]bool)
	}

	if visited[e] {
		return nil, cerrors.New(cerrors.Struct, e.SourceLocation(), "",
			"cycle detected in value expansion")
	}
	visited[e] = true

	result, err := e.expandStep(visited)
	if err != nil {
		return nil, err
	}

	if owned {
		delete(visited, e)
	}

	return result, nil
}

// expandedValueOf returns the memoised result of a node that has
// already completed expandStep.
func expandedValueOf(e Expandable) *Value {
	switch n := e.(type) {
	case *Link:
		return n.realValue
	case *Include:
		return nil
	case *Struct:
		return NewObject(n)
	default:
		return nil
	}
}
