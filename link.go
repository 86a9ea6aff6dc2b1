package coil

import (
	"bytes"
	"fmt"

	cerrors "github.com/marineam/coil/errors"
	"github.com/marineam/coil/path"
	"github.com/marineam/coil/token"
)

// Link is a reference to the value at another path (spec.md §4.D).
type Link struct {
	expandableState
	path path.Path
}

// NewLink creates a Link to target, owned by container.
func NewLink(container *Struct, target path.Path, pos token.Position) *Link {
	return &Link{
		expandableState: expandableState{container: container, pos: pos},
		path:            target,
	}
}

// Kind reports KindLink.
func (l *Link) Kind() Kind { return KindLink }

// Path reports the link's (possibly relative) target path.
func (l *Link) Path() path.Path { return l.path }

func (l *Link) expandStep(visited map[Expandable]bool) (*Value, error) {
	if l.container == nil {
		return nil, cerrors.New(cerrors.Internal, l.pos, string(l.path),
			"link has no container")
	}

	target := l.path
	if path.IsRelative(target) {
		resolved, _, _, err := path.Resolve(l.container.Path(), target)
		if err != nil {
			return nil, err
		}
		target = resolved
	}

	value, err := l.container.GetPathValue(target, false)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, cerrors.New(cerrors.Link, l.pos, string(target),
			"link target %q does not exist", target)
	}

	if value.Kind() == KindLink {
		resolved, err := driveExpand(value.Obj(), visited)
		if err != nil {
			return nil, err
		}
		if resolved != nil {
			value = resolved
		}
	}

	l.markExpanded(value)
	return value, nil
}

// Equals compares two links by their resolved absolute target path.
// Links in disjoint roots compare unequal without error (spec.md §9:
// both of the source's inconsistent behaviours here are overridden to
// a uniform false, and the source's "return TRUE" short-circuit in
// coil_link_equals is not replicated — the full comparison below is
// always performed).
func (l *Link) Equals(other Expandable) (bool, error) {
	o, ok := other.(*Link)
	if !ok {
		return false, nil
	}
	if l == o {
		return true, nil
	}
	if l.container == nil || o.container == nil {
		return false, nil
	}
	if l.container.Root() != o.container.Root() {
		return false, nil
	}

	p1, _, _, err := path.Resolve(l.container.Path(), l.path)
	if err != nil {
		return false, err
	}
	p2, _, _, err := path.Resolve(o.container.Path(), o.path)
	if err != nil {
		return false, err
	}
	return p1 == p2, nil
}

// BuildString renders the link in its "=path" textual form.
func (l *Link) BuildString(buf *bytes.Buffer, indent int) error {
	fmt.Fprintf(buf, "=%s", l.path)
	return nil
}
