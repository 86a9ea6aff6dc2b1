// Package errors defines the typed error surface the structure engine
// returns from its public operations, following the shape of
// cuelang.org/go/cue/errors: one Error struct whose fields stay
// unexported behind accessor methods, rather than bare fmt.Errorf
// strings, so callers can
// recover the failure Kind and the source Position programmatically.
package errors

import (
	"fmt"

	"github.com/marineam/coil/token"
)

// Kind classifies why an operation failed. These are exactly the kinds
// named in spec.md §7.
type Kind int

const (
	// Internal marks an invariant failure that should not occur.
	Internal Kind = iota
	// File marks a bad or missing include path.
	File
	// Key marks a malformed key.
	Key
	// KeyMissing marks a lookup for a key that does not exist.
	KeyMissing
	// Link marks a link whose target is invalid.
	Link
	// Parse marks an error surfaced from the external parser.
	Parse
	// Path marks a path syntax or resolution error.
	Path
	// Struct marks a semantic struct error: a cycle, a prototype that
	// was used but never defined, an illegal @extends, a double
	// delete, or deleting a first-order key.
	Struct
	// Value marks a malformed or wrongly-kinded value.
	Value
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "INTERNAL"
	case File:
		return "FILE"
	case Key:
		return "KEY"
	case KeyMissing:
		return "KEY_MISSING"
	case Link:
		return "LINK"
	case Parse:
		return "PARSE"
	case Path:
		return "PATH"
	case Struct:
		return "STRUCT"
	case Value:
		return "VALUE"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type returned by every fallible operation in this
// module.
type Error struct {
	kind Kind
	pos  token.Position
	path string
	msg  string
}

// New builds an Error of the given kind at the given position, with an
// optional associated path. Error() prefixes the message with the
// position ("file:line:column") when it is valid, otherwise with the
// path when one is set.
func New(kind Kind, pos token.Position, path, format string, args ...interface{}) *Error {
	return &Error{
		kind: kind,
		pos:  pos,
		path: path,
		msg:  fmt.Sprintf(format, args...),
	}
}

// Kind reports the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Position reports the source location attached to the error, if any.
func (e *Error) Position() token.Position { return e.pos }

// Path reports the Coil path that triggered the failure, if any.
func (e *Error) Path() string { return e.path }

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.pos.IsValid():
		return fmt.Sprintf("%s: %s: %s", e.pos, e.kind, e.msg)
	case e.path != "":
		return fmt.Sprintf("%s: %s: %s", e.path, e.kind, e.msg)
	default:
		return fmt.Sprintf("%s: %s", e.kind, e.msg)
	}
}

var _ error = (*Error)(nil)

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.kind == kind
}
