package coil

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	cerrors "github.com/marineam/coil/errors"
	"github.com/marineam/coil/token"
)

// Kind tags the variant a Value currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindList
	KindStruct
	KindLink
	KindInclude
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindStruct:
		return "struct"
	case KindLink:
		return "link"
	case KindInclude:
		return "include"
	default:
		return "unknown"
	}
}

// multilineLen and multilineQuote mirror COIL_MULTILINE_LEN and
// COIL_MULTILINE_QUOTE_S: a string longer than this, or containing a
// newline, renders triple-quoted instead of single-quoted.
const (
	multilineLen   = 80
	multilineQuote = "'''"
)

// Object is the common contract for the three polymorphic value kinds:
// Struct, Link, and Include. It unifies expansion, equality, and
// stringification under one dispatch surface instead of a type switch
// at every call site.
type Object interface {
	Expandable
	Kind() Kind
}

// Value is a single Coil value cell: a tagged union of the null
// singleton, the scalar kinds, a list, or an Object (Struct, Link, or
// Include).
type Value struct {
	kind   Kind
	pos    token.Position
	b      bool
	i      int64
	u      uint64
	f      float64
	s      string
	list   []*Value
	object Object
}

// NewNull returns the None singleton value.
func NewNull(pos token.Position) *Value {
	return &Value{kind: KindNull, pos: pos}
}

// NewBool returns a boolean value.
func NewBool(pos token.Position, b bool) *Value {
	return &Value{kind: KindBool, pos: pos, b: b}
}

// NewInt returns a signed integer value.
func NewInt(pos token.Position, i int64) *Value {
	return &Value{kind: KindInt, pos: pos, i: i}
}

// NewUint returns an unsigned integer value.
func NewUint(pos token.Position, u uint64) *Value {
	return &Value{kind: KindUint, pos: pos, u: u}
}

// NewFloat returns a floating-point value.
func NewFloat(pos token.Position, f float64) *Value {
	return &Value{kind: KindFloat, pos: pos, f: f}
}

// NewString returns a string value.
func NewString(pos token.Position, s string) *Value {
	return &Value{kind: KindString, pos: pos, s: s}
}

// NewList returns a list value. The slice is taken by reference; the
// caller should not mutate it afterward.
func NewList(pos token.Position, items []*Value) *Value {
	return &Value{kind: KindList, pos: pos, list: items}
}

// NewObject returns a value wrapping a Struct, Link, or Include.
func NewObject(obj Object) *Value {
	return &Value{kind: obj.Kind(), pos: obj.SourceLocation(), object: obj}
}

// Kind reports the value's tag.
func (v *Value) Kind() Kind { return v.kind }

// Position reports the value's source location.
func (v *Value) Position() token.Position { return v.pos }

// Bool, Int, Uint, Float, Str, List, and Obj are narrowing accessors;
// each panics if v does not hold the matching kind. Callers are
// expected to switch on Kind first, following the tagged-union
// contract in spec.md §3.
func (v *Value) Bool() bool {
	v.mustBe(KindBool)
	return v.b
}

func (v *Value) Int() int64 {
	v.mustBe(KindInt)
	return v.i
}

func (v *Value) Uint() uint64 {
	v.mustBe(KindUint)
	return v.u
}

func (v *Value) Float() float64 {
	v.mustBe(KindFloat)
	return v.f
}

func (v *Value) Str() string {
	v.mustBe(KindString)
	return v.s
}

func (v *Value) List() []*Value {
	v.mustBe(KindList)
	return v.list
}

func (v *Value) Obj() Object {
	switch v.kind {
	case KindStruct, KindLink, KindInclude:
		return v.object
	default:
		panic(fmt.Sprintf("coil: Obj() called on a %s value", v.kind))
	}
}

func (v *Value) mustBe(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("coil: expected %s value, got %s", k, v.kind))
	}
}

// IsExpandable reports whether v wraps a Link, Include, or Struct —
// the three kinds that defer computation (spec.md §4.C).
func (v *Value) IsExpandable() bool {
	switch v.kind {
	case KindStruct, KindLink, KindInclude:
		return true
	default:
		return false
	}
}

// expandValue resolves v to its real value if it is expandable, otherwise
// returns v unchanged. cycle tracks identities already being expanded
// on the current call stack.
func expandValue(v *Value, cycle map[Expandable]bool) (*Value, error) {
	if !v.IsExpandable() {
		return v, nil
	}
	result, err := driveExpand(v.object, cycle)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// Include: no real_value of its own; the value itself stands
		// for "already processed".
		return v, nil
	}
	return result, nil
}

// CopyValue performs the deep copy described in spec.md §4.B:
// structural for scalars and lists, reference-sharing for object
// kinds (their identity is preserved; only the enclosing cell is
// duplicated).
func CopyValue(v *Value) *Value {
	if v == nil {
		return nil
	}
	switch v.kind {
	case KindList:
		items := make([]*Value, len(v.list))
		for i, item := range v.list {
			items[i] = CopyValue(item)
		}
		return &Value{kind: KindList, pos: v.pos, list: items}
	default:
		cp := *v
		return &cp
	}
}

// CompareValue implements the total order from spec.md §4.B: scalars
// of the same kind compare naturally, different kinds order by kind
// tag, structs compare by Equals falling back to path comparison,
// expandable operands are expanded first.
func CompareValue(a, b *Value) (int, error) {
	if a == b {
		return 0, nil
	}
	if a == nil || b == nil {
		if a == nil {
			return -1, nil
		}
		return 1, nil
	}

	av, err := expandValue(a, nil)
	if err != nil {
		return 0, err
	}
	bv, err := expandValue(b, nil)
	if err != nil {
		return 0, err
	}
	a, b = av, bv

	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1, nil
		}
		return 1, nil
	}

	switch a.kind {
	case KindNull:
		return 0, nil
	case KindBool:
		return cmpBool(a.b, b.b), nil
	case KindInt:
		return cmpInt64(a.i, b.i), nil
	case KindUint:
		return cmpUint64(a.u, b.u), nil
	case KindFloat:
		return cmpFloat64(a.f, b.f), nil
	case KindString:
		return strings.Compare(a.s, b.s), nil
	case KindList:
		return compareList(a.list, b.list)
	case KindStruct:
		s1, s2 := a.object.(*Struct), b.object.(*Struct)
		eq, err := s1.Equals(s2)
		if err != nil {
			return 0, err
		}
		if eq {
			return 0, nil
		}
		return strings.Compare(string(s1.Path()), string(s2.Path())), nil
	default:
		return 0, cerrors.New(cerrors.Internal, token.Position{}, "",
			"cannot order values of kind %s", a.kind)
	}
}

func compareList(l1, l2 []*Value) (int, error) {
	for i := 0; i < len(l1) && i < len(l2); i++ {
		c, err := CompareValue(l1[i], l2[i])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	switch {
	case len(l1) < len(l2):
		return -1, nil
	case len(l1) > len(l2):
		return 1, nil
	default:
		return 0, nil
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// BuildString renders v in the canonical textual form (spec.md §6):
// booleans as True/False, null as None, strings single-quoted unless
// long or multi-line (then triple-quoted), lists space-separated
// inside "[ ]", structs/links/includes via their own BuildString.
func BuildString(v *Value, buf *bytes.Buffer, indent int) error {
	if v == nil {
		buf.WriteString("None")
		return nil
	}
	switch v.kind {
	case KindNull:
		buf.WriteString("None")
	case KindBool:
		if v.b {
			buf.WriteString("True")
		} else {
			buf.WriteString("False")
		}
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindUint:
		buf.WriteString(strconv.FormatUint(v.u, 10))
	case KindFloat:
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		buildStringLiteral(v.s, buf)
	case KindList:
		buf.WriteString("[ ")
		for _, item := range v.list {
			if err := BuildString(item, buf, indent); err != nil {
				return err
			}
			buf.WriteByte(' ')
		}
		buf.WriteByte(']')
	case KindStruct, KindLink, KindInclude:
		return v.object.BuildString(buf, indent)
	default:
		return cerrors.New(cerrors.Internal, v.pos, "",
			"cannot render value of kind %s", v.kind)
	}
	return nil
}

func buildStringLiteral(s string, buf *bytes.Buffer) {
	if len(s) > multilineLen || strings.ContainsRune(s, '\n') {
		buf.WriteString(multilineQuote)
		buf.WriteString(s)
		buf.WriteString(multilineQuote)
		return
	}
	buf.WriteByte('\'')
	buf.WriteString(s)
	buf.WriteByte('\'')
}

// ToString renders v using BuildString and returns the result.
func ToString(v *Value) (string, error) {
	var buf bytes.Buffer
	if err := BuildString(v, &buf, 0); err != nil {
		return "", err
	}
	return buf.String(), nil
}
