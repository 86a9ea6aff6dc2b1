package coil

import (
	"bytes"
	"path/filepath"
	"strings"

	cerrors "github.com/marineam/coil/errors"
	cpath "github.com/marineam/coil/path"
	"github.com/marineam/coil/token"
)

// Include loads another file into its container, optionally
// sub-importing only specific paths from it (spec.md §4.E).
type Include struct {
	expandableState
	includePathValue *Value
	includePath      string
	importList       []*Value
	parse            ParseFunc
	cache            *Cache
}

// NewInclude creates an Include for a literal file path.
func NewInclude(container *Struct, includePath string, importList []*Value, pos token.Position) *Include {
	return &Include{
		expandableState: expandableState{container: container, pos: pos},
		includePath:     includePath,
		importList:      importList,
		parse:           container.parse,
		cache:           container.cache,
	}
}

// NewIncludeExpr creates an Include whose path is computed from a
// value that must resolve to a string (e.g. a Link) rather than a
// literal.
func NewIncludeExpr(container *Struct, includePathValue *Value, importList []*Value, pos token.Position) *Include {
	return &Include{
		expandableState:  expandableState{container: container, pos: pos},
		includePathValue: includePathValue,
		importList:       importList,
		parse:            container.parse,
		cache:            container.cache,
	}
}

// Kind reports KindInclude.
func (inc *Include) Kind() Kind { return KindInclude }

func (inc *Include) expandStep(visited map[Expandable]bool) (*Value, error) {
	includePath := inc.includePath
	if includePath == "" {
		value := inc.includePathValue
		if value.IsExpandable() {
			resolved, err := driveExpand(value.Obj(), visited)
			if err != nil {
				return nil, err
			}
			if resolved != nil {
				value = resolved
			}
		}
		if value.Kind() != KindString {
			return nil, cerrors.New(cerrors.File, inc.pos, "",
				"@file include path must be a string or string expression"+
					" which must resolve to a string")
		}
		includePath = value.Str()
	}
	includePath = strings.TrimSpace(includePath)

	thisFile := inc.pos.Filename
	if thisFile != "" {
		if includePath == thisFile {
			return nil, cerrors.New(cerrors.File, inc.pos, includePath,
				"@file cannot import from the same file that it is contained in")
		}
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(filepath.Dir(thisFile), includePath)
			inc.includePath = includePath
		}
	}

	if inc.parse == nil {
		return nil, cerrors.New(cerrors.Internal, inc.pos, includePath,
			"no parser configured for this root")
	}

	var root *Struct
	var err error
	if inc.cache != nil {
		root, err = inc.cache.Load(includePath, inc.parse)
	} else {
		root, err = inc.parse(includePath)
	}
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, cerrors.New(cerrors.File, inc.pos, includePath,
			"@file include path %q does not exist", includePath)
	}

	// spec.md §4.E step 5/§9: sub-import activates only when the
	// import list's length differs from the loaded root's size —
	// preserved as-is from coil_include.c, not "fixed" to something
	// more intuitive.
	rootSize, err := root.Size()
	if err != nil {
		return nil, err
	}
	if len(inc.importList) > 0 && len(inc.importList) != rootSize {
		for i, entry := range inc.importList {
			if entry.IsExpandable() {
				resolved, err := driveExpand(entry.Obj(), nil)
				if err != nil {
					return nil, err
				}
				if resolved != nil {
					entry = resolved
				}
			}
			if entry.Kind() == KindList {
				return nil, cerrors.New(cerrors.File, inc.pos, "",
					"@file sub-import argument %d must not be a list", i+2)
			}
			if entry.Kind() != KindString {
				return nil, cerrors.New(cerrors.File, inc.pos, "",
					"@file sub-import argument %d must resolve to a string", i+2)
			}
			importPath := entry.Str()

			value, err := root.GetPathValue(cpath.Path(importPath), true)
			if err != nil {
				return nil, err
			}
			if value == nil || value.Kind() != KindStruct {
				return nil, cerrors.New(cerrors.File, inc.pos, importPath,
					"@file sub-import argument %d (%q) must resolve to a struct"+
						" in file %s", i+2, importPath, includePath)
			}
			importStruct := value.Obj().(*Struct)
			if err := Merge(importStruct, inc.container, false); err != nil {
				return nil, err
			}
		}
	} else {
		if err := Merge(root, inc.container, false); err != nil {
			return nil, err
		}
	}

	inc.markExpanded(nil)
	return nil, nil
}

// Equals is unimplemented in the source (COIL_NOT_IMPLEMENTED); no
// operation in this module compares two includes directly, only the
// structs they merge into.
func (inc *Include) Equals(other Expandable) (bool, error) {
	return false, cerrors.New(cerrors.Internal, inc.pos, "",
		"include equality is not implemented")
}

// BuildString renders the include in its "@file: '...'" or
// "@file: [ '...' subpaths... ]" textual form.
func (inc *Include) BuildString(buf *bytes.Buffer, indent int) error {
	buf.WriteString("@file: ")
	if inc.importList != nil {
		buf.WriteString("[ ")
	}
	if inc.includePath != "" {
		buf.WriteByte('\'')
		buf.WriteString(inc.includePath)
		buf.WriteByte('\'')
	} else if err := BuildString(inc.includePathValue, buf, indent); err != nil {
		return err
	}
	if inc.importList != nil {
		buf.WriteByte(' ')
		for _, entry := range inc.importList {
			if err := BuildString(entry, buf, indent); err != nil {
				return err
			}
			buf.WriteByte(' ')
		}
		buf.WriteByte(']')
	}
	return nil
}
