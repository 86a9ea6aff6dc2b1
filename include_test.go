package coil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/marineam/coil/token"
)

// fakeParse returns a ParseFunc that serves pre-built roots keyed by
// filename, simulating the external grammar/tokenizer this module
// treats as a non-goal collaborator.
func fakeParse(roots map[string]*Struct) ParseFunc {
	return func(filename string) (*Struct, error) {
		r, ok := roots[filename]
		if !ok {
			return nil, nil
		}
		return r, nil
	}
}

func TestIncludeExpandMergesWholeFile(t *testing.T) {
	included := NewRoot()
	included.SetKey("x", NewInt(token.Position{}, 1))
	included.SetKey("y", NewInt(token.Position{}, 2))

	dst := NewRoot()
	dst.parse = fakeParse(map[string]*Struct{"/tmp/other.coil": included})
	inc := NewInclude(dst, "/tmp/other.coil", nil, token.Position{})
	dst.setRaw("include", NewObject(inc))

	if _, err := driveExpand(inc, nil); err != nil {
		t.Fatalf("driveExpand: %v", err)
	}

	v, err := dst.GetKeyValue("x", false)
	if err != nil {
		t.Fatalf("GetKeyValue: %v", err)
	}
	if v == nil || v.Int() != 1 {
		t.Errorf("included key x = %v, want 1", v)
	}
}

func TestIncludeRejectsSelfInclude(t *testing.T) {
	dst := NewRoot()
	dst.parse = fakeParse(nil)
	inc := NewInclude(dst, "self.coil", nil, token.Position{Filename: "self.coil"})
	if _, err := driveExpand(inc, nil); err == nil {
		t.Errorf("expected an error including a file from itself")
	}
}

func TestIncludeRelativePathAnchoredToIncludingFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "child.coil")
	included := NewRoot()
	included.SetKey("z", NewInt(token.Position{}, 3))

	dst := NewRoot()
	dst.parse = fakeParse(map[string]*Struct{target: included})
	inc := NewInclude(dst, "child.coil", nil, token.Position{Filename: filepath.Join(dir, "parent.coil")})

	if _, err := driveExpand(inc, nil); err != nil {
		t.Fatalf("driveExpand: %v", err)
	}
	v, _ := dst.GetKeyValue("z", false)
	if v == nil || v.Int() != 3 {
		t.Errorf("included key z = %v, want 3", v)
	}
}

func TestIncludeSubImportListMustNotContainLists(t *testing.T) {
	included := NewRoot()
	included.SetKey("a", NewInt(token.Position{}, 1))
	included.SetKey("b", NewInt(token.Position{}, 2))
	included.SetKey("c", NewInt(token.Position{}, 3))

	dst := NewRoot()
	dst.parse = fakeParse(map[string]*Struct{"/tmp/sub.coil": included})
	badEntry := NewList(token.Position{}, nil)
	inc := NewInclude(dst, "/tmp/sub.coil", []*Value{badEntry}, token.Position{})

	if _, err := driveExpand(inc, nil); err == nil {
		t.Errorf("a list-valued sub-import entry must be rejected (spec open question #3)")
	}
}

func TestIncludeBuildString(t *testing.T) {
	dst := NewRoot()
	inc := NewInclude(dst, "other.coil", nil, token.Position{})
	var buf bytes.Buffer
	if err := inc.BuildString(&buf, 0); err != nil {
		t.Fatalf("BuildString: %v", err)
	}
	if got, want := buf.String(), "@file: 'other.coil'"; got != want {
		t.Errorf("BuildString = %q, want %q", got, want)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
