package path

import (
	"strings"
	"testing"

	cerrors "github.com/marineam/coil/errors"
)

func TestValidateKey(t *testing.T) {
	valid := []string{"a", "_a", "-a", "--a_b", "a1", "a-b_c", "ABC"}
	invalid := []string{"", "1a", "-", "--", "a.b", "a b"}
	for _, k := range valid {
		if !ValidateKey(k) {
			t.Errorf("ValidateKey(%q) = false, want true", k)
		}
	}
	for _, k := range invalid {
		if ValidateKey(k) {
			t.Errorf("ValidateKey(%q) = true, want false", k)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := []Path{Root, "@root.a", "@root.a.b.c", "..a", "....a.b.c", ".a"}
	invalid := []Path{"", "@rootfoo", "..", "...", "@root..a", "a..b"}
	for _, p := range valid {
		if !Validate(p) {
			t.Errorf("Validate(%q) = false, want true", p)
		}
	}
	for _, p := range invalid {
		if Validate(p) {
			t.Errorf("Validate(%q) = true, want false", p)
		}
	}
}

func TestValidateBoundaryLength(t *testing.T) {
	key255 := "@root." + strings.Repeat("a", 255-len(Root)-1)
	if len(key255) != 255 {
		t.Fatalf("test setup: expected 255 byte path, got %d", len(key255))
	}
	if !Validate(Path(key255)) {
		t.Errorf("255 byte path should validate")
	}
	key256 := key255 + "a"
	if Validate(Path(key256)) {
		t.Errorf("256 byte path should not validate")
	}
}

func TestResolveScenarios(t *testing.T) {
	// S4 from spec.md §8.
	cases := []struct {
		base, ref                   Path
		wantPath, wantContainer     Path
		wantKey                     string
	}{
		{"@root.a.b.c", "d.e.f", "@root.a.b.c.d.e.f", "@root.a.b.c.d.e", "f"},
		{"@root.one.two.three", "..three", "@root.one.two.three", "@root.one.two", "three"},
		{"@root.x.y.z", "....a.b.c", "@root.a.b.c", "@root.a.b", "c"},
	}
	for _, c := range cases {
		p, container, key, err := Resolve(c.base, c.ref)
		if err != nil {
			t.Fatalf("Resolve(%q, %q) returned error: %v", c.base, c.ref, err)
		}
		if p != c.wantPath || container != c.wantContainer || key != c.wantKey {
			t.Errorf("Resolve(%q, %q) = (%q, %q, %q), want (%q, %q, %q)",
				c.base, c.ref, p, container, key, c.wantPath, c.wantContainer, c.wantKey)
		}
	}
}

func TestResolvePastRoot(t *testing.T) {
	_, _, _, err := Resolve(Root, "..anything")
	if err == nil {
		t.Fatal("Resolve(@root, ..anything) should fail")
	}
	if !cerrors.Is(err, cerrors.Path) {
		t.Errorf("error kind = %v, want Path", err)
	}
}

func TestResolveRootAlone(t *testing.T) {
	p, container, key, err := Resolve(Root, Root)
	if err != nil {
		t.Fatalf("Resolve(@root, @root) returned error: %v", err)
	}
	if p != Root || container != Root || key != "" {
		t.Errorf("Resolve(@root, @root) = (%q, %q, %q), want (@root, @root, \"\")", p, container, key)
	}
}

func TestResolveMidPathReferenceIllegal(t *testing.T) {
	if _, _, _, err := Resolve("@root.a.b", "..x..y"); err == nil {
		t.Fatal("mid-path '..' should be rejected")
	}
	if _, _, _, err := Resolve("@root.a.b", ".."); err == nil {
		t.Fatal("'..' alone should be rejected")
	}
}

func TestRelativizeScenarios(t *testing.T) {
	// S5 from spec.md §8.
	cases := []struct {
		base, target Path
		want         Path
	}{
		{"@root.asdf.bxd", "@root.asdf.bhd.xxx.yyy", "..bhd.xxx.yyy"},
		{"@root.asdf.bxd.xxx.yyy", "@root.asdf.bhd", "....bhd"},
		{"@root.asdf.bhd", "@root.asdf.bhd.xyz", "xyz"},
		{"@root.asdf.asdf", "@root.asdf.asdf", "..asdf"},
	}
	for _, c := range cases {
		got, err := Relativize(c.base, c.target)
		if err != nil {
			t.Fatalf("Relativize(%q, %q) returned error: %v", c.base, c.target, err)
		}
		if got != c.want {
			t.Errorf("Relativize(%q, %q) = %q, want %q", c.base, c.target, got, c.want)
		}
	}
}

func TestRelativizeResolveRoundTrip(t *testing.T) {
	cases := []struct{ base, target Path }{
		{"@root.asdf.bxd", "@root.asdf.bhd.xxx.yyy"},
		{"@root.asdf.bxd.xxx.yyy", "@root.asdf.bhd"},
		{"@root.asdf.bhd", "@root.asdf.bhd.xyz"},
		{"@root.asdf.asdf", "@root.asdf.asdf"},
		{"@root.a.b.c", "@root.a.b"},
	}
	for _, c := range cases {
		ref, err := Relativize(c.base, c.target)
		if err != nil {
			t.Fatalf("Relativize(%q, %q) error: %v", c.base, c.target, err)
		}
		resolved, _, _, err := Resolve(c.base, ref)
		if err != nil {
			t.Fatalf("Resolve(%q, %q) error: %v", c.base, ref, err)
		}
		if resolved != c.target {
			t.Errorf("round-trip: Resolve(%q, Relativize(%q,%q)=%q) = %q, want %q",
				c.base, c.base, c.target, ref, resolved, c.target)
		}
	}
}

func TestContainerAndKey(t *testing.T) {
	c, ok := Container("@root.a.b.c")
	if !ok || c != "@root.a.b" {
		t.Errorf("Container = (%q, %v), want (@root.a.b, true)", c, ok)
	}
	if Key("@root.a.b.c") != "c" {
		t.Errorf("Key = %q, want c", Key("@root.a.b.c"))
	}
	if _, ok := Container(Root); ok {
		t.Errorf("Container(@root) should have no container")
	}
}

func TestIsDescendentAndHasContainer(t *testing.T) {
	if !IsDescendent("@root.a.b.c", "@root.a") {
		t.Error("@root.a.b.c should be a descendent of @root.a")
	}
	if IsDescendent("@root.a", "@root.a.b") {
		t.Error("@root.a should not be a descendent of @root.a.b")
	}
	if !HasContainer("@root.a.b", "@root.a") {
		t.Error("@root.a.b should have immediate container @root.a")
	}
	if HasContainer("@root.a.b.c", "@root.a") {
		t.Error("@root.a.b.c should not have immediate container @root.a")
	}
}

func TestBuild(t *testing.T) {
	p, err := Build("@root", "a", "b", "c")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if p != "@root.a.b.c" {
		t.Errorf("Build = %q, want @root.a.b.c", p)
	}

	long := strings.Repeat("a", 300)
	if _, err := Build("@root", long); err == nil {
		t.Error("Build should fail when the result exceeds MaxLen")
	}
}
