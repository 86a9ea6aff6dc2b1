// Package path implements the Coil path algebra: absolute paths rooted at
// @root, relative paths with back-reference dots, and the resolve/
// relativise operations that translate between them.
//
// This is a direct, dependency-free port of coil_path.c from the original
// C implementation (see _examples/original_source), translated from
// pointer arithmetic over fixed buffers to Go string/byte-index
// operations; the algorithms and their edge cases are unchanged.
package path

import (
	"strings"

	cerrors "github.com/marineam/coil/errors"
	"github.com/marineam/coil/token"
)

// Path is an absolute or relative Coil path.
type Path string

// Root is the path marker for the top of a configuration tree.
const Root Path = "@root"

// Delim separates keys within a path.
const Delim = '.'

// MaxLen is the maximum byte length of a path.
const MaxLen = 255

// IsAbsolute reports whether p begins with the root marker.
func IsAbsolute(p Path) bool {
	return strings.HasPrefix(string(p), string(Root))
}

// IsRelative reports whether p does not begin with the root marker.
func IsRelative(p Path) bool {
	return !IsAbsolute(p)
}

// IsRoot reports whether p names the root itself.
func IsRoot(p Path) bool {
	return p == Root
}

// IsReference reports whether p is a relative back-reference, i.e. begins
// with at least one dot.
func IsReference(p Path) bool {
	return len(p) > 0 && p[0] == Delim
}

// isAlpha reports whether c is an ASCII letter.
func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// ValidateKey reports whether key matches the key grammar
// -*[A-Za-z_][\w-]*.
func ValidateKey(key string) bool {
	if key == "" {
		return false
	}
	i := 0
	for i < len(key) && key[i] == '-' {
		i++
	}
	if i >= len(key) {
		return false
	}
	if !(isAlpha(key[i]) || key[i] == '_') {
		return false
	}
	i++
	for i < len(key) {
		c := key[i]
		if !(isAlpha(c) || isDigit(c) || c == '_' || c == '-') {
			return false
		}
		i++
	}
	return true
}

// Validate reports whether p is a syntactically valid path: @root
// alone, or an optional @root or run of leading dots followed by one
// or more dot-separated keys, within MaxLen bytes.
func Validate(p Path) bool {
	s := string(p)
	if len(s) == 0 || len(s) > MaxLen {
		return false
	}
	if s == string(Root) {
		return true
	}
	if strings.HasPrefix(s, string(Root)+".") {
		s = s[len(Root)+1:]
	} else {
		i := 0
		for i < len(s) && s[i] == Delim {
			i++
		}
		if i == len(s) {
			return false
		}
		s = s[i:]
	}
	for _, key := range strings.Split(s, string(Delim)) {
		if !ValidateKey(key) {
			return false
		}
	}
	return true
}

// Build joins base and a sequence of keys into a single path with "."
// separators, validating the total length.
func Build(base string, keys ...string) (Path, error) {
	var b strings.Builder
	b.WriteString(base)
	for _, k := range keys {
		b.WriteByte(Delim)
		b.WriteString(k)
	}
	if b.Len() > MaxLen {
		return "", cerrors.New(cerrors.Path, token.Position{}, base,
			"path length %d exceeds maximum of %d bytes", b.Len(), MaxLen)
	}
	return Path(b.String()), nil
}

// Container returns the container path of p (everything before the last
// key) and true, or "" and false if p has no container (a bare key or
// @root alone).
func Container(p Path) (Path, bool) {
	i := strings.LastIndexByte(string(p), Delim)
	if i < 0 {
		return "", false
	}
	return p[:i], true
}

// Key returns the last key of p, or the whole path if p has no
// container.
func Key(p Path) string {
	i := strings.LastIndexByte(string(p), Delim)
	if i < 0 {
		return string(p)
	}
	return string(p[i+1:])
}

// Resolve resolves reference ref against the absolute path base,
// returning the resolved absolute path, its container, and its final
// key.
//
// If ref is absolute it is returned directly. Otherwise it may begin
// with n >= 1 dots: each dot past the first pops one key off base
// (spec.md §4.A: "n dots pop n-1 keys"). A mid-path ".." or an empty
// reference after the leading dots is an error, as is popping past
// @root or exceeding MaxLen.
func Resolve(base, ref Path) (resolved, container Path, key string, err error) {
	if ref == "" {
		return "", "", "", cerrors.New(cerrors.Path, token.Position{}, string(ref),
			"empty path reference")
	}

	if IsAbsolute(ref) {
		if IsRoot(ref) {
			return Root, Root, "", nil
		}
		if !strings.HasPrefix(string(ref), string(Root)+".") {
			return "", "", "", cerrors.New(cerrors.Path, token.Position{}, string(ref),
				"%q is not a valid absolute path", ref)
		}
		c, ok := Container(ref)
		if !ok {
			return "", "", "", cerrors.New(cerrors.Path, token.Position{}, string(ref),
				"%q is not a valid absolute path", ref)
		}
		return ref, c, Key(ref), nil
	}

	if base == "" {
		return "", "", "", cerrors.New(cerrors.Path, token.Position{}, string(ref),
			"cannot resolve relative reference %q without a base path", ref)
	}

	r := string(ref)
	n := 0
	for n < len(r) && r[n] == Delim {
		n++
	}
	suffix := r[n:]

	if suffix == "" {
		return "", "", "", cerrors.New(cerrors.Path, token.Position{}, string(ref),
			"references must contain at least one key, e.g. '..a'; '%s' is not allowed", ref)
	}
	if strings.Contains(suffix, "..") {
		return "", "", "", cerrors.New(cerrors.Path, token.Position{}, string(ref),
			"mid-path references ('..') in %q are not allowed", ref)
	}

	pops := 0
	if n >= 1 {
		pops = n - 1
	}

	baseKeys := splitKeys(base)
	if pops > len(baseKeys) {
		return "", "", "", cerrors.New(cerrors.Path, token.Position{}, string(ref),
			"path contains a reference past root while resolving %q against %q", ref, base)
	}
	baseKeys = baseKeys[:len(baseKeys)-pops]

	keys := append(baseKeys, strings.Split(suffix, string(Delim))...)
	full := string(Root)
	if len(keys) > 0 {
		full += "." + strings.Join(keys, ".")
	}
	if len(full) > MaxLen {
		return "", "", "", cerrors.New(cerrors.Path, token.Position{}, string(ref),
			"path length %d exceeds maximum of %d bytes resolving %q against %q",
			len(full), MaxLen, ref, base)
	}

	c, ok := Container(Path(full))
	if !ok {
		c = Root
	}
	return Path(full), c, Key(Path(full)), nil
}

// splitKeys splits an absolute path into its keys, excluding the root
// marker. "@root" alone yields an empty slice.
func splitKeys(p Path) []string {
	s := string(p)
	if s == string(Root) {
		return nil
	}
	s = strings.TrimPrefix(s, string(Root)+".")
	return strings.Split(s, string(Delim))
}

// Relativize computes the shortest relative reference that names target
// from a struct located at base. Both must be absolute, non-root paths.
//
// This is a direct port of coil_path_relativize's character-comparison
// algorithm: walk base and target together to find their longest common
// byte prefix, remembering the last "." seen; append one "." to escape
// the current key, plus one more for every "." remaining in base from
// that point on, then append target's tail.
func Relativize(base, target Path) (Path, error) {
	if target == "" {
		return "", cerrors.New(cerrors.Path, token.Position{}, "", "empty target path")
	}
	if base == "" || IsRelative(target) {
		return target, nil
	}
	if IsRoot(target) || IsRoot(base) {
		return "", cerrors.New(cerrors.Internal, token.Position{}, string(target),
			"relativize requires non-root absolute paths")
	}

	b, t := string(base), string(target)
	i, marker := 0, -1
	for i < len(b) && i < len(t) && b[i] == t[i] {
		if b[i] == Delim {
			marker = i
		}
		i++
	}

	var out strings.Builder
	var tailStart int
	if i < len(b) || i >= len(t) {
		out.WriteByte(Delim)
		for j := marker; j >= 0 && j < len(b); j++ {
			if b[j] == Delim {
				out.WriteByte(Delim)
			}
		}
		tailStart = marker
	} else {
		tailStart = i
	}

	if tailStart < 0 || tailStart+1 > len(t) {
		return "", cerrors.New(cerrors.Internal, token.Position{}, string(target),
			"failed to relativize %q against %q", target, base)
	}
	out.WriteString(t[tailStart+1:])
	return Path(out.String()), nil
}

// IsDescendent reports whether path is anywhere beneath maybeContainer
// (at any depth).
func IsDescendent(p, maybeContainer Path) bool {
	return hasContainer(p, maybeContainer, false)
}

// HasContainer reports whether maybeContainer is path's immediate
// (first-order) container.
func HasContainer(p, maybeContainer Path) bool {
	return hasContainer(p, maybeContainer, true)
}

func hasContainer(p, base Path, strict bool) bool {
	if IsRoot(base) {
		if IsRoot(p) {
			return false
		}
		return !strict || strings.Count(string(p), string(Delim)) == 1
	}
	ps, bs := string(p), string(base)
	i := 0
	for i < len(ps) && i < len(bs) && ps[i] == bs[i] {
		i++
	}
	if i != len(bs) || i >= len(ps) || ps[i] != Delim {
		return false
	}
	if strict && strings.IndexByte(ps[i+1:], Delim) >= 0 {
		return false
	}
	return true
}
