package coil

import (
	"bytes"
	"sort"
	"strings"

	cerrors "github.com/marineam/coil/errors"
	cpath "github.com/marineam/coil/path"
	"github.com/marineam/coil/token"
)

// Option configures a root Struct built by NewRoot, following the
// functional-options shape cuecontext.New uses rather than a config
// struct with a dozen rarely-set fields.
type Option func(*Struct)

// WithParser supplies the collaborator @file includes use to load
// other source files (spec.md §6).
func WithParser(p ParseFunc) Option {
	return func(s *Struct) { s.parse = p }
}

// WithCache attaches an include cache so repeated @file targets are
// parsed once and shared (spec.md §4.G).
func WithCache(c *Cache) Option {
	return func(s *Struct) { s.cache = c }
}

// AlwaysExpand makes Extend expand a struct built under this root
// immediately, instead of leaving the new dependency to be merged on
// the next read. No other operation expands eagerly because of it.
func AlwaysExpand() Option {
	return func(s *Struct) { s.alwaysExpand = true }
}

// RememberDependencies keeps a struct's @extends dependency list
// around after expansion instead of discarding it (spec.md §4.F:
// dependencies are normally dropped once merged in, since nothing
// needs them again).
func RememberDependencies() Option {
	return func(s *Struct) { s.rememberDeps = true }
}

// Struct is an ordered, nestable key/value container: the building
// block of a Coil configuration tree (spec.md §4.F). It is grounded
// directly on CoilStruct from coil_struct.h/coil_struct.c; GObject's
// vtable dispatch and notify/signal machinery are replaced with a
// plain Go type and on-demand expansion (spec.md §9 Design Notes).
type Struct struct {
	expandableState

	name string
	path cpath.Path

	// order holds the keys with a first-order (non-tombstoned) value,
	// in insertion order; deleted holds the keys that are tombstoned
	// (mark_key_deleted) and therefore excluded from order but still
	// block inheritance from re-introducing them.
	order    []string
	keyTable map[string]*Value
	deleted  map[string]bool

	// pathTable is shared by every struct under the same root: a flat
	// index from absolute path to the value currently stored there,
	// mirroring the source's struct-wide paths hash table.
	pathTable map[cpath.Path]*Value

	// dependencies are the structs this one extends, in the order
	// @extends named them. Merge uses overwrite=false, so the first
	// entry here has the highest priority: A,B,C in "@extends: A B C"
	// means A's values win over B's win over C's, which this ordering
	// reproduces without needing to walk it backward (see DESIGN.md).
	dependencies []*Value

	isPrototype  bool
	alwaysExpand bool
	rememberDeps bool

	// version is bumped on every mutation; an Iterator stays valid
	// only while its recorded version matches.
	version int

	root *Struct

	parse ParseFunc
	cache *Cache
}

// NewRoot creates an empty root Struct.
func NewRoot(opts ...Option) *Struct {
	s := &Struct{
		path:      cpath.Root,
		keyTable:  make(map[string]*Value),
		deleted:   make(map[string]bool),
		pathTable: make(map[cpath.Path]*Value),
	}
	s.root = s
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newChild builds a struct nested inside container at key.
func newChild(container *Struct, key string, pos token.Position, prototype bool) (*Struct, error) {
	p, err := cpath.Build(string(container.path), key)
	if err != nil {
		return nil, err
	}
	return &Struct{
		expandableState: expandableState{container: container, pos: pos},
		name:            key,
		path:            p,
		keyTable:        make(map[string]*Value),
		deleted:         make(map[string]bool),
		pathTable:       container.pathTable,
		dependencies:    nil,
		isPrototype:     prototype,
		alwaysExpand:    container.alwaysExpand,
		rememberDeps:    container.rememberDeps,
		root:            container.root,
		parse:           container.parse,
		cache:           container.cache,
	}, nil
}

// Kind reports KindStruct.
func (s *Struct) Kind() Kind { return KindStruct }

// IsRoot reports whether s is the top of its tree.
func (s *Struct) IsRoot() bool { return s.container == nil }

// IsPrototype reports whether s was auto-created to satisfy a forward
// @extends reference and has not yet been given a real definition.
func (s *Struct) IsPrototype() bool { return s.isPrototype }

// IsEmpty reports whether s has no first-order entries.
func (s *Struct) IsEmpty() bool { return len(s.order) == 0 }

// Path reports s's absolute path from the root.
func (s *Struct) Path() cpath.Path { return s.path }

// Name reports s's key within its container, or "" for the root.
func (s *Struct) Name() string { return s.name }

// Root reports the struct at the top of s's tree.
func (s *Struct) Root() *Struct { return s.root }

// HasSameRoot reports whether s and other belong to the same tree.
func (s *Struct) HasSameRoot(other *Struct) bool {
	return other != nil && s.root == other.root
}

// IsDescendent reports whether s is nested (at any depth) inside other.
func (s *Struct) IsDescendent(other *Struct) bool {
	return other != nil && s.root == other.root && cpath.IsDescendent(s.path, other.path)
}

// IsAncestor reports whether other is nested (at any depth) inside s.
func (s *Struct) IsAncestor(other *Struct) bool {
	return other != nil && other.IsDescendent(s)
}

func (s *Struct) childPath(key string) cpath.Path {
	p, _ := cpath.Build(string(s.path), key)
	return p
}

// setRaw installs v at key without any of SetKey's validation or
// prototype-promotion bookkeeping; used internally by createContainers,
// Merge, and Copy.
func (s *Struct) setRaw(key string, v *Value) {
	if _, exists := s.keyTable[key]; !exists {
		s.order = append(s.order, key)
	}
	s.keyTable[key] = v
	delete(s.deleted, key)
	s.pathTable[s.childPath(key)] = v
	s.version++
}

// createContainers walks an absolute path from the root, creating a
// prototype Struct at each missing segment (spec.md §4.F "prototype
// structs"), and returns the final container. Grounded on
// _struct_create_containers in coil_struct.c.
func (s *Struct) createContainers(cp cpath.Path) (*Struct, error) {
	root := s.root
	if cp == cpath.Root {
		return root, nil
	}
	rest := strings.TrimPrefix(string(cp), string(cpath.Root)+".")
	cur := root
	for _, k := range strings.Split(rest, ".") {
		existing, ok := cur.keyTable[k]
		if ok {
			if existing.Kind() != KindStruct {
				return nil, cerrors.New(cerrors.Struct, cur.pos, string(cur.childPath(k)),
					"%q is not a struct", cur.childPath(k))
			}
			cur = existing.Obj().(*Struct)
			continue
		}
		child, err := newChild(cur, k, token.Position{}, true)
		if err != nil {
			return nil, err
		}
		cur.setRaw(k, NewObject(child))
		cur = child
	}
	return cur, nil
}

// promote clears the prototype flag on s's ancestor chain: a
// struct that was only standing in for a forward @extends reference
// becomes real once anything is written into (or under) it directly.
func (s *Struct) promote() {
	for c := s; c != nil && c.isPrototype; c = c.container {
		c.isPrototype = false
	}
}

// setValueInternal installs v at key, handling the case where key
// already names a prototype struct: a struct value merges into and
// promotes the prototype rather than replacing it outright, so that
// earlier @extends references to the prototype keep pointing at
// something real. Grounded on _struct_set_value_internal.
func (s *Struct) setValueInternal(key string, v *Value) error {
	if existing, ok := s.keyTable[key]; ok && existing.Kind() == KindStruct {
		if proto := existing.Obj().(*Struct); proto.isPrototype {
			if v.Kind() == KindStruct {
				incoming := v.Obj().(*Struct)
				if err := Merge(incoming, proto, true); err != nil {
					return err
				}
				proto.promote()
				return nil
			}
		}
	}

	s.setRaw(key, v)
	if v.Kind() == KindStruct {
		v.Obj().(*Struct).promote()
	}
	s.promote()
	return nil
}

// SetKey installs v at key within s directly.
func (s *Struct) SetKey(key string, v *Value) error {
	if !cpath.ValidateKey(key) {
		return cerrors.New(cerrors.Key, s.pos, key, "invalid key %q", key)
	}
	return s.setValueInternal(key, v)
}

// SetPath installs v at p, creating any missing intermediate
// containers; the write then promotes every prototype on the
// container chain to a real struct.
func (s *Struct) SetPath(p cpath.Path, v *Value) error {
	_, containerPath, key, err := cpath.Resolve(s.path, p)
	if err != nil {
		return err
	}
	cont, err := s.createContainers(containerPath)
	if err != nil {
		return err
	}
	return cont.SetKey(key, v)
}

// DeleteKey removes key's first-order value from s entirely. If key
// has no first-order value, the root rejects the call, but a non-root
// struct silently inserts a tombstone instead of failing (spec.md §7
// recovery policy (b)): this lets a "~k" directive suppress an
// inherited key that has not been locally defined yet, which is the
// common case when the deletion marker is parsed before @extends is
// resolved. Grounded on _struct_delete_internal's unknown-key fallback.
func (s *Struct) DeleteKey(key string) error {
	if _, ok := s.keyTable[key]; !ok {
		if s.IsRoot() {
			return cerrors.New(cerrors.KeyMissing, s.pos, key, "key %q does not exist", key)
		}
		if !s.deleted[key] {
			s.deleted[key] = true
			s.version++
		}
		return nil
	}
	delete(s.keyTable, key)
	delete(s.pathTable, s.childPath(key))
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.version++
	return nil
}

// DeletePath removes the value at p entirely.
func (s *Struct) DeletePath(p cpath.Path) error {
	_, containerPath, key, err := cpath.Resolve(s.path, p)
	if err != nil {
		return err
	}
	cont, err := s.lookupContainer(containerPath)
	if err != nil {
		return err
	}
	if cont == nil {
		return cerrors.New(cerrors.Path, s.pos, string(p), "path %q does not exist", p)
	}
	return cont.DeleteKey(key)
}

// MarkKeyDeleted tombstones key (the "~key" syntax): it suppresses any
// value key would otherwise inherit via @extends, without ever
// appearing in Iterator output. Rejected at the root (nothing to
// suppress there), if key is already tombstoned, or if key already
// carries a first-order value defined directly in s (tombstones
// suppress inheritance only, never a direct definition). Grounded on
// coil_struct_mark_key_deleted.
func (s *Struct) MarkKeyDeleted(key string) error {
	if s.IsRoot() {
		return cerrors.New(cerrors.Struct, s.pos, key,
			"cannot mark a key deleted at the root")
	}
	if s.deleted[key] {
		return cerrors.New(cerrors.Struct, s.pos, key,
			"key %q is already marked deleted", key)
	}
	if _, ok := s.keyTable[key]; ok {
		return cerrors.New(cerrors.Struct, s.pos, key,
			"key %q has a first-order value and cannot be marked deleted", key)
	}
	s.deleted[key] = true
	s.version++
	return nil
}

// MarkPathDeleted resolves p to a container and tombstones its key.
// The container chain is walked through first-order entries without
// expanding it, so inherited keys are not merged in (and then rejected
// as first-order) before the tombstone is placed.
func (s *Struct) MarkPathDeleted(p cpath.Path) error {
	_, containerPath, key, err := cpath.Resolve(s.path, p)
	if err != nil {
		return err
	}
	cont := s.root
	if containerPath != cpath.Root {
		rest := strings.TrimPrefix(string(containerPath), string(cpath.Root)+".")
		for _, k := range strings.Split(rest, ".") {
			v := cont.keyTable[k]
			if v == nil || v.Kind() != KindStruct {
				return cerrors.New(cerrors.Path, s.pos, string(p), "path %q does not exist", p)
			}
			cont = v.Obj().(*Struct)
		}
	}
	return cont.MarkKeyDeleted(key)
}

// IsDeletedKey reports whether key is tombstoned in s directly.
func (s *Struct) IsDeletedKey(key string) bool { return s.deleted[key] }

// IsDeletedPath resolves p to a container and reports whether its key
// is tombstoned there.
func (s *Struct) IsDeletedPath(p cpath.Path) (bool, error) {
	_, containerPath, key, err := cpath.Resolve(s.path, p)
	if err != nil {
		return false, err
	}
	cont, err := s.lookupContainer(containerPath)
	if err != nil {
		return false, err
	}
	if cont == nil {
		return false, nil
	}
	return cont.IsDeletedKey(key), nil
}

// HasDependency reports whether s already extends parent directly.
func (s *Struct) HasDependency(parent *Struct) bool {
	for _, dep := range s.dependencies {
		if dep.Obj().(*Struct) == parent {
			return true
		}
	}
	return false
}

// Extend adds parent as a dependency of s: once expanded, s will
// inherit parent's values under first-writer-wins semantics (spec.md
// §4.F "@extends"). Grounded on coil_struct_add_dependency /
// coil_struct_extend.
func (s *Struct) Extend(parent *Struct) error {
	if parent == nil {
		return cerrors.New(cerrors.Internal, s.pos, string(s.path), "cannot extend a nil struct")
	}
	if parent == s {
		return cerrors.New(cerrors.Struct, s.pos, string(s.path), "a struct cannot extend itself")
	}
	if s.root == parent.root && parent.IsDescendent(s) {
		return cerrors.New(cerrors.Struct, s.pos, string(parent.path),
			"cannot extend a descendent struct %q (would create a cycle)", parent.path)
	}
	if s.root == parent.root && s.IsDescendent(parent) {
		return cerrors.New(cerrors.Struct, s.pos, string(parent.path),
			"cannot extend an ancestor struct %q (would create a cycle)", parent.path)
	}
	if s.HasDependency(parent) {
		return cerrors.New(cerrors.Struct, s.pos, string(parent.path),
			"%q already extends %q", s.path, parent.path)
	}
	s.dependencies = append(s.dependencies, NewObject(parent))
	s.version++
	// Adding a dependency invalidates any previous expansion, so a
	// struct extended after it was already read picks up the new
	// parent on the next lookup instead of silently keeping a stale
	// memoised result (coil_struct_add_dependency resets the GObject
	// "expanded" property to FALSE for the same reason).
	s.expanded = false
	s.realValue = nil
	if s.alwaysExpand {
		if _, err := s.Expand(); err != nil {
			return err
		}
	}
	return nil
}

// ExtendPath resolves p (relative to s) to the struct it names,
// auto-creating a prototype if nothing is defined there yet so that
// @extends can name a struct that appears later in the source, then
// extends it.
func (s *Struct) ExtendPath(p cpath.Path) error {
	target, _, _, err := cpath.Resolve(s.path, p)
	if err != nil {
		return err
	}
	value, err := s.GetPathValue(target, false)
	if err != nil {
		return err
	}
	if value == nil {
		proto, err := s.createContainers(target)
		if err != nil {
			return err
		}
		return s.Extend(proto)
	}
	if value.Kind() != KindStruct {
		return cerrors.New(cerrors.Struct, s.pos, string(target),
			"%q does not name a struct and cannot be extended", target)
	}
	return s.Extend(value.Obj().(*Struct))
}

// lookupContainer resolves an absolute path to the struct it names,
// expanding intermediate containers as needed to walk through them.
func (s *Struct) lookupContainer(p cpath.Path) (*Struct, error) {
	if p == cpath.Root {
		return s.root, nil
	}
	cur := s.root
	rest := strings.TrimPrefix(string(p), string(cpath.Root)+".")
	for _, k := range strings.Split(rest, ".") {
		v, err := cur.GetKeyValue(k, true)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		if v.Kind() != KindStruct {
			return nil, cerrors.New(cerrors.Path, cur.pos, string(p), "%q is not a struct", p)
		}
		cur = v.Obj().(*Struct)
	}
	return cur, nil
}

// Iterator walks s's first-order entries in insertion order,
// excluding tombstoned keys. It is invalidated by any mutation to s.
type Iterator struct {
	s       *Struct
	version int
	idx     int
}

// Iterator returns a fresh Iterator over s.
func (s *Struct) Iterator() *Iterator {
	return &Iterator{s: s, version: s.version}
}

// Next advances the iterator, returning ok=false once exhausted or if
// s was mutated since the iterator was created.
func (it *Iterator) Next() (key string, value *Value, ok bool) {
	if it.version != it.s.version || it.idx >= len(it.s.order) {
		return "", nil, false
	}
	key = it.s.order[it.idx]
	it.idx++
	return key, it.s.keyTable[key], true
}

// Merge copies src's first-order entries into dst. Existing dst
// entries win unless overwrite is true (spec.md §4.F: @extends uses
// overwrite=false, so the first struct to extend a given key keeps
// it; direct prototype promotion uses overwrite=true). Entries
// tombstoned in dst are skipped entirely, suppressing inheritance.
// Nested structs are merged recursively rather than replaced
// wholesale, so overlays compose instead of shadowing. When src and
// dst belong to different trees, src is expanded first and any
// expandable values are resolved before copying, since a Link or
// Include tied to src's tree would otherwise be meaningless once
// attached under dst. Grounded on coil_struct_merge.
func Merge(src, dst *Struct, overwrite bool) error {
	if src == nil || dst == nil {
		return cerrors.New(cerrors.Internal, token.Position{}, "", "merge requires non-nil structs")
	}
	crossRoot := src.root != dst.root
	if crossRoot {
		if err := src.ExpandRecursive(); err != nil {
			return err
		}
	}

	for _, key := range append([]string{}, src.order...) {
		if dst.deleted[key] {
			continue
		}
		srcVal := src.keyTable[key]

		if dstVal, exists := dst.keyTable[key]; exists {
			if srcVal.Kind() == KindStruct && dstVal.Kind() == KindStruct {
				if err := Merge(srcVal.Obj().(*Struct), dstVal.Obj().(*Struct), overwrite); err != nil {
					return err
				}
				dstVal.Obj().(*Struct).promote()
				continue
			}
			if !overwrite {
				continue
			}
		}

		if srcVal.Kind() == KindStruct {
			srcChild := srcVal.Obj().(*Struct)
			dstChild, err := dst.createContainers(dst.childPath(key))
			if err != nil {
				return err
			}
			if err := Merge(srcChild, dstChild, overwrite); err != nil {
				return err
			}
			dstChild.promote()
			continue
		}

		newVal := srcVal
		if crossRoot && srcVal.IsExpandable() {
			expanded, err := expandValue(srcVal, nil)
			if err != nil {
				return err
			}
			newVal = expanded
		}
		dst.setRaw(key, CopyValue(newVal))
	}
	return nil
}

// expandStep merges in every dependency (in extend order, so the
// first listed has the highest priority - see the dependencies field
// comment), runs each first-order Include for its side effect, and
// recursively expands nested structs. Grounded on _struct_expand.
func (s *Struct) expandStep(visited map[Expandable]bool) (*Value, error) {
	if s.isPrototype {
		return nil, cerrors.New(cerrors.Struct, s.pos, string(s.path),
			"%q was referenced via @extends but never defined", s.path)
	}

	for _, dep := range s.dependencies {
		parent := dep.Obj().(*Struct)
		if parent.isPrototype {
			return nil, cerrors.New(cerrors.Struct, s.pos, string(parent.path),
				"%q extends undefined struct %q", s.path, parent.path)
		}
		if _, err := driveExpand(parent, visited); err != nil {
			return nil, err
		}
		if err := Merge(parent, s, false); err != nil {
			return nil, err
		}
	}
	if !s.rememberDeps {
		s.dependencies = nil
	}

	for _, key := range append([]string{}, s.order...) {
		v := s.keyTable[key]
		if v == nil {
			continue
		}
		switch v.Kind() {
		case KindInclude:
			if _, err := driveExpand(v.Obj(), visited); err != nil {
				return nil, err
			}
			// The include mutated s directly via Merge; drop its
			// placeholder entry now that its contents are in place.
			delete(s.keyTable, key)
			delete(s.pathTable, s.childPath(key))
			for i, k := range s.order {
				if k == key {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		case KindStruct:
			if _, err := driveExpand(v.Obj(), visited); err != nil {
				return nil, err
			}
		}
	}

	s.markExpanded(NewObject(s))
	return NewObject(s), nil
}

// Expand runs s's own expansion (dependencies, includes, and direct
// struct children) once, memoising the result.
func (s *Struct) Expand() (*Value, error) {
	return driveExpand(s, nil)
}

// ExpandRecursive expands s and then every struct nested beneath it,
// at any depth.
func (s *Struct) ExpandRecursive() error {
	if _, err := driveExpand(s, nil); err != nil {
		return err
	}
	for _, key := range s.order {
		v := s.keyTable[key]
		if v != nil && v.Kind() == KindStruct {
			if err := v.Obj().(*Struct).ExpandRecursive(); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetKeyValue looks up key directly in s. A miss on an unexpanded,
// non-prototype struct triggers one expansion (which may pull the key
// in via @extends) and retries once before reporting absence; a
// resolvable-but-absent key returns (nil, nil), not an error — only
// DeleteKey on the root treats a missing key as a failure. Grounded
// on coil_struct_get_key_value's expand-then-retry behaviour.
func (s *Struct) GetKeyValue(key string, expand bool) (*Value, error) {
	v, ok := s.keyTable[key]
	if !ok && !s.IsExpanded() && !s.isPrototype {
		if _, err := driveExpand(s, nil); err != nil {
			return nil, err
		}
		v, ok = s.keyTable[key]
	}
	if !ok {
		return nil, nil
	}
	if expand && v.IsExpandable() {
		return expandValue(v, nil)
	}
	return v, nil
}

// GetPathValue resolves p against s and returns the stored value, or
// (nil, nil) if nothing is defined there.
func (s *Struct) GetPathValue(p cpath.Path, expand bool) (*Value, error) {
	_, containerPath, key, err := cpath.Resolve(s.path, p)
	if err != nil {
		return nil, err
	}
	cont, err := s.lookupContainer(containerPath)
	if err != nil {
		return nil, err
	}
	if cont == nil {
		return nil, nil
	}
	return cont.GetKeyValue(key, expand)
}

// ContainsKey reports whether key has a first-order value in s.
func (s *Struct) ContainsKey(key string) bool {
	_, ok := s.keyTable[key]
	return ok
}

// ContainsPath reports whether p resolves to a defined value.
func (s *Struct) ContainsPath(p cpath.Path) (bool, error) {
	_, containerPath, key, err := cpath.Resolve(s.path, p)
	if err != nil {
		return false, err
	}
	cont, err := s.lookupContainer(containerPath)
	if err != nil {
		return false, err
	}
	if cont == nil {
		return false, nil
	}
	return cont.ContainsKey(key), nil
}

// Size reports the number of first-order, non-tombstoned entries.
// Unlike the source's lazy get_size (which avoids forcing expansion
// by walking local order plus not-yet-merged dependencies by hand),
// this expands s once and reads the result: spec.md §4.F does not
// name a lazy-size operation, and the extra bookkeeping the source
// carries for it buys nothing this module's callers need.
func (s *Struct) Size() (int, error) {
	if _, err := driveExpand(s, nil); err != nil {
		return 0, err
	}
	return len(s.order), nil
}

// Keys returns s's first-order keys in insertion order, expanding s
// once if needed.
func (s *Struct) Keys() ([]string, error) {
	if _, err := driveExpand(s, nil); err != nil {
		return nil, err
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

// Paths returns the absolute path of every first-order entry.
func (s *Struct) Paths() ([]cpath.Path, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]cpath.Path, len(keys))
	for i, k := range keys {
		out[i] = s.childPath(k)
	}
	return out, nil
}

// Values returns every first-order value, in key order.
func (s *Struct) Values() ([]*Value, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]*Value, len(keys))
	for i, k := range keys {
		out[i] = s.keyTable[k]
	}
	return out, nil
}

// Copy returns a deep copy of s as a new, independent root: nested
// structs are copied recursively, scalars and lists structurally,
// tombstones replicated, and pending @extends dependencies carried
// over unchanged so the copy can still be expanded on its own.
// Grounded on coil_struct_copy.
func (s *Struct) Copy() (*Struct, error) {
	return s.copyInto(nil)
}

func (s *Struct) copyInto(container *Struct) (*Struct, error) {
	var cp *Struct
	if container == nil {
		cp = &Struct{
			path:         cpath.Root,
			keyTable:     make(map[string]*Value),
			deleted:      make(map[string]bool),
			isPrototype:  s.isPrototype,
			alwaysExpand: s.alwaysExpand,
			rememberDeps: s.rememberDeps,
			parse:        s.parse,
			cache:        s.cache,
		}
		cp.root = cp
		cp.pathTable = make(map[cpath.Path]*Value)
	} else {
		child, err := newChild(container, s.name, s.pos, s.isPrototype)
		if err != nil {
			return nil, err
		}
		cp = child
	}

	for _, key := range s.order {
		v := s.keyTable[key]
		var nv *Value
		if v.Kind() == KindStruct {
			childCopy, err := v.Obj().(*Struct).copyInto(cp)
			if err != nil {
				return nil, err
			}
			nv = NewObject(childCopy)
		} else {
			nv = CopyValue(v)
		}
		cp.setRaw(key, nv)
	}
	for k := range s.deleted {
		cp.deleted[k] = true
	}
	cp.dependencies = append([]*Value{}, s.dependencies...)
	return cp, nil
}

// equalsStruct implements spec.md §4.F structural equality: a struct
// is never equal to its own ancestor or descendant, both sides are
// fully expanded first, sizes and sorted key sets must match, and
// values compare recursively (nested structs via Equals, everything
// else via CompareValue). Grounded on coil_struct_equals.
func (s *Struct) equalsStruct(other *Struct) (bool, error) {
	if s == other {
		return true, nil
	}
	if other == nil {
		return false, nil
	}
	if s.IsDescendent(other) || other.IsDescendent(s) {
		return false, nil
	}

	if err := s.ExpandRecursive(); err != nil {
		return false, err
	}
	if err := other.ExpandRecursive(); err != nil {
		return false, err
	}
	if len(s.order) != len(other.order) {
		return false, nil
	}

	keys1 := append([]string{}, s.order...)
	keys2 := append([]string{}, other.order...)
	sort.Strings(keys1)
	sort.Strings(keys2)

	for i := range keys1 {
		if keys1[i] != keys2[i] {
			return false, nil
		}
		v1 := s.keyTable[keys1[i]]
		v2 := other.keyTable[keys2[i]]
		if v1 == v2 {
			continue
		}
		if v1 == nil || v2 == nil {
			return false, nil
		}
		if v1.IsExpandable() {
			ev, err := expandValue(v1, nil)
			if err != nil {
				return false, err
			}
			v1 = ev
		}
		if v2.IsExpandable() {
			ev, err := expandValue(v2, nil)
			if err != nil {
				return false, err
			}
			v2 = ev
		}
		if v1.Kind() == KindStruct && v2.Kind() == KindStruct {
			eq, err := v1.Obj().(*Struct).equalsStruct(v2.Obj().(*Struct))
			if err != nil {
				return false, err
			}
			if !eq {
				return false, nil
			}
			continue
		}
		c, err := CompareValue(v1, v2)
		if err != nil {
			return false, err
		}
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}

// Equals satisfies the Expandable interface by delegating to
// equalsStruct when other is also a Struct.
func (s *Struct) Equals(other Expandable) (bool, error) {
	o, ok := other.(*Struct)
	if !ok {
		return false, nil
	}
	return s.equalsStruct(o)
}

// BuildString renders s in its canonical "{ key: value ... }" textual
// form, four-space indented per level, with the root rendered bare
// (no enclosing braces). The trailing-newline trim below is
// unconditional, not gated on being the outermost call: it fires
// after every nested BuildString too, trimming the buffer's
// then-current tail right as that struct's own entries finish and
// before its parent's loop appends anything past it. Grounded on
// coil_struct_build_string_internal.
func (s *Struct) BuildString(buf *bytes.Buffer, indent int) error {
	if s.IsEmpty() {
		buf.WriteString("{}")
		return nil
	}

	childIndent := indent
	if !s.IsRoot() {
		buf.WriteString("{\n")
		childIndent++
	}

	for _, key := range s.order {
		writeIndent(buf, childIndent)
		buf.WriteString(key)
		buf.WriteString(": ")
		if err := BuildString(s.keyTable[key], buf, childIndent); err != nil {
			return err
		}
		buf.WriteByte('\n')
	}

	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
	if !s.IsRoot() {
		buf.WriteByte('\n')
		writeIndent(buf, indent)
		buf.WriteByte('}')
	}
	return nil
}

func writeIndent(buf *bytes.Buffer, indent int) {
	for i := 0; i < indent; i++ {
		buf.WriteString("    ")
	}
}
