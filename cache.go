package coil

import (
	"os"
	"sync"
	"time"
)

// ParseFunc loads a Coil source into a freshly-built root Struct. This
// is the external parser collaborator named in spec.md §6
// ("parse_file(path) -> root_struct"); the grammar/tokenizer that
// implements it is outside this module's scope.
type ParseFunc func(filename string) (*Struct, error)

// cacheEntry mirrors include_cache_rec from coil_include.c.
type cacheEntry struct {
	filename string
	root     *Struct
	mtime    time.Time
	refCount int
}

// Cache is the include cache from spec.md §4.G: a per-filename memo
// keyed on modification time, shared by every Include that names the
// same file. Unlike the source's GObject weak-notifier tied to a
// root's finalization, release here is explicit (Release) since Go
// has no destructor hook to piggyback on — callers that are done with
// a root built through the cache should call Release for each file it
// pulled in, mirroring coil_include's ref_count bookkeeping.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCache creates an empty include cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Load returns the cached root for filename, reparsing via parse if
// the record is missing or the file's mtime differs from what was
// cached (spec.md §4.G steps 1-3).
func (c *Cache) Load(filename string, parse ParseFunc) (*Struct, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mtime := statMtime(filename)

	if rec, ok := c.entries[filename]; ok {
		if mtime.Equal(rec.mtime) {
			rec.refCount++
			return rec.root, nil
		}
		root, err := parse(filename)
		if err != nil {
			return nil, err
		}
		rec.root = root
		rec.mtime = mtime
		rec.refCount++
		return rec.root, nil
	}

	root, err := parse(filename)
	if err != nil {
		return nil, err
	}
	c.entries[filename] = &cacheEntry{
		filename: filename,
		root:     root,
		mtime:    mtime,
		refCount: 1,
	}
	return root, nil
}

// Release decrements filename's reference count, dropping the cached
// entry once it reaches zero.
func (c *Cache) Release(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[filename]
	if !ok {
		return
	}
	rec.refCount--
	if rec.refCount <= 0 {
		delete(c.entries, filename)
	}
}

func statMtime(filename string) time.Time {
	info, err := os.Stat(filename)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
