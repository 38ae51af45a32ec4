package capfs

import (
	"os"
	"sync"

	caperr "github.com/AlanFoster/wasmtime/errors"
)

// Grant names one directory the guest may reach. GuestName is the label the
// guest uses ("." and "/tmp" are typical); HostPath is the real directory it
// maps to. The two need not agree, and several guest names may alias one
// host directory.
type Grant struct {
	GuestName string
	HostPath  string
}

// Table is the ordered set of capability entries granted to one guest
// execution. It is immutable after construction and may be read concurrently
// without locking; the lock below only guards teardown against in-flight
// resolutions.
type Table struct {
	entries []*Entry
	mu      sync.RWMutex
	closed  bool
}

// NewTable opens and pins every granted directory. Guest names are compared
// after normalization, so "/tmp" and "tmp" are the same name; reusing one is
// an error. On any failure the already-pinned handles are released.
func NewTable(grants []Grant) (*Table, error) {
	t := &Table{entries: make([]*Entry, 0, len(grants))}

	seen := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		nameComps, err := splitPath(g.GuestName)
		if err != nil {
			t.Close()
			return nil, caperr.New(caperr.PhaseGrant, caperr.KindInvalidPath).
				Capability(g.GuestName).
				Detail("guest name is not a valid path").
				Cause(err).
				Build()
		}
		for _, c := range nameComps {
			if c == ".." {
				t.Close()
				return nil, caperr.New(caperr.PhaseGrant, caperr.KindInvalidPath).
					Capability(g.GuestName).
					Detail("guest name contains a parent reference").
					Build()
			}
		}

		key := joinRel(nameComps)
		if _, dup := seen[key]; dup {
			t.Close()
			return nil, caperr.DuplicateGrant(g.GuestName)
		}
		seen[key] = struct{}{}

		root, err := os.OpenRoot(g.HostPath)
		if err != nil {
			t.Close()
			return nil, caperr.New(caperr.PhaseGrant, caperr.KindNotDirectory).
				Capability(g.GuestName).
				Detail("open host directory").
				Cause(err).
				Build()
		}

		t.entries = append(t.entries, &Entry{
			guestName: g.GuestName,
			nameComps: nameComps,
			root:      root,
		})
	}

	return t, nil
}

// Entries returns the granted entries in grant order.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// Len returns the number of granted entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// match finds the entry whose guest-name components are the longest prefix
// of comps and returns it with the remaining components. A grant named "."
// has zero name components and therefore matches any path as a last resort.
// Ties on length go to the earlier grant.
func (t *Table) match(comps []string) (*Entry, []string, bool) {
	var best *Entry
	bestLen := -1
	for _, e := range t.entries {
		n := len(e.nameComps)
		if n <= bestLen || n > len(comps) {
			continue
		}
		if hasPrefix(comps, e.nameComps) {
			best = e
			bestLen = n
		}
	}
	if best == nil {
		return nil, nil, false
	}
	return best, comps[bestLen:], true
}

func hasPrefix(comps, prefix []string) bool {
	for i, p := range prefix {
		if comps[i] != p {
			return false
		}
	}
	return true
}

// acquire guards a resolution against concurrent teardown. It returns false
// once the table has been closed.
func (t *Table) acquire() bool {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return false
	}
	return true
}

func (t *Table) release() {
	t.mu.RUnlock()
}

// Close releases every pinned directory handle. It blocks until in-flight
// resolutions complete and is idempotent. Handles opened from the table
// (files returned to the guest) stay valid; only path resolution stops.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	for _, e := range t.entries {
		if err := e.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
