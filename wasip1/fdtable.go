package wasip1

import (
	"io/fs"
	"os"
	"sync"
)

// fdKind distinguishes the descriptor classes the guest can hold.
type fdKind uint8

const (
	kindStdin fdKind = iota
	kindStdout
	kindStderr
	kindFile
	kindDir
)

// fdEntry is one guest file descriptor. GuestPath is the path the guest
// used to open it; re-joining it with relative operations keeps every
// later call flowing back through the capability mediator.
type fdEntry struct {
	file      *os.File
	guestPath string
	kind      fdKind
	preopen   bool
	append    bool

	// fd_readdir state: a listing snapshot. Non-zero cookies index into it
	// so entries stay stable mid-iteration; a rewind to cookie 0 refreshes.
	dirEntries []fs.DirEntry
	dirRead    bool
}

// fdTable maps guest file descriptors to host state. Descriptors 0-2 are
// stdio, preopens follow from 3 in grant order, dynamically opened files
// after that. Closing an entry drops the host file.
type fdTable struct {
	mu      sync.Mutex
	entries map[uint32]*fdEntry
	next    uint32
}

func newFDTable() *fdTable {
	t := &fdTable{
		entries: make(map[uint32]*fdEntry),
		next:    3,
	}
	t.entries[0] = &fdEntry{kind: kindStdin, guestPath: "<stdin>"}
	t.entries[1] = &fdEntry{kind: kindStdout, guestPath: "<stdout>"}
	t.entries[2] = &fdEntry{kind: kindStderr, guestPath: "<stderr>"}
	return t
}

// insert stores an entry and returns its descriptor.
func (t *fdTable) insert(e *fdEntry) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.entries[fd] = e
	return fd
}

// get returns the entry for fd, or (nil, false) if the guest never held it.
func (t *fdTable) get(fd uint32) (*fdEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	return e, ok
}

// remove drops fd and closes its host file.
func (t *fdTable) remove(fd uint32) bool {
	t.mu.Lock()
	e, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if e.file != nil {
		e.file.Close()
	}
	return true
}

// renumber moves the entry at from to the descriptor to, closing whatever
// to previously named. Implements fd_renumber (dup2 semantics).
func (t *fdTable) renumber(from, to uint32) bool {
	t.mu.Lock()
	e, ok := t.entries[from]
	if !ok {
		t.mu.Unlock()
		return false
	}
	old := t.entries[to]
	t.entries[to] = e
	delete(t.entries, from)
	t.mu.Unlock()

	if old != nil && old.file != nil {
		old.file.Close()
	}
	return true
}

// close drops every entry. Called after the guest exits, before the
// capability table itself is torn down.
func (t *fdTable) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, e := range t.entries {
		if e.file != nil {
			e.file.Close()
		}
		delete(t.entries, fd)
	}
}
