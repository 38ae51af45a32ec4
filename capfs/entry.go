package capfs

import (
	"os"
)

// Entry is one granted mapping from a guest-visible name to a real host
// directory. The directory handle is captured when the grant is made and
// never re-resolved: the handle, not the path string, is the capability.
// Later host-side mutations (the original path being renamed or replaced)
// cannot redirect it.
type Entry struct {
	guestName string
	nameComps []string
	root      *os.Root
}

// GuestName returns the name the guest uses to refer to this directory.
// The real host location is intentionally not exposed.
func (e *Entry) GuestName() string {
	return e.guestName
}

func (e *Entry) close() error {
	return e.root.Close()
}
