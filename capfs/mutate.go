package capfs

import (
	"io/fs"
	"strings"
	"time"

	caperr "github.com/AlanFoster/wasmtime/errors"
)

// Symlink creates a symbolic link at guestPath pointing at target. The
// target string is stored as given, but only after the same positional
// accounting the resolver applies when following links: absolute targets
// and targets whose parent references would ascend above the capability
// root, budgeted from the link's own depth, are refused up front, so the
// guest cannot plant a link it could never legally traverse.
func (f *FS) Symlink(target, guestPath string) error {
	if !f.table.acquire() {
		return caperr.IO(guestPath, fs.ErrClosed)
	}
	defer f.table.release()

	entry, rel, err := f.resolve(guestPath, OpCreate, true)
	if err != nil {
		return err
	}

	if esc, malformed := targetEscapes(rel, target); esc {
		detail := "symlink target above capability root"
		switch {
		case malformed:
			detail = "malformed symlink target"
		case strings.HasPrefix(target, Separator):
			detail = "absolute symlink target"
		}
		return f.deny(OpCreate, guestPath, entry.guestName,
			caperr.Escape(guestPath, entry.guestName, detail))
	}

	if err := entry.root.Symlink(target, rel); err != nil {
		return caperr.IO(guestPath, err)
	}
	return nil
}

// Chtimes sets the access and modification times of the file at guestPath.
func (f *FS) Chtimes(guestPath string, atime, mtime time.Time) error {
	if !f.table.acquire() {
		return caperr.IO(guestPath, fs.ErrClosed)
	}
	defer f.table.release()

	entry, rel, err := f.resolve(guestPath, OpWrite, false)
	if err != nil {
		return err
	}
	if err := entry.root.Chtimes(rel, atime, mtime); err != nil {
		return caperr.IO(guestPath, err)
	}
	return nil
}
