package capfs

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"

	caperr "github.com/AlanFoster/wasmtime/errors"
)

// maxSymlinkHops bounds symbolic link expansion during a walk. Beyond it the
// walk fails with ELOOP, mirroring what the host kernel would report.
const maxSymlinkHops = 40

// walk advances through comps one component at a time, every step anchored
// at the entry's pinned directory handle. Symbolic links are expanded here,
// in a loop, rather than left to a single host open: each hop splices the
// link target into the remaining components so that it is re-validated
// against the capability boundary exactly like guest-supplied input.
//
// It returns the resolved path relative to the entry root ("." for the root
// itself). If finalMayCreate is set, a missing final component is accepted
// so the caller's operation can create it.
func (e *Entry) walk(guestPath string, comps []string, finalMayCreate bool) (string, error) {
	resolved := make([]string, 0, len(comps))
	todo := append([]string(nil), comps...)
	hops := 0

	for len(todo) > 0 {
		c := todo[0]
		todo = todo[1:]

		switch c {
		case ".":
			continue
		case "..":
			if len(resolved) == 0 {
				return "", caperr.Escape(guestPath, e.guestName, "parent reference above capability root")
			}
			resolved = resolved[:len(resolved)-1]
			continue
		}

		cur := joinRel(append(resolved[:len(resolved):len(resolved)], c))
		fi, err := e.root.Lstat(cur)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && len(todo) == 0 && finalMayCreate {
				return cur, nil
			}
			return "", caperr.IO(guestPath, err)
		}

		if fi.Mode()&fs.ModeSymlink != 0 {
			hops++
			if hops > maxSymlinkHops {
				return "", caperr.IO(guestPath, syscall.ELOOP)
			}
			target, err := e.root.Readlink(cur)
			if err != nil {
				return "", caperr.IO(guestPath, err)
			}
			if strings.HasPrefix(target, Separator) {
				// An absolute target cannot be resolved relative to the
				// cursor; following it would re-anchor at a host-global
				// root the guest was never granted.
				return "", caperr.Escape(guestPath, e.guestName, "absolute symlink target")
			}
			tcomps, err := splitPath(target)
			if err != nil {
				return "", caperr.Escape(guestPath, e.guestName, "malformed symlink target")
			}
			todo = append(tcomps, todo...)
			continue
		}

		if len(todo) > 0 && !fi.IsDir() {
			return "", caperr.IO(guestPath, syscall.ENOTDIR)
		}
		resolved = append(resolved, c)
	}

	return joinRel(resolved), nil
}
