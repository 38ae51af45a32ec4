package wasip1

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AlanFoster/wasmtime/capfs"
)

func testHost(t *testing.T) (*Host, string) {
	t.Helper()
	dir := t.TempDir()
	table, err := capfs.NewTable([]capfs.Grant{{GuestName: ".", HostPath: dir}})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	t.Cleanup(func() { table.Close() })

	h := NewHost(capfs.NewFS(table))
	t.Cleanup(h.Close)
	return h, dir
}

func TestNofollowErrno(t *testing.T) {
	h, dir := testHost(t)
	if err := os.WriteFile(filepath.Join(dir, "plain.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("plain.txt", filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// symlink_follow cleared: a final symlink must not be opened through.
	if got := h.nofollowErrno("link", 0); got != ErrnoLoop {
		t.Errorf("nofollow on symlink = %d, want %d", got, ErrnoLoop)
	}
	// With the flag set the link is followed as usual.
	if got := h.nofollowErrno("link", lookupSymlinkFollow); got != ErrnoSuccess {
		t.Errorf("follow on symlink = %d, want success", got)
	}
	// Regular files are unaffected either way.
	if got := h.nofollowErrno("plain.txt", 0); got != ErrnoSuccess {
		t.Errorf("nofollow on regular file = %d, want success", got)
	}
	// A missing path is left for the open itself to report.
	if got := h.nofollowErrno("absent.txt", 0); got != ErrnoSuccess {
		t.Errorf("nofollow on missing path = %d, want success", got)
	}
}

func TestRefreshDir_RewindSeesNewEntries(t *testing.T) {
	h, dir := testHost(t)
	if err := os.WriteFile(filepath.Join(dir, "first.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	e := &fdEntry{guestPath: ".", kind: kindDir, preopen: true}
	if err := h.refreshDir(e, 0); err != nil {
		t.Fatalf("initial read: %v", err)
	}
	if len(e.dirEntries) != 1 {
		t.Fatalf("initial listing has %d entries, want 1", len(e.dirEntries))
	}

	if err := os.WriteFile(filepath.Join(dir, "second.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Mid-iteration the snapshot stays stable.
	if err := h.refreshDir(e, 1); err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if len(e.dirEntries) != 1 {
		t.Errorf("non-zero cookie refreshed the snapshot: %d entries", len(e.dirEntries))
	}

	// Rewinding to cookie 0 picks up the new file.
	if err := h.refreshDir(e, 0); err != nil {
		t.Fatalf("rewound read: %v", err)
	}
	if len(e.dirEntries) != 2 {
		t.Errorf("rewound listing has %d entries, want 2", len(e.dirEntries))
	}
}
