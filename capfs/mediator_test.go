package capfs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	caperr "github.com/AlanFoster/wasmtime/errors"
)

// sandbox builds the layout from the scenario the layer is designed around:
// work mounted as "." and tmp mounted as "/tmp".
func sandbox(t *testing.T) (*FS, string, string) {
	t.Helper()
	work := t.TempDir()
	tmp := t.TempDir()

	table, err := NewTable([]Grant{
		{GuestName: ".", HostPath: work},
		{GuestName: "/tmp", HostPath: tmp},
	})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	t.Cleanup(func() { table.Close() })

	return NewFS(table), work, tmp
}

func TestResolve_ReadInDefaultGrant(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.WriteFile(filepath.Join(work, "test.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := fsys.Resolve("./test.txt", OpRead)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer h.Close()

	buf := make([]byte, 5)
	if _, err := h.File.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("read %q, want %q", buf, "hello")
	}
	if h.Capability() != "." {
		t.Errorf("capability = %q, want %q", h.Capability(), ".")
	}
}

func TestResolve_WriteInNamedGrant(t *testing.T) {
	fsys, _, tmp := sandbox(t)

	h, err := fsys.Resolve("/tmp/out.txt", OpWrite)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := h.File.Write([]byte("data")); err != nil {
		t.Fatalf("write: %v", err)
	}
	h.Close()

	got, err := os.ReadFile(filepath.Join(tmp, "out.txt"))
	if err != nil {
		t.Fatalf("host read back: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("host file = %q, want %q", got, "data")
	}
}

func TestResolve_TraversalOutOfGrantDenied(t *testing.T) {
	fsys, _, _ := sandbox(t)

	// Must be denied whether or not /etc/passwd exists: the parent
	// reference leaves the /tmp subtree before any I/O happens.
	_, err := fsys.Resolve("/tmp/../etc/passwd", OpWrite)
	if !errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Fatalf("got %v, want insufficient capability", err)
	}
}

func TestResolve_LeadingParentDenied(t *testing.T) {
	fsys, _, _ := sandbox(t)

	for _, path := range []string{"..", "../x", "a/../../x", "/tmp/../../x"} {
		if _, err := fsys.Resolve(path, OpRead); !errors.Is(err, caperr.ErrInsufficientCapability) {
			t.Errorf("Resolve(%q) = %v, want insufficient capability", path, err)
		}
	}
}

func TestResolve_GuestNameAloneIsRoot(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.WriteFile(filepath.Join(work, "a.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, path := range []string{".", "", "/tmp", "/tmp/"} {
		h, err := fsys.Resolve(path, OpStat)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", path, err)
		}
		if !h.Info.IsDir() {
			t.Errorf("Resolve(%q) is not a directory", path)
		}
	}

	entries, err := fsys.ReadDir(".")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.txt" {
		t.Errorf("unexpected listing: %v", entries)
	}
}

func TestResolve_NoMatchingGrantDenied(t *testing.T) {
	work := t.TempDir()
	table, err := NewTable([]Grant{{GuestName: "/work", HostPath: work}})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	defer table.Close()
	fsys := NewFS(table)

	missingGrant := func() error {
		_, err := fsys.Resolve("/etc/passwd", OpRead)
		return err
	}
	escape := func() error {
		_, err := fsys.Resolve("/work/../etc/passwd", OpRead)
		return err
	}

	errA, errB := missingGrant(), escape()
	if !errors.Is(errA, caperr.ErrInsufficientCapability) {
		t.Fatalf("missing grant: got %v", errA)
	}
	if !errors.Is(errB, caperr.ErrInsufficientCapability) {
		t.Fatalf("escape: got %v", errB)
	}
	// The two failure causes must be indistinguishable to the caller.
	if errA.Error() != errB.Error() {
		t.Errorf("denials differ: %q vs %q", errA.Error(), errB.Error())
	}
}

func TestResolve_SymlinkInsideGrantFollowed(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.Mkdir(filepath.Join(work, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(work, "sub", "real.txt"), []byte("via link"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("sub/real.txt", filepath.Join(work, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	data, err := fsys.ReadFile("link")
	if err != nil {
		t.Fatalf("read through internal symlink: %v", err)
	}
	if string(data) != "via link" {
		t.Errorf("read %q, want %q", data, "via link")
	}
}

func TestResolve_SymlinkEscapeDenied(t *testing.T) {
	fsys, work, tmp := sandbox(t)

	outside := filepath.Join(filepath.Dir(work), "loose.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { os.Remove(outside) })

	links := map[string]string{
		"rel_escape": "../" + filepath.Base(outside),
		"abs_escape": outside,
		"cross_cap":  tmp, // another granted directory is still outside this subtree
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(work, name)); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}

	for name := range links {
		if _, err := fsys.Resolve(name, OpRead); !errors.Is(err, caperr.ErrInsufficientCapability) {
			t.Errorf("Resolve(%q) = %v, want insufficient capability", name, err)
		}
	}
}

func TestResolve_SymlinkChainWithinGrant(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.MkdirAll(filepath.Join(work, "a", "b"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(work, "a", "b", "deep.txt"), []byte("deep"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The link target itself contains a parent reference. Expansion splices
	// it into the walk, where the pop stays inside the grant.
	if err := os.Symlink("a/../a/b", filepath.Join(work, "hop")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	data, err := fsys.ReadFile("hop/deep.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "deep" {
		t.Errorf("read %q, want %q", data, "deep")
	}
}

func TestResolve_SymlinkLoop(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.Symlink("ping", filepath.Join(work, "pong")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink("pong", filepath.Join(work, "ping")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	_, err := fsys.Resolve("ping", OpRead)
	if err == nil {
		t.Fatal("expected error for symlink loop")
	}
	// A loop is an I/O failure, not a capability denial.
	if errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Errorf("loop reported as denial: %v", err)
	}
}

func TestResolve_Remapping(t *testing.T) {
	fsys, _, tmp := sandbox(t)
	if err := os.WriteFile(filepath.Join(tmp, "only-here.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// "/tmp" is a remapped name: the real directory is elsewhere. The
	// guest sees only the remapped contents.
	entries, err := fsys.ReadDir("/tmp")
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "only-here.txt" {
		t.Errorf("unexpected listing: %v", entries)
	}

	// No successful or failed response may reveal the real host path.
	_, err = fsys.Resolve("/tmp/../escape", OpRead)
	if err != nil && strings.Contains(err.Error(), tmp) {
		t.Errorf("denial %q leaks host path %q", err.Error(), tmp)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.WriteFile(filepath.Join(work, "same.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	first, err := fsys.Stat("same.txt")
	if err != nil {
		t.Fatalf("first stat: %v", err)
	}
	second, err := fsys.Stat("same.txt")
	if err != nil {
		t.Fatalf("second stat: %v", err)
	}
	if !os.SameFile(first, second) {
		t.Error("two resolutions of the same path reference different files")
	}
}

func TestResolve_NotFoundIsIOError(t *testing.T) {
	fsys, _, _ := sandbox(t)

	_, err := fsys.Resolve("does-not-exist.txt", OpRead)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Errorf("not-found inside a valid subtree must not look like a denial: %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("original not-exist detail lost: %v", err)
	}
}

func TestResolve_MkdirRemove(t *testing.T) {
	fsys, work, _ := sandbox(t)

	if err := fsys.Mkdir("made"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	fi, err := os.Stat(filepath.Join(work, "made"))
	if err != nil || !fi.IsDir() {
		t.Fatalf("host stat after mkdir: %v", err)
	}

	if err := fsys.Remove("made"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "made")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("directory still present after remove: %v", err)
	}
}

func TestRename_WithinGrant(t *testing.T) {
	fsys, _, tmp := sandbox(t)
	if err := os.WriteFile(filepath.Join(tmp, "old.txt"), []byte("m"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := fsys.Rename("/tmp/old.txt", "/tmp/new.txt"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "new.txt")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
}

func TestRename_AcrossGrantsRefused(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.WriteFile(filepath.Join(work, "here.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := fsys.Rename("here.txt", "/tmp/there.txt")
	if err == nil {
		t.Fatal("expected cross-capability rename to fail")
	}
	if errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Errorf("cross-capability rename should surface as I/O error, got denial")
	}
}

func TestResolve_EmbeddedNULDenied(t *testing.T) {
	fsys, _, _ := sandbox(t)
	if _, err := fsys.Resolve("bad\x00name", OpRead); !errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Errorf("got %v, want insufficient capability", err)
	}
}

func TestDenialObserver(t *testing.T) {
	work := t.TempDir()
	table, err := NewTable([]Grant{{GuestName: ".", HostPath: work}})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	defer table.Close()

	var denials []Denial
	fsys := NewFS(table).WithDenialObserver(func(d Denial) {
		denials = append(denials, d)
	})

	fsys.Resolve("../escape", OpWrite)

	if len(denials) != 1 {
		t.Fatalf("observed %d denials, want 1", len(denials))
	}
	d := denials[0]
	if d.GuestPath != "../escape" {
		t.Errorf("guest path = %q", d.GuestPath)
	}
	if d.Capability != "." {
		t.Errorf("capability = %q, want %q", d.Capability, ".")
	}
	if d.Stage != caperr.PhaseResolve {
		t.Errorf("stage = %q, want %q", d.Stage, caperr.PhaseResolve)
	}
	if d.Op != OpWrite {
		t.Errorf("op = %v, want %v", d.Op, OpWrite)
	}
}

func TestReadlink(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.WriteFile(filepath.Join(work, "target.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("target.txt", filepath.Join(work, "good")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink("/etc/passwd", filepath.Join(work, "bad")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	target, err := fsys.Readlink("good")
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "target.txt" {
		t.Errorf("target = %q, want %q", target, "target.txt")
	}

	if _, err := fsys.Readlink("bad"); !errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Errorf("absolute target readlink = %v, want insufficient capability", err)
	}
}

func TestReadlink_ParentRefInsideGrant(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.Mkdir(filepath.Join(work, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(work, "rootfile.txt"), []byte("root"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("..", filepath.Join(work, "sub", "up")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// The link sits one level down, so ".." resolves to the grant root:
	// traversal through it works and reading its target must work too.
	data, err := fsys.ReadFile("sub/up/rootfile.txt")
	if err != nil {
		t.Fatalf("read through link: %v", err)
	}
	if string(data) != "root" {
		t.Errorf("read %q, want %q", data, "root")
	}
	target, err := fsys.Readlink("sub/up")
	if err != nil {
		t.Fatalf("readlink of in-grant parent-ref link: %v", err)
	}
	if target != ".." {
		t.Errorf("target = %q, want %q", target, "..")
	}

	// The same target attached at the root ascends above it.
	if err := os.Symlink("..", filepath.Join(work, "uproot")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if _, err := fsys.Readlink("uproot"); !errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Errorf("root-level parent-ref readlink = %v, want insufficient capability", err)
	}
}

func TestSymlink_ParentRefTargetDepthAware(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.Mkdir(filepath.Join(work, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// ".." from inside sub stays within the grant.
	if err := fsys.Symlink("..", "sub/up"); err != nil {
		if errors.Is(err, caperr.ErrInsufficientCapability) {
			t.Fatalf("in-grant parent-ref target refused: %v", err)
		}
		t.Skipf("symlinks unavailable: %v", err)
	}
	target, err := os.Readlink(filepath.Join(work, "sub", "up"))
	if err != nil || target != ".." {
		t.Fatalf("host readlink = %q, %v", target, err)
	}

	// From the root, or two levels up from one down, it ascends out.
	if err := fsys.Symlink("..", "top"); !errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Errorf("Symlink(.., top) = %v, want insufficient capability", err)
	}
	if err := fsys.Symlink("../..", "sub/deep"); !errors.Is(err, caperr.ErrInsufficientCapability) {
		t.Errorf("Symlink(../.., sub/deep) = %v, want insufficient capability", err)
	}
}

func TestResolve_Concurrent(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.WriteFile(filepath.Join(work, "shared.txt"), []byte("c"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := fsys.Stat("shared.txt"); err != nil {
					t.Errorf("concurrent stat: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestWriteFile_ThroughInternalSymlinkDir(t *testing.T) {
	fsys, work, _ := sandbox(t)
	if err := os.Mkdir(filepath.Join(work, "real"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink("real", filepath.Join(work, "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := fsys.WriteFile("alias/new.txt", []byte("w")); err != nil {
		t.Fatalf("write through internal dir symlink: %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "real", "new.txt")); err != nil {
		t.Errorf("file not created in link target: %v", err)
	}
}
