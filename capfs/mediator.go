package capfs

import (
	"io"
	"io/fs"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"

	caperr "github.com/AlanFoster/wasmtime/errors"
)

// Op is the operation the guest requests for a resolved path.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpCreate
	OpStat
	OpReadDir
	OpMkdir
	OpRemove
	OpRename
)

// opMayCreate reports whether the final component is allowed to not exist
// yet when the operation runs.
func opMayCreate(op Op) bool {
	switch op {
	case OpWrite, OpCreate, OpMkdir:
		return true
	default:
		return false
	}
}

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpStat:
		return "stat"
	case OpReadDir:
		return "readdir"
	case OpMkdir:
		return "mkdir"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Handle is the host-side result of a successful resolution. For open
// operations File is set and owned by the caller; for OpStat only Info is
// set. The handle never exposes the real host location.
type Handle struct {
	File  *os.File
	Info  fs.FileInfo
	entry *Entry
	rel   string
	guest string
}

// Capability returns the guest name of the entry the path resolved under.
func (h *Handle) Capability() string {
	return h.entry.guestName
}

// Close releases the open file, if any.
func (h *Handle) Close() error {
	if h.File != nil {
		return h.File.Close()
	}
	return nil
}

// Denial is the structured record emitted for every refused resolution. It
// identifies the failure stage for host-side tooling; none of it flows back
// to the guest, which observes only the uniform insufficient-capability
// outcome.
type Denial struct {
	GuestPath  string
	Capability string // matched guest name, empty when lookup failed
	Stage      caperr.Phase
	Op         Op
}

// FS mediates every guest filesystem operation against a capability table.
// Resolution is stateless beyond reading the immutable table, so one FS may
// serve any number of concurrent guest calls.
type FS struct {
	table    *Table
	onDenial func(Denial)
}

// NewFS creates a mediator over table. The table remains owned by the
// caller and must stay open for the lifetime of the FS.
func NewFS(table *Table) *FS {
	return &FS{table: table}
}

// WithDenialObserver registers fn to receive a record for each denial, in
// addition to the structured log entry. Must be set before the FS is shared.
func (f *FS) WithDenialObserver(fn func(Denial)) *FS {
	f.onDenial = fn
	return f
}

// Table returns the capability table backing this mediator.
func (f *FS) Table() *Table {
	return f.table
}

// Resolve routes a guest path through sanitization and capability-anchored
// resolution, then applies op. It either returns a usable host handle or an
// error: denials all collapse into ErrInsufficientCapability, while host
// I/O failures pass through with their original detail.
//
// No side effect happens before resolution completes.
func (f *FS) Resolve(guestPath string, op Op) (*Handle, error) {
	if op == OpRename {
		return nil, caperr.InvalidArgument(caperr.PhaseResolve, "rename requires two paths, use Rename")
	}

	if !f.table.acquire() {
		return nil, caperr.IO(guestPath, fs.ErrClosed)
	}
	defer f.table.release()

	entry, rel, err := f.resolve(guestPath, op, opMayCreate(op))
	if err != nil {
		return nil, err
	}

	h := &Handle{entry: entry, rel: rel, guest: guestPath}
	switch op {
	case OpRead, OpReadDir:
		h.File, err = entry.root.OpenFile(rel, os.O_RDONLY, 0)
	case OpWrite:
		h.File, err = entry.root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	case OpCreate:
		h.File, err = entry.root.OpenFile(rel, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	case OpStat:
		h.Info, err = entry.root.Stat(rel)
	case OpMkdir:
		err = entry.root.Mkdir(rel, 0o755)
	case OpRemove:
		err = entry.root.Remove(rel)
	}
	if err != nil {
		return nil, caperr.IO(guestPath, err)
	}
	return h, nil
}

// OpenFile resolves guestPath and opens it with explicit flags, for callers
// that need more control than the Op set offers (append, exclusive create
// with read, and so on).
func (f *FS) OpenFile(guestPath string, flag int, perm fs.FileMode) (*os.File, error) {
	if !f.table.acquire() {
		return nil, caperr.IO(guestPath, fs.ErrClosed)
	}
	defer f.table.release()

	op := OpRead
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		op = OpWrite
	}
	entry, rel, err := f.resolve(guestPath, op, flag&os.O_CREATE != 0)
	if err != nil {
		return nil, err
	}

	file, err := entry.root.OpenFile(rel, flag, perm)
	if err != nil {
		return nil, caperr.IO(guestPath, err)
	}
	return file, nil
}

// Rename resolves both paths and renames within a single capability.
// Renaming across capabilities is refused with EXDEV, exactly as a rename
// across real filesystems would be; the guest falls back to copy and delete.
func (f *FS) Rename(oldPath, newPath string) error {
	if !f.table.acquire() {
		return caperr.IO(oldPath, fs.ErrClosed)
	}
	defer f.table.release()

	oldEntry, oldRel, err := f.resolve(oldPath, OpRename, false)
	if err != nil {
		return err
	}
	newEntry, newRel, err := f.resolve(newPath, OpRename, true)
	if err != nil {
		return err
	}
	if oldEntry != newEntry {
		return caperr.IO(oldPath, syscall.EXDEV)
	}
	if err := oldEntry.root.Rename(oldRel, newRel); err != nil {
		return caperr.IO(oldPath, err)
	}
	return nil
}

// Readlink resolves guestPath and reads the symbolic link it names. Targets
// that are absolute or ascend above the capability root from the link's
// position are refused: the target string would otherwise let the guest
// probe structure it was never granted. A parent reference that stays
// inside the grant, such as ".." on a link below a subdirectory, passes the
// same positional budget the resolver's walk applies.
func (f *FS) Readlink(guestPath string) (string, error) {
	if !f.table.acquire() {
		return "", caperr.IO(guestPath, fs.ErrClosed)
	}
	defer f.table.release()

	entry, rel, err := f.resolveLink(guestPath)
	if err != nil {
		return "", err
	}
	target, err := entry.root.Readlink(rel)
	if err != nil {
		return "", caperr.IO(guestPath, err)
	}
	if esc, malformed := targetEscapes(rel, target); esc {
		detail := "symlink target above capability root"
		switch {
		case malformed:
			detail = "malformed symlink target"
		case strings.HasPrefix(target, Separator):
			detail = "absolute symlink target"
		}
		return "", f.deny(OpRead, guestPath, entry.guestName,
			caperr.Escape(guestPath, entry.guestName, detail))
	}
	return target, nil
}

// Lstat is like Resolve with OpStat but does not follow a final symlink.
func (f *FS) Lstat(guestPath string) (fs.FileInfo, error) {
	if !f.table.acquire() {
		return nil, caperr.IO(guestPath, fs.ErrClosed)
	}
	defer f.table.release()

	entry, rel, err := f.resolveLink(guestPath)
	if err != nil {
		return nil, err
	}
	fi, err := entry.root.Lstat(rel)
	if err != nil {
		return nil, caperr.IO(guestPath, err)
	}
	return fi, nil
}

// Convenience wrappers over Resolve.

func (f *FS) Open(guestPath string) (*os.File, error) {
	h, err := f.Resolve(guestPath, OpRead)
	if err != nil {
		return nil, err
	}
	return h.File, nil
}

func (f *FS) Create(guestPath string) (*os.File, error) {
	h, err := f.Resolve(guestPath, OpCreate)
	if err != nil {
		return nil, err
	}
	return h.File, nil
}

func (f *FS) Stat(guestPath string) (fs.FileInfo, error) {
	h, err := f.Resolve(guestPath, OpStat)
	if err != nil {
		return nil, err
	}
	return h.Info, nil
}

func (f *FS) ReadDir(guestPath string) ([]fs.DirEntry, error) {
	h, err := f.Resolve(guestPath, OpReadDir)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	entries, err := h.File.ReadDir(-1)
	if err != nil {
		return nil, caperr.IO(guestPath, err)
	}
	return entries, nil
}

func (f *FS) Mkdir(guestPath string) error {
	_, err := f.Resolve(guestPath, OpMkdir)
	return err
}

func (f *FS) Remove(guestPath string) error {
	_, err := f.Resolve(guestPath, OpRemove)
	return err
}

func (f *FS) ReadFile(guestPath string) ([]byte, error) {
	h, err := f.Resolve(guestPath, OpRead)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	data, err := io.ReadAll(h.File)
	if err != nil {
		return nil, caperr.IO(guestPath, err)
	}
	return data, nil
}

func (f *FS) WriteFile(guestPath string, data []byte) error {
	h, err := f.Resolve(guestPath, OpWrite)
	if err != nil {
		return err
	}
	if _, werr := h.File.Write(data); werr != nil {
		h.Close()
		return caperr.IO(guestPath, werr)
	}
	if cerr := h.Close(); cerr != nil {
		return caperr.IO(guestPath, cerr)
	}
	return nil
}

// resolve performs sanitize, capability lookup and the anchored walk. It
// returns the matched entry and the path relative to its pinned root.
func (f *FS) resolve(guestPath string, op Op, finalMayCreate bool) (*Entry, string, error) {
	comps, err := splitPath(guestPath)
	if err != nil {
		return nil, "", f.deny(op, guestPath, "", err.(*caperr.Error))
	}

	entry, rest, ok := f.table.match(comps)
	if !ok {
		return nil, "", f.deny(op, guestPath, "", caperr.NoCapability(guestPath))
	}

	rel, err := entry.walk(guestPath, normalize(rest), finalMayCreate)
	if err != nil {
		var cerr *caperr.Error
		if caperr.IsDenial(err) {
			cerr = err.(*caperr.Error)
			return nil, "", f.deny(op, guestPath, entry.guestName, cerr)
		}
		return nil, "", err
	}
	return entry, rel, nil
}

// resolveLink resolves all but the final component, leaving a trailing
// symlink unfollowed. An empty path resolves to the capability root.
func (f *FS) resolveLink(guestPath string) (*Entry, string, error) {
	comps, err := splitPath(guestPath)
	if err != nil {
		return nil, "", f.deny(OpStat, guestPath, "", err.(*caperr.Error))
	}

	entry, rest, ok := f.table.match(comps)
	if !ok {
		return nil, "", f.deny(OpStat, guestPath, "", caperr.NoCapability(guestPath))
	}

	norm := normalize(rest)
	if len(norm) == 0 {
		return entry, ".", nil
	}
	last := norm[len(norm)-1]
	if last == ".." {
		return nil, "", f.deny(OpStat, guestPath, entry.guestName,
			caperr.Escape(guestPath, entry.guestName, "parent reference above capability root"))
	}

	parentRel, err := entry.walk(guestPath, norm[:len(norm)-1], false)
	if err != nil {
		if caperr.IsDenial(err) {
			return nil, "", f.deny(OpStat, guestPath, entry.guestName, err.(*caperr.Error))
		}
		return nil, "", err
	}
	if parentRel == "." {
		return entry, last, nil
	}
	return entry, parentRel + Separator + last, nil
}

// deny logs the structured denial record, notifies the observer, and
// collapses the root cause into the uniform guest-visible error.
func (f *FS) deny(op Op, guestPath, capability string, cause *caperr.Error) error {
	Logger().Info("capability denial",
		zap.String("guest_path", guestPath),
		zap.String("capability", capability),
		zap.String("stage", string(cause.Phase)),
		zap.String("kind", string(cause.Kind)),
		zap.Stringer("op", op),
	)
	if f.onDenial != nil {
		f.onDenial(Denial{
			GuestPath:  guestPath,
			Capability: capability,
			Stage:      cause.Phase,
			Op:         op,
		})
	}
	return caperr.ErrInsufficientCapability
}
