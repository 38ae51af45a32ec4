package wasip1

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/AlanFoster/wasmtime/capfs"
)

// ModuleName is the import namespace guests compiled against WASI
// snapshot preview1 expect.
const ModuleName = "wasi_snapshot_preview1"

// WASI filetype values.
const (
	filetypeUnknown      = 0
	filetypeCharDevice   = 2
	filetypeDirectory    = 3
	filetypeRegularFile  = 4
	filetypeSymbolicLink = 7
)

// path_open oflags.
const (
	oflagCreat     = 1
	oflagDirectory = 2
	oflagExcl      = 4
	oflagTrunc     = 8
)

// Rights bits consulted by path_open to pick the host access mode. The
// capability layer is the real enforcement boundary, so the remaining
// bits are advertised but not tracked per descriptor.
const (
	rightFDRead    uint64 = 1 << 1
	rightFDWrite   uint64 = 1 << 6
	rightFDReaddir uint64 = 1 << 14

	rightsAll uint64 = 0x1fffffff
)

// fdflags bits.
const fdflagAppend = 1

// lookupflags bits.
const lookupSymlinkFollow = 1

// path_filestat_set_times flag bits.
const (
	fstflagAtim    = 1
	fstflagAtimNow = 2
	fstflagMtim    = 4
	fstflagMtimNow = 8
)

// Host implements the WASI snapshot preview1 system interface on top of a
// capability-mediated filesystem. Every path the guest supplies is joined
// with the guest path of the directory descriptor it is relative to and
// routed through the mediator, so the sandbox boundary is enforced in one
// place regardless of which syscall carried the path.
type Host struct {
	fsys    *capfs.FS
	fds     *fdTable
	args    []string
	environ []string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer

	epoch time.Time
}

// NewHost creates a host over fsys with empty arguments, an empty
// environment and discarded stdio.
func NewHost(fsys *capfs.FS) *Host {
	return &Host{
		fsys:   fsys,
		fds:    newFDTable(),
		stdin:  eofReader{},
		stdout: io.Discard,
		stderr: io.Discard,
		epoch:  time.Now(),
	}
}

// WithArgs sets the guest argument vector, argv[0] included.
func (h *Host) WithArgs(args ...string) *Host {
	h.args = args
	return h
}

// WithEnv sets the guest environment as KEY=VALUE pairs.
func (h *Host) WithEnv(environ ...string) *Host {
	h.environ = environ
	return h
}

func (h *Host) WithStdin(r io.Reader) *Host {
	h.stdin = r
	return h
}

func (h *Host) WithStdout(w io.Writer) *Host {
	h.stdout = w
	return h
}

func (h *Host) WithStderr(w io.Writer) *Host {
	h.stderr = w
	return h
}

// FS returns the mediated filesystem backing this host.
func (h *Host) FS() *capfs.FS {
	return h.fsys
}

// Close releases every descriptor the guest still holds. The capability
// table itself stays open; it belongs to the caller.
func (h *Host) Close() {
	h.fds.close()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// Instantiate registers the preopened directories and exports the preview1
// functions into r under ModuleName. It must run before the guest module
// is instantiated.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	for _, entry := range h.fsys.Table().Entries() {
		h.fds.insert(&fdEntry{
			guestPath: entry.GuestName(),
			kind:      kindDir,
			preopen:   true,
		})
	}

	b := r.NewHostModuleBuilder(ModuleName)
	export := func(name string, fn interface{}) {
		b.NewFunctionBuilder().WithFunc(fn).Export(name)
	}

	export("args_get", h.argsGet)
	export("args_sizes_get", h.argsSizesGet)
	export("environ_get", h.environGet)
	export("environ_sizes_get", h.environSizesGet)
	export("clock_res_get", h.clockResGet)
	export("clock_time_get", h.clockTimeGet)
	export("fd_advise", h.fdAdvise)
	export("fd_allocate", h.fdAllocate)
	export("fd_close", h.fdClose)
	export("fd_datasync", h.fdDatasync)
	export("fd_fdstat_get", h.fdFdstatGet)
	export("fd_fdstat_set_flags", h.fdFdstatSetFlags)
	export("fd_filestat_get", h.fdFilestatGet)
	export("fd_filestat_set_size", h.fdFilestatSetSize)
	export("fd_filestat_set_times", h.fdFilestatSetTimes)
	export("fd_pread", h.fdPread)
	export("fd_prestat_get", h.fdPrestatGet)
	export("fd_prestat_dir_name", h.fdPrestatDirName)
	export("fd_pwrite", h.fdPwrite)
	export("fd_read", h.fdRead)
	export("fd_readdir", h.fdReaddir)
	export("fd_renumber", h.fdRenumber)
	export("fd_seek", h.fdSeek)
	export("fd_sync", h.fdSync)
	export("fd_tell", h.fdTell)
	export("fd_write", h.fdWrite)
	export("path_create_directory", h.pathCreateDirectory)
	export("path_filestat_get", h.pathFilestatGet)
	export("path_filestat_set_times", h.pathFilestatSetTimes)
	export("path_link", h.pathLink)
	export("path_open", h.pathOpen)
	export("path_readlink", h.pathReadlink)
	export("path_remove_directory", h.pathRemoveDirectory)
	export("path_rename", h.pathRename)
	export("path_symlink", h.pathSymlink)
	export("path_unlink_file", h.pathUnlinkFile)
	export("poll_oneoff", h.pollOneoff)
	export("proc_exit", h.procExit)
	export("random_get", h.randomGet)
	export("sched_yield", h.schedYield)

	return b.Instantiate(ctx)
}

// joinGuest appends a syscall-relative path to the guest path of the
// directory descriptor it was passed with.
func joinGuest(base, rel string) string {
	if rel == "" {
		return base
	}
	return base + "/" + rel
}

// dirEntry returns the entry for fd if it is an open directory.
func (h *Host) dirEntry(fd uint32) (*fdEntry, Errno) {
	e, ok := h.fds.get(fd)
	if !ok {
		return nil, ErrnoBadf
	}
	if e.kind != kindDir {
		return nil, ErrnoNotdir
	}
	return e, ErrnoSuccess
}

// guestPathArg reads the path argument of a path_* call and joins it with
// the directory descriptor's guest path.
func (h *Host) guestPathArg(mod api.Module, fd, ptr, length uint32) (string, Errno) {
	e, errno := h.dirEntry(fd)
	if errno != ErrnoSuccess {
		return "", errno
	}
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", ErrnoFault
	}
	return joinGuest(e.guestPath, string(buf)), ErrnoSuccess
}

func (h *Host) argsGet(_ context.Context, mod api.Module, argv, argvBuf uint32) uint32 {
	return writeStringVector(mod, h.args, argv, argvBuf)
}

func (h *Host) argsSizesGet(_ context.Context, mod api.Module, argcPtr, bufSizePtr uint32) uint32 {
	return writeVectorSizes(mod, h.args, argcPtr, bufSizePtr)
}

func (h *Host) environGet(_ context.Context, mod api.Module, environ, environBuf uint32) uint32 {
	return writeStringVector(mod, h.environ, environ, environBuf)
}

func (h *Host) environSizesGet(_ context.Context, mod api.Module, countPtr, bufSizePtr uint32) uint32 {
	return writeVectorSizes(mod, h.environ, countPtr, bufSizePtr)
}

func writeStringVector(mod api.Module, values []string, vecPtr, bufPtr uint32) uint32 {
	mem := mod.Memory()
	offset := bufPtr
	for i, v := range values {
		if !mem.WriteUint32Le(vecPtr+uint32(i)*4, offset) {
			return ErrnoFault
		}
		if !mem.Write(offset, append([]byte(v), 0)) {
			return ErrnoFault
		}
		offset += uint32(len(v)) + 1
	}
	return ErrnoSuccess
}

func writeVectorSizes(mod api.Module, values []string, countPtr, bufSizePtr uint32) uint32 {
	mem := mod.Memory()
	size := uint32(0)
	for _, v := range values {
		size += uint32(len(v)) + 1
	}
	if !mem.WriteUint32Le(countPtr, uint32(len(values))) {
		return ErrnoFault
	}
	if !mem.WriteUint32Le(bufSizePtr, size) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) clockResGet(_ context.Context, mod api.Module, _ uint32, resultPtr uint32) uint32 {
	if !mod.Memory().WriteUint64Le(resultPtr, uint64(time.Microsecond.Nanoseconds())) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) clockTimeGet(_ context.Context, mod api.Module, clockID uint32, _ uint64, resultPtr uint32) uint32 {
	var now uint64
	switch clockID {
	case 0: // realtime
		now = uint64(time.Now().UnixNano())
	case 1, 2, 3: // monotonic and cputime clocks
		now = uint64(time.Since(h.epoch).Nanoseconds())
	default:
		return ErrnoInval
	}
	if !mod.Memory().WriteUint64Le(resultPtr, now) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) fdAdvise(_ context.Context, _ api.Module, fd uint32, _, _ uint64, _ uint32) uint32 {
	if _, ok := h.fds.get(fd); !ok {
		return ErrnoBadf
	}
	return ErrnoSuccess
}

func (h *Host) fdAllocate(_ context.Context, _ api.Module, _ uint32, _, _ uint64) uint32 {
	return ErrnoNosys
}

func (h *Host) fdClose(_ context.Context, _ api.Module, fd uint32) uint32 {
	if fd <= 2 {
		// Stdio stays open for the lifetime of the instance.
		return ErrnoSuccess
	}
	if !h.fds.remove(fd) {
		return ErrnoBadf
	}
	return ErrnoSuccess
}

func (h *Host) fdDatasync(_ context.Context, _ api.Module, fd uint32) uint32 {
	return h.fdSync(nil, nil, fd)
}

func (h *Host) fdFdstatGet(_ context.Context, mod api.Module, fd, buf uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}

	var stat [24]byte
	stat[0] = fdFiletype(e)
	var flags uint16
	if e.append {
		flags |= fdflagAppend
	}
	binary.LittleEndian.PutUint16(stat[2:], flags)
	binary.LittleEndian.PutUint64(stat[8:], rightsAll)
	binary.LittleEndian.PutUint64(stat[16:], rightsAll)
	if !mod.Memory().Write(buf, stat[:]) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func fdFiletype(e *fdEntry) byte {
	switch e.kind {
	case kindStdin, kindStdout, kindStderr:
		return filetypeCharDevice
	case kindDir:
		return filetypeDirectory
	default:
		return filetypeRegularFile
	}
}

func (h *Host) fdFdstatSetFlags(_ context.Context, _ api.Module, _ uint32, _ uint32) uint32 {
	return ErrnoNosys
}

func (h *Host) fdFilestatGet(_ context.Context, mod api.Module, fd, buf uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}

	switch e.kind {
	case kindStdin, kindStdout, kindStderr:
		var stat [64]byte
		stat[16] = filetypeCharDevice
		binary.LittleEndian.PutUint64(stat[24:], 1) // nlink
		if !mod.Memory().Write(buf, stat[:]) {
			return ErrnoFault
		}
		return ErrnoSuccess
	}

	var fi fs.FileInfo
	var err error
	if e.file != nil {
		fi, err = e.file.Stat()
	} else {
		fi, err = h.fsys.Stat(e.guestPath)
	}
	if err != nil {
		return mapError(err)
	}
	return writeFilestat(mod, buf, fi)
}

// writeFilestat serializes fi into the 64-byte preview1 filestat layout.
// Device and inode are reported as zero: the guest never learns where the
// file really lives, and idempotent resolution is checked host-side.
func writeFilestat(mod api.Module, buf uint32, fi fs.FileInfo) uint32 {
	var stat [64]byte
	stat[16] = infoFiletype(fi)
	binary.LittleEndian.PutUint64(stat[24:], 1) // nlink
	binary.LittleEndian.PutUint64(stat[32:], uint64(fi.Size()))
	mtime := uint64(fi.ModTime().UnixNano())
	binary.LittleEndian.PutUint64(stat[40:], mtime) // atim
	binary.LittleEndian.PutUint64(stat[48:], mtime) // mtim
	binary.LittleEndian.PutUint64(stat[56:], mtime) // ctim
	if !mod.Memory().Write(buf, stat[:]) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func infoFiletype(fi fs.FileInfo) byte {
	switch {
	case fi.IsDir():
		return filetypeDirectory
	case fi.Mode()&fs.ModeSymlink != 0:
		return filetypeSymbolicLink
	case fi.Mode().IsRegular():
		return filetypeRegularFile
	default:
		return filetypeUnknown
	}
}

func (h *Host) fdFilestatSetSize(_ context.Context, _ api.Module, fd uint32, size uint64) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}
	if e.file == nil {
		return ErrnoInval
	}
	if err := e.file.Truncate(int64(size)); err != nil {
		return mapError(err)
	}
	return ErrnoSuccess
}

func (h *Host) fdFilestatSetTimes(_ context.Context, _ api.Module, fd uint32, atim, mtim uint64, fstflags uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}
	if e.kind != kindFile && e.kind != kindDir {
		return ErrnoInval
	}
	return h.setTimes(e.guestPath, atim, mtim, fstflags)
}

func (h *Host) setTimes(guestPath string, atim, mtim uint64, fstflags uint32) uint32 {
	now := time.Now()
	var atime, mtime time.Time

	switch {
	case fstflags&fstflagAtimNow != 0:
		atime = now
	case fstflags&fstflagAtim != 0:
		atime = time.Unix(0, int64(atim))
	}
	switch {
	case fstflags&fstflagMtimNow != 0:
		mtime = now
	case fstflags&fstflagMtim != 0:
		mtime = time.Unix(0, int64(mtim))
	}

	if atime.IsZero() || mtime.IsZero() {
		fi, err := h.fsys.Stat(guestPath)
		if err != nil {
			return mapError(err)
		}
		if atime.IsZero() {
			atime = fi.ModTime()
		}
		if mtime.IsZero() {
			mtime = fi.ModTime()
		}
	}

	if err := h.fsys.Chtimes(guestPath, atime, mtime); err != nil {
		return mapError(err)
	}
	return ErrnoSuccess
}

// iovec walks the guest's scatter-gather list, handing each buffer to fn
// until fn reports it is done.
func iovec(mod api.Module, iovs, iovsCount uint32, fn func(buf []byte) (int, bool)) (uint32, uint32) {
	mem := mod.Memory()
	total := uint32(0)
	for i := uint32(0); i < iovsCount; i++ {
		ptr, ok := mem.ReadUint32Le(iovs + i*8)
		if !ok {
			return 0, ErrnoFault
		}
		length, ok := mem.ReadUint32Le(iovs + i*8 + 4)
		if !ok {
			return 0, ErrnoFault
		}
		buf, ok := mem.Read(ptr, length)
		if !ok {
			return 0, ErrnoFault
		}
		n, done := fn(buf)
		total += uint32(n)
		if done {
			break
		}
	}
	return total, ErrnoSuccess
}

func (h *Host) fdRead(_ context.Context, mod api.Module, fd, iovs, iovsCount, nreadPtr uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}

	var reader io.Reader
	switch e.kind {
	case kindStdin:
		reader = h.stdin
	case kindStdout, kindStderr:
		return ErrnoBadf
	case kindDir:
		return ErrnoIsdir
	default:
		reader = e.file
	}

	var readErr error
	total, errno := iovec(mod, iovs, iovsCount, func(buf []byte) (int, bool) {
		n, err := reader.Read(buf)
		if err != nil && err != io.EOF {
			readErr = err
		}
		return n, err != nil || n < len(buf)
	})
	if errno != ErrnoSuccess {
		return errno
	}
	if readErr != nil {
		return mapError(readErr)
	}
	if !mod.Memory().WriteUint32Le(nreadPtr, total) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) fdWrite(_ context.Context, mod api.Module, fd, iovs, iovsCount, nwrittenPtr uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}

	var writer io.Writer
	switch e.kind {
	case kindStdout:
		writer = h.stdout
	case kindStderr:
		writer = h.stderr
	case kindStdin:
		return ErrnoBadf
	case kindDir:
		return ErrnoIsdir
	default:
		writer = e.file
	}

	var writeErr error
	total, errno := iovec(mod, iovs, iovsCount, func(buf []byte) (int, bool) {
		n, err := writer.Write(buf)
		if err != nil {
			writeErr = err
		}
		return n, err != nil
	})
	if errno != ErrnoSuccess {
		return errno
	}
	if writeErr != nil {
		return mapError(writeErr)
	}
	if !mod.Memory().WriteUint32Le(nwrittenPtr, total) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) fdPread(_ context.Context, mod api.Module, fd, iovs, iovsCount uint32, offset uint64, nreadPtr uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}
	if e.file == nil {
		return ErrnoSpipe
	}

	pos := int64(offset)
	var readErr error
	total, errno := iovec(mod, iovs, iovsCount, func(buf []byte) (int, bool) {
		n, err := e.file.ReadAt(buf, pos)
		pos += int64(n)
		if err != nil && err != io.EOF {
			readErr = err
		}
		return n, err != nil || n < len(buf)
	})
	if errno != ErrnoSuccess {
		return errno
	}
	if readErr != nil {
		return mapError(readErr)
	}
	if !mod.Memory().WriteUint32Le(nreadPtr, total) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) fdPwrite(_ context.Context, mod api.Module, fd, iovs, iovsCount uint32, offset uint64, nwrittenPtr uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}
	if e.file == nil {
		return ErrnoSpipe
	}

	pos := int64(offset)
	var writeErr error
	total, errno := iovec(mod, iovs, iovsCount, func(buf []byte) (int, bool) {
		n, err := e.file.WriteAt(buf, pos)
		pos += int64(n)
		if err != nil {
			writeErr = err
		}
		return n, err != nil
	})
	if errno != ErrnoSuccess {
		return errno
	}
	if writeErr != nil {
		return mapError(writeErr)
	}
	if !mod.Memory().WriteUint32Le(nwrittenPtr, total) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) fdSeek(_ context.Context, mod api.Module, fd uint32, offset uint64, whence, resultPtr uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}
	if e.file == nil {
		return ErrnoSpipe
	}
	if whence > 2 {
		return ErrnoInval
	}
	pos, err := e.file.Seek(int64(offset), int(whence))
	if err != nil {
		return mapError(err)
	}
	if !mod.Memory().WriteUint64Le(resultPtr, uint64(pos)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) fdTell(ctx context.Context, mod api.Module, fd, resultPtr uint32) uint32 {
	return h.fdSeek(ctx, mod, fd, 0, 1, resultPtr)
}

func (h *Host) fdSync(_ context.Context, _ api.Module, fd uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok {
		return ErrnoBadf
	}
	if e.file == nil {
		return ErrnoSuccess
	}
	if err := e.file.Sync(); err != nil {
		return mapError(err)
	}
	return ErrnoSuccess
}

func (h *Host) fdPrestatGet(_ context.Context, mod api.Module, fd, buf uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok || !e.preopen {
		return ErrnoBadf
	}
	mem := mod.Memory()
	if !mem.WriteByte(buf, 0) { // tag: preopen directory
		return ErrnoFault
	}
	if !mem.WriteUint32Le(buf+4, uint32(len(e.guestPath))) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) fdPrestatDirName(_ context.Context, mod api.Module, fd, pathPtr, pathLen uint32) uint32 {
	e, ok := h.fds.get(fd)
	if !ok || !e.preopen {
		return ErrnoBadf
	}
	if pathLen < uint32(len(e.guestPath)) {
		return ErrnoNametoolong
	}
	if !mod.Memory().Write(pathPtr, []byte(e.guestPath)) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

// refreshDir loads the listing for a directory descriptor. Non-zero
// cookies index the cached snapshot so entries stay stable mid-iteration;
// a rewind to cookie 0 re-reads the directory.
func (h *Host) refreshDir(e *fdEntry, cookie uint64) error {
	if e.dirRead && cookie != 0 {
		return nil
	}
	entries, err := h.fsys.ReadDir(e.guestPath)
	if err != nil {
		return err
	}
	e.dirEntries = entries
	e.dirRead = true
	return nil
}

func (h *Host) fdReaddir(_ context.Context, mod api.Module, fd, buf, bufLen uint32, cookie uint64, bufusedPtr uint32) uint32 {
	e, errno := h.dirEntry(fd)
	if errno != ErrnoSuccess {
		return errno
	}

	if err := h.refreshDir(e, cookie); err != nil {
		return mapError(err)
	}

	// Names served in order: ".", "..", then the real listing. Cookies are
	// positions into that virtual sequence.
	names := make([]string, 0, len(e.dirEntries)+2)
	types := make([]byte, 0, len(e.dirEntries)+2)
	names = append(names, ".", "..")
	types = append(types, filetypeDirectory, filetypeDirectory)
	for _, de := range e.dirEntries {
		names = append(names, de.Name())
		t := byte(filetypeRegularFile)
		if de.IsDir() {
			t = filetypeDirectory
		} else if de.Type()&fs.ModeSymlink != 0 {
			t = filetypeSymbolicLink
		}
		types = append(types, t)
	}

	if cookie > uint64(len(names)) {
		return ErrnoInval
	}

	mem := mod.Memory()
	used := uint32(0)
	for i := int(cookie); i < len(names); i++ {
		name := []byte(names[i])
		var dirent [24]byte
		binary.LittleEndian.PutUint64(dirent[0:], uint64(i)+1) // d_next
		binary.LittleEndian.PutUint32(dirent[16:], uint32(len(name)))
		dirent[20] = types[i]

		record := append(dirent[:], name...)
		if used+uint32(len(record)) > bufLen {
			// Truncated entry: fill the remainder so the guest knows to
			// grow its buffer and come back with the same cookie.
			remain := bufLen - used
			if remain > 0 && !mem.Write(buf+used, record[:remain]) {
				return ErrnoFault
			}
			used = bufLen
			break
		}
		if !mem.Write(buf+used, record) {
			return ErrnoFault
		}
		used += uint32(len(record))
	}

	if !mem.WriteUint32Le(bufusedPtr, used) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) fdRenumber(_ context.Context, _ api.Module, from, to uint32) uint32 {
	if from <= 2 || to <= 2 {
		return ErrnoNotsup
	}
	if !h.fds.renumber(from, to) {
		return ErrnoBadf
	}
	return ErrnoSuccess
}

func (h *Host) pathOpen(_ context.Context, mod api.Module, fd, dirflags, pathPtr, pathLen, oflags uint32, rightsBase, _ uint64, fdflags, openedFdPtr uint32) uint32 {
	guestPath, errno := h.guestPathArg(mod, fd, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	if errno := h.nofollowErrno(guestPath, dirflags); errno != ErrnoSuccess {
		return errno
	}

	flag := 0
	if oflags&oflagCreat != 0 {
		flag |= os.O_CREATE
	}
	if oflags&oflagExcl != 0 {
		flag |= os.O_EXCL
	}
	if oflags&oflagTrunc != 0 {
		flag |= os.O_TRUNC
	}
	isAppend := fdflags&fdflagAppend != 0
	if isAppend {
		flag |= os.O_APPEND
	}

	wantRead := rightsBase&(rightFDRead|rightFDReaddir) != 0
	wantWrite := rightsBase&rightFDWrite != 0 || flag&(os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
	switch {
	case wantRead && wantWrite:
		flag |= os.O_RDWR
	case wantWrite:
		flag |= os.O_WRONLY
	default:
		flag |= os.O_RDONLY
	}

	file, err := h.fsys.OpenFile(guestPath, flag, 0o644)
	if err != nil {
		Logger().Debug("path_open failed",
			zap.String("guest_path", guestPath),
			zap.Error(err))
		return mapError(err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return mapError(err)
	}
	if oflags&oflagDirectory != 0 && !fi.IsDir() {
		file.Close()
		return ErrnoNotdir
	}

	kind := kindFile
	if fi.IsDir() {
		kind = kindDir
	}
	opened := h.fds.insert(&fdEntry{
		file:      file,
		guestPath: guestPath,
		kind:      kind,
		append:    isAppend,
	})
	if !mod.Memory().WriteUint32Le(openedFdPtr, opened) {
		h.fds.remove(opened)
		return ErrnoFault
	}
	return ErrnoSuccess
}

// nofollowErrno enforces a cleared symlink_follow lookupflag: if the final
// component is a symlink it must not be followed, and Linux reports ELOOP
// for the analogous O_NOFOLLOW open. Other lstat failures are left for the
// open itself to surface.
func (h *Host) nofollowErrno(guestPath string, dirflags uint32) Errno {
	if dirflags&lookupSymlinkFollow != 0 {
		return ErrnoSuccess
	}
	if fi, err := h.fsys.Lstat(guestPath); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		return ErrnoLoop
	}
	return ErrnoSuccess
}

func (h *Host) pathFilestatGet(_ context.Context, mod api.Module, fd, flags, pathPtr, pathLen, buf uint32) uint32 {
	guestPath, errno := h.guestPathArg(mod, fd, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}

	var fi fs.FileInfo
	var err error
	if flags&lookupSymlinkFollow != 0 {
		fi, err = h.fsys.Stat(guestPath)
	} else {
		fi, err = h.fsys.Lstat(guestPath)
	}
	if err != nil {
		return mapError(err)
	}
	return writeFilestat(mod, buf, fi)
}

func (h *Host) pathFilestatSetTimes(_ context.Context, mod api.Module, fd, _, pathPtr, pathLen uint32, atim, mtim uint64, fstflags uint32) uint32 {
	guestPath, errno := h.guestPathArg(mod, fd, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	return h.setTimes(guestPath, atim, mtim, fstflags)
}

func (h *Host) pathCreateDirectory(_ context.Context, mod api.Module, fd, pathPtr, pathLen uint32) uint32 {
	guestPath, errno := h.guestPathArg(mod, fd, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	if err := h.fsys.Mkdir(guestPath); err != nil {
		return mapError(err)
	}
	return ErrnoSuccess
}

func (h *Host) pathRemoveDirectory(_ context.Context, mod api.Module, fd, pathPtr, pathLen uint32) uint32 {
	guestPath, errno := h.guestPathArg(mod, fd, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	fi, err := h.fsys.Lstat(guestPath)
	if err != nil {
		return mapError(err)
	}
	if !fi.IsDir() {
		return ErrnoNotdir
	}
	if err := h.fsys.Remove(guestPath); err != nil {
		return mapError(err)
	}
	return ErrnoSuccess
}

func (h *Host) pathUnlinkFile(_ context.Context, mod api.Module, fd, pathPtr, pathLen uint32) uint32 {
	guestPath, errno := h.guestPathArg(mod, fd, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	fi, err := h.fsys.Lstat(guestPath)
	if err != nil {
		return mapError(err)
	}
	if fi.IsDir() {
		return ErrnoIsdir
	}
	if err := h.fsys.Remove(guestPath); err != nil {
		return mapError(err)
	}
	return ErrnoSuccess
}

func (h *Host) pathRename(_ context.Context, mod api.Module, fd, oldPtr, oldLen, newFd, newPtr, newLen uint32) uint32 {
	oldPath, errno := h.guestPathArg(mod, fd, oldPtr, oldLen)
	if errno != ErrnoSuccess {
		return errno
	}
	newPath, errno := h.guestPathArg(mod, newFd, newPtr, newLen)
	if errno != ErrnoSuccess {
		return errno
	}
	if err := h.fsys.Rename(oldPath, newPath); err != nil {
		return mapError(err)
	}
	return ErrnoSuccess
}

func (h *Host) pathReadlink(_ context.Context, mod api.Module, fd, pathPtr, pathLen, buf, bufLen, bufusedPtr uint32) uint32 {
	guestPath, errno := h.guestPathArg(mod, fd, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	target, err := h.fsys.Readlink(guestPath)
	if err != nil {
		return mapError(err)
	}

	data := []byte(target)
	if uint32(len(data)) > bufLen {
		data = data[:bufLen]
	}
	mem := mod.Memory()
	if !mem.Write(buf, data) {
		return ErrnoFault
	}
	if !mem.WriteUint32Le(bufusedPtr, uint32(len(data))) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) pathSymlink(_ context.Context, mod api.Module, targetPtr, targetLen, fd, pathPtr, pathLen uint32) uint32 {
	targetBuf, ok := mod.Memory().Read(targetPtr, targetLen)
	if !ok {
		return ErrnoFault
	}
	guestPath, errno := h.guestPathArg(mod, fd, pathPtr, pathLen)
	if errno != ErrnoSuccess {
		return errno
	}
	if err := h.fsys.Symlink(string(targetBuf), guestPath); err != nil {
		return mapError(err)
	}
	return ErrnoSuccess
}

func (h *Host) pathLink(_ context.Context, _ api.Module, _, _, _, _, _, _, _ uint32) uint32 {
	return ErrnoNosys
}

func (h *Host) pollOneoff(_ context.Context, _ api.Module, _, _, _, _ uint32) uint32 {
	return ErrnoNosys
}

func (h *Host) procExit(ctx context.Context, mod api.Module, code uint32) {
	_ = mod.CloseWithExitCode(ctx, code)
	panic(sys.NewExitError(code))
}

func (h *Host) randomGet(_ context.Context, mod api.Module, buf, bufLen uint32) uint32 {
	data := make([]byte, bufLen)
	if _, err := cryptorand.Read(data); err != nil {
		return ErrnoIo
	}
	if !mod.Memory().Write(buf, data) {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (h *Host) schedYield(_ context.Context, _ api.Module) uint32 {
	return ErrnoSuccess
}
