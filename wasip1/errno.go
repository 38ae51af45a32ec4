package wasip1

import (
	"errors"
	"io/fs"
	"syscall"

	caperr "github.com/AlanFoster/wasmtime/errors"
)

// Errno is a WASI preview1 error number.
type Errno = uint32

const (
	ErrnoSuccess     Errno = 0
	ErrnoAcces       Errno = 2
	ErrnoAgain       Errno = 6
	ErrnoBadf        Errno = 8
	ErrnoBusy        Errno = 10
	ErrnoExist       Errno = 20
	ErrnoFault       Errno = 21
	ErrnoFbig        Errno = 22
	ErrnoInval       Errno = 28
	ErrnoIo          Errno = 29
	ErrnoIsdir       Errno = 31
	ErrnoLoop        Errno = 32
	ErrnoMlink       Errno = 34
	ErrnoNametoolong Errno = 37
	ErrnoNoent       Errno = 44
	ErrnoNospc       Errno = 51
	ErrnoNosys       Errno = 52
	ErrnoNotdir      Errno = 54
	ErrnoNotempty    Errno = 55
	ErrnoNotsup      Errno = 58
	ErrnoPerm        Errno = 63
	ErrnoPipe        Errno = 64
	ErrnoRofs        Errno = 69
	ErrnoSpipe       Errno = 70
	ErrnoXdev        Errno = 75
	ErrnoNotcapable  Errno = 76
)

// mapError translates an error from the capability layer into a WASI errno.
// Every denial becomes ENOTCAPABLE, the errno WASI reserves for exactly this
// boundary; host I/O failures keep their native detail.
func mapError(err error) Errno {
	if err == nil {
		return ErrnoSuccess
	}
	if caperr.IsDenial(err) {
		return ErrnoNotcapable
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return mapErrno(errno)
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrnoNoent
	case errors.Is(err, fs.ErrPermission):
		return ErrnoAcces
	case errors.Is(err, fs.ErrExist):
		return ErrnoExist
	case errors.Is(err, fs.ErrClosed):
		return ErrnoBadf
	case errors.Is(err, fs.ErrInvalid):
		return ErrnoInval
	}
	return ErrnoIo
}

func mapErrno(errno syscall.Errno) Errno {
	switch errno {
	case syscall.EACCES:
		return ErrnoAcces
	case syscall.EPERM:
		return ErrnoPerm
	case syscall.ENOENT:
		return ErrnoNoent
	case syscall.EEXIST:
		return ErrnoExist
	case syscall.ENOTDIR:
		return ErrnoNotdir
	case syscall.EISDIR:
		return ErrnoIsdir
	case syscall.ENOTEMPTY:
		return ErrnoNotempty
	case syscall.ENAMETOOLONG:
		return ErrnoNametoolong
	case syscall.ENOSPC:
		return ErrnoNospc
	case syscall.EROFS:
		return ErrnoRofs
	case syscall.EXDEV:
		return ErrnoXdev
	case syscall.ELOOP:
		return ErrnoLoop
	case syscall.EMLINK:
		return ErrnoMlink
	case syscall.EBUSY:
		return ErrnoBusy
	case syscall.EINVAL:
		return ErrnoInval
	case syscall.EFBIG:
		return ErrnoFbig
	case syscall.EPIPE:
		return ErrnoPipe
	case syscall.ESPIPE:
		return ErrnoSpipe
	case syscall.EAGAIN:
		return ErrnoAgain
	case syscall.EFAULT:
		return ErrnoFault
	case syscall.ENOSYS:
		return ErrnoNosys
	default:
		return ErrnoIo
	}
}
