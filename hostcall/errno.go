package hostcall

import (
	stderrors "errors"

	"github.com/wippyai/fdtab/errors"
	"github.com/wippyai/fdtab/vfs"
)

// Errno is a Linux error number. Exports return it negated.
type Errno int32

const (
	ENOENT    Errno = 2
	EIO       Errno = 5
	EBADF     Errno = 9
	EACCES    Errno = 13
	EFAULT    Errno = 14
	EEXIST    Errno = 17
	EXDEV     Errno = 18
	ENODEV    Errno = 19
	ENOTDIR   Errno = 20
	EISDIR    Errno = 21
	EINVAL    Errno = 22
	EMFILE    Errno = 24
	EFBIG     Errno = 27
	ENOSPC    Errno = 28
	ENOSYS    Errno = 38
	ENOTEMPTY Errno = 39
)

var errnoNames = map[Errno]string{
	ENOENT:    "ENOENT",
	EIO:       "EIO",
	EBADF:     "EBADF",
	EACCES:    "EACCES",
	EFAULT:    "EFAULT",
	EEXIST:    "EEXIST",
	EXDEV:     "EXDEV",
	ENODEV:    "ENODEV",
	ENOTDIR:   "ENOTDIR",
	EISDIR:    "EISDIR",
	EINVAL:    "EINVAL",
	EMFILE:    "EMFILE",
	EFBIG:     "EFBIG",
	ENOSPC:    "ENOSPC",
	ENOSYS:    "ENOSYS",
	ENOTEMPTY: "ENOTEMPTY",
}

func (e Errno) String() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return "errno"
}

var sentinels = []struct {
	err   error
	errno Errno
}{
	{vfs.ErrNotFound, ENOENT},
	{vfs.ErrExist, EEXIST},
	{vfs.ErrNotDir, ENOTDIR},
	{vfs.ErrIsDir, EISDIR},
	{vfs.ErrNotEmpty, ENOTEMPTY},
	{vfs.ErrNoSpace, ENOSPC},
	{vfs.ErrInvalid, EINVAL},
	{vfs.ErrUnsupported, ENOSYS},
	{vfs.ErrTooLarge, EFBIG},
	{vfs.ErrCrossDevice, EXDEV},
	{vfs.ErrCorrupt, EIO},
}

// ErrnoOf maps a table error to an errno. Engine sentinels in the chain
// take precedence over the error kind.
func ErrnoOf(err error) Errno {
	if err == nil {
		return 0
	}
	switch errors.KindOf(err) {
	case errors.KindInvalidFd:
		return EBADF
	case errors.KindPermissionDenied:
		return EACCES
	case errors.KindNotInitialized:
		return ENODEV
	case errors.KindDevice:
		return EIO
	case errors.KindExhausted:
		return EMFILE
	}
	for _, s := range sentinels {
		if stderrors.Is(err, s.err) {
			return s.errno
		}
	}
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return ENOENT
	case errors.KindInvalidInput:
		return EINVAL
	case errors.KindUnsupported:
		return ENOSYS
	}
	return EIO
}
