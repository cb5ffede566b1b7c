package errors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates which operation produced the error
type Phase string

const (
	PhaseOpen     Phase = "open"
	PhaseRead     Phase = "read"
	PhaseWrite    Phase = "write"
	PhaseSeek     Phase = "seek"
	PhaseStat     Phase = "stat"
	PhaseReadDir  Phase = "readdir"
	PhaseCreate   Phase = "create"
	PhaseLink     Phase = "link"
	PhaseUnlink   Phase = "unlink"
	PhaseRename   Phase = "rename"
	PhaseMetadata Phase = "metadata"
	PhaseSync     Phase = "sync"
	PhasePoll     Phase = "poll"
	PhaseClose    Phase = "close"
	PhaseMount    Phase = "mount"  // engine and device bring-up
	PhaseImport   Phase = "import" // boot image copy
	PhaseDevice   Phase = "device" // block I/O
	PhaseConfig   Phase = "config" // boot configuration
	PhaseHost     Phase = "host"   // host module registration
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidFd        Kind = "invalid_fd"
	KindPermissionDenied Kind = "permission_denied"
	KindNotInitialized   Kind = "not_initialized"
	KindBackend          Kind = "backend"
	KindDevice           Kind = "device"
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindUnsupported      Kind = "unsupported"
	KindExhausted        Kind = "exhausted"
)

// NoFd marks an error that is not bound to a descriptor.
const NoFd = -1

// Error is the structured error type used throughout fdtab
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Path   string
	Detail string
	Fd     int64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Fd >= 0 {
		b.WriteString(" fd ")
		b.WriteString(strconv.FormatInt(e.Fd, 10))
	}

	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether any *Error in err's chain has the given kind.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
			Fd:    NoFd,
		},
	}
}

// Path sets the filesystem path
func (b *Builder) Path(path string) *Builder {
	b.err.Path = path
	return b
}

// Fd sets the descriptor
func (b *Builder) Fd(fd uint32) *Builder {
	b.err.Fd = int64(fd)
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidFd creates an error for a descriptor missing from the table
func InvalidFd(phase Phase, fd uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidFd,
		Fd:     int64(fd),
		Detail: "bad file descriptor",
	}
}

// PermissionDenied creates an error for an access the descriptor was not opened for
func PermissionDenied(phase Phase, fd uint32, access string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPermissionDenied,
		Fd:     int64(fd),
		Detail: fmt.Sprintf("descriptor not opened for %s", access),
	}
}

// NotInitialized creates a not-initialized error for a missing mount
func NotInitialized(phase Phase, component string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Fd:     NoFd,
		Detail: fmt.Sprintf("%s not initialized", component),
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, path string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindNotFound,
		Fd:    NoFd,
		Path:  path,
		Cause: cause,
	}
}

// Backend wraps an engine failure
func Backend(phase Phase, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindBackend,
		Fd:    NoFd,
		Cause: cause,
	}
}

// Device creates a block device failure
func Device(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseDevice,
		Kind:   KindDevice,
		Fd:     NoFd,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Fd:     NoFd,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Fd:     NoFd,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Fd:     NoFd,
		Detail: detail,
		Cause:  cause,
	}
}
