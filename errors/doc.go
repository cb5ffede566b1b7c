// Package errors provides structured error types for fdtab.
//
// Errors are categorized by Phase (which operation failed) and Kind (error category).
// The Error type carries the descriptor, the path being resolved and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRead, errors.KindPermissionDenied).
//		Fd(4).
//		Detail("descriptor not opened for reading").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidFd(errors.PhaseWrite, fd)
//	err := errors.Device("read block 12", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind, so a template error can be used as a target:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseRead, Kind: errors.KindInvalidFd}) { ... }
package errors
