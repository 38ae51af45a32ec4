// Package errors provides structured error types for the runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the guest-visible path, the matched capability name, and a
// cause chain for host I/O failures.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindEscape).
//		GuestPath("/tmp/../etc/passwd").
//		Capability("/tmp").
//		Detail("parent reference above capability root").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Escape(guestPath, "/tmp", "symlink target leaves subtree")
//	err := errors.IO(guestPath, osErr)
//
// The three denial kinds (invalid_path, no_capability, escape) all satisfy
// errors.Is(err, ErrInsufficientCapability), so callers on the guest side of
// the boundary observe a single uniform outcome. Host I/O errors pass through
// with their original detail.
package errors
