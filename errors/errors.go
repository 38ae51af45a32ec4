package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseGrant    Phase = "grant"    // capability table construction
	PhaseSanitize Phase = "sanitize" // guest path normalization
	PhaseLookup   Phase = "lookup"   // capability table matching
	PhaseResolve  Phase = "resolve"  // component walk / symlink expansion
	PhaseIO       Phase = "io"       // host filesystem primitives
	PhaseLoad     Phase = "load"     // module loading
	PhaseRuntime  Phase = "runtime"  // guest execution
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidPath     Kind = "invalid_path"
	KindNoCapability    Kind = "no_capability"
	KindEscape          Kind = "escape"
	KindIOError         Kind = "io_error"
	KindDuplicateGrant  Kind = "duplicate_grant"
	KindNotDirectory    Kind = "not_directory"
	KindInvalidArgument Kind = "invalid_argument"
	KindLoadFailed      Kind = "load_failed"
	KindTrap            Kind = "trap"
)

// insufficientCapability is the uniform guest-visible denial. InvalidPath,
// NoCapability and Escape all collapse into it so the guest cannot
// distinguish a missing grant from a blocked traversal.
type insufficientCapability struct{}

func (insufficientCapability) Error() string { return "insufficient capability" }

// ErrInsufficientCapability matches every denial produced by the capability
// layer, regardless of the internal failure stage.
var ErrInsufficientCapability error = insufficientCapability{}

// Error is the structured error type used throughout the runtime
type Error struct {
	Cause      error
	Phase      Phase
	Kind       Kind
	GuestPath  string
	Capability string
	Detail     string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.GuestPath != "" {
		b.WriteString(" at ")
		b.WriteString(e.GuestPath)
	}

	if e.Capability != "" {
		b.WriteString(" (capability ")
		b.WriteString(e.Capability)
		b.WriteByte(')')
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

// Is reports whether target matches this error. Any of the three denial
// kinds matches ErrInsufficientCapability.
func (e *Error) Is(target error) bool {
	if target == ErrInsufficientCapability {
		return e.Kind == KindInvalidPath || e.Kind == KindNoCapability || e.Kind == KindEscape
	}
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsDenial reports whether err is a capability denial rather than a
// pass-through host I/O failure.
func IsDenial(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Is(ErrInsufficientCapability)
	}
	return err == ErrInsufficientCapability
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
		},
	}
}

// GuestPath sets the guest-visible path the error relates to
func (b *Builder) GuestPath(p string) *Builder {
	b.err.GuestPath = p
	return b
}

// Capability sets the guest name of the matched capability, if any
func (b *Builder) Capability(name string) *Builder {
	b.err.Capability = name
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

// InvalidPath creates a malformed guest path error
func InvalidPath(guestPath, detail string) *Error {
	return &Error{
		Phase:     PhaseSanitize,
		Kind:      KindInvalidPath,
		GuestPath: guestPath,
		Detail:    detail,
	}
}

// NoCapability creates an unmatched guest name error
func NoCapability(guestPath string) *Error {
	return &Error{
		Phase:     PhaseLookup,
		Kind:      KindNoCapability,
		GuestPath: guestPath,
	}
}

// Escape creates a sandbox escape error. detail is host-side diagnostic
// text only; it must never reach the guest.
func Escape(guestPath, capability, detail string) *Error {
	return &Error{
		Phase:      PhaseResolve,
		Kind:       KindEscape,
		GuestPath:  guestPath,
		Capability: capability,
		Detail:     detail,
	}
}

// IO wraps a host filesystem failure. It carries no capability information
// and is surfaced to the guest with its original detail.
func IO(guestPath string, cause error) *Error {
	return &Error{
		Phase:     PhaseIO,
		Kind:      KindIOError,
		GuestPath: guestPath,
		Cause:     cause,
	}
}

// DuplicateGrant creates a table construction error for a reused guest name
func DuplicateGrant(guestName string) *Error {
	return &Error{
		Phase:      PhaseGrant,
		Kind:       KindDuplicateGrant,
		Capability: guestName,
		Detail:     fmt.Sprintf("guest name %q already granted", guestName),
	}
}

// NotDirectory creates a grant error for a host path that is not a directory
func NotDirectory(guestName, detail string) *Error {
	return &Error{
		Phase:      PhaseGrant,
		Kind:       KindNotDirectory,
		Capability: guestName,
		Detail:     detail,
	}
}

// InvalidArgument creates an invalid argument error
func InvalidArgument(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: detail,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoadFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// Trap creates a guest execution error
func Trap(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Detail: detail,
		Cause:  cause,
	}
}
