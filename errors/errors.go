package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseBootstrap Phase = "bootstrap" // bridge module injection
	PhaseHostCall  Phase = "hostcall"  // cross-heap call handling
	PhaseRegistry  Phase = "registry"  // registration queue operations
	PhaseLifecycle Phase = "lifecycle" // close and teardown
	PhaseName      Phase = "name"      // object name parsing
	PhaseHost      Phase = "host"      // host runtime internals
)

// Kind categorizes the error
type Kind string

const (
	KindUnsupported        Kind = "unsupported"
	KindAlreadyInitialized Kind = "already_initialized"
	KindMalformedName      Kind = "malformed_name"
	KindForeignCall        Kind = "foreign_call"
	KindClosed             Kind = "closed"
	KindNotFound           Kind = "not_found"
	KindNotInitialized     Kind = "not_initialized"
	KindInvalidInput       Kind = "invalid_input"
	KindTimeout            Kind = "timeout"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value        any
	Cause        error
	Phase        Phase
	Kind         Kind
	FaultClass   string
	FaultMessage string
	Detail       string
	Path         []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.FaultClass != "" || e.FaultMessage != "" {
		b.WriteString(": ")
		if e.FaultClass != "" && e.FaultMessage != "" {
			b.WriteString("fault ")
			b.WriteString(e.FaultClass)
			b.WriteString(": ")
			b.WriteString(e.FaultMessage)
		} else if e.FaultClass != "" {
			b.WriteString("fault ")
			b.WriteString(e.FaultClass)
		} else {
			b.WriteString(e.FaultMessage)
		}
	}

	if e.Detail != "" {
		if e.FaultClass != "" || e.FaultMessage != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
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

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// FaultClass sets the foreign fault class name
func (b *Builder) FaultClass(c string) *Builder {
	b.err.FaultClass = c
	return b
}

// FaultMessage sets the foreign fault message
func (b *Builder) FaultMessage(m string) *Builder {
	b.err.FaultMessage = m
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
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

// ForeignCall creates an error for a host call that faulted outside the
// caller's allow-list. The foreign class and message are preserved verbatim.
func ForeignCall(phase Phase, op, faultClass, faultMessage string) *Error {
	return &Error{
		Phase:        phase,
		Kind:         KindForeignCall,
		FaultClass:   faultClass,
		FaultMessage: faultMessage,
		Detail:       op,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// AlreadyInitialized creates an error for a second initialization attempt
func AlreadyInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlreadyInitialized,
		Detail: fmt.Sprintf("%s already initialized", what),
	}
}

// MalformedName creates an object name validation error
func MalformedName(name, reason string) *Error {
	return &Error{
		Phase:  PhaseName,
		Kind:   KindMalformedName,
		Detail: fmt.Sprintf("object name %q: %s", name, reason),
		Value:  name,
	}
}

// Closed creates an error for an operation against a closed component
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// NotInitialized creates a not-initialized error for missing bridge state
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// WaitExhausted creates an error for a bounded wait that ran out of
// attempts. The condition is reported as unsupported, not fatal.
func WaitExhausted(what string, attempts int) *Error {
	return &Error{
		Phase:  PhaseBootstrap,
		Kind:   KindUnsupported,
		Detail: fmt.Sprintf("%s not observed after %d attempts", what, attempts),
	}
}

// Canceled wraps a context error that interrupted a blocking operation
func Canceled(phase Phase, op string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Detail: op,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
