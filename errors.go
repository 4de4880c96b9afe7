package barretenberg

import "strings"

// Kind categorizes an Error.
type Kind string

const (
	KindIO                    Kind = "io"
	KindNotFound              Kind = "not_found"
	KindReleaseWithoutAcquire Kind = "release_without_acquire"
	KindInvalidLength         Kind = "invalid_length"
	KindNativeTrap            Kind = "native_trap"
	KindNotReady              Kind = "not_ready"
	KindOutOfBounds           Kind = "out_of_bounds"
	KindInvalidConfig         Kind = "invalid_config"
	KindCompile               Kind = "compile"
	KindInstantiate           Kind = "instantiate"
	KindInvalidArgs           Kind = "invalid_args"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrIO                    = &Error{Kind: KindIO}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrReleaseWithoutAcquire = &Error{Kind: KindReleaseWithoutAcquire}
	ErrInvalidLength         = &Error{Kind: KindInvalidLength}
	ErrNativeTrap            = &Error{Kind: KindNativeTrap}
	ErrNotReady              = &Error{Kind: KindNotReady}
	ErrOutOfBounds           = &Error{Kind: KindOutOfBounds}
	ErrInvalidConfig         = &Error{Kind: KindInvalidConfig}
	ErrCompile               = &Error{Kind: KindCompile}
	ErrInstantiate           = &Error{Kind: KindInstantiate}
	ErrInvalidArgs           = &Error{Kind: KindInvalidArgs}
)

// Error is the structured error returned by this module.
type Error struct {
	Kind   Kind
	Op     string // operation or export name
	Detail string
	Cause  error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString("barretenberg: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))

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

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, op, detail string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Cause: cause}
}
