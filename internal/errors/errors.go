package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes failures so callers can branch without string matching.
type Kind int

const (
	KindUnknown             Kind = iota
	InvalidReference             // malformed method reference
	SymbolNotFound               // service or method absent after resolution
	TransportFailure             // connect, handshake or timeout
	ReflectionProtocolError      // reflection service answered with an error
	DecodeFailure                // descriptor bytes or JSON do not match the layout
	ResourceExhausted            // client-side memory guard tripped
	InvalidMetadata              // bad header key or value
	CallFailed                   // server returned a non-OK status for the call
)

// Sentinel errors, one per kind. errors.Is(err, ErrSymbolNotFound) matches
// any *Error of that kind.
var (
	ErrInvalidReference        = errors.New("invalid method reference")
	ErrSymbolNotFound          = errors.New("symbol not found")
	ErrTransportFailure        = errors.New("transport failure")
	ErrReflectionProtocolError = errors.New("reflection protocol error")
	ErrDecodeFailure           = errors.New("decode failure")
	ErrResourceExhausted       = errors.New("resource exhausted")
	ErrInvalidMetadata         = errors.New("invalid metadata")
	ErrCallFailed              = errors.New("call failed")
)

var sentinels = map[Kind]error{
	InvalidReference:        ErrInvalidReference,
	SymbolNotFound:          ErrSymbolNotFound,
	TransportFailure:        ErrTransportFailure,
	ReflectionProtocolError: ErrReflectionProtocolError,
	DecodeFailure:           ErrDecodeFailure,
	ResourceExhausted:       ErrResourceExhausted,
	InvalidMetadata:         ErrInvalidMetadata,
	CallFailed:              ErrCallFailed,
}

func (k Kind) String() string {
	if s, ok := sentinels[k]; ok {
		return s.Error()
	}
	return "unknown error"
}

// Error is the error type returned by the client core. Op names the
// operation and Subject the symbol or endpoint involved.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

// New builds an *Error wrapping err.
func New(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, op, subject, format string, args ...any) *Error {
	return New(kind, op, subject, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	prefix := e.Op
	if e.Subject != "" {
		if prefix != "" {
			prefix += " "
		}
		prefix += e.Subject
	}
	if prefix == "" {
		return msg
	}
	return prefix + ": " + msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReflectionError is an error response returned by the reflection service,
// carried verbatim.
type ReflectionError struct {
	Code    int32
	Message string
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("reflection error: %d - %s", e.Code, e.Message)
}

// MemoryLimitError reports a stream aborted by the client memory guard.
type MemoryLimitError struct {
	Bytes int64
	Limit int64
}

func (e *MemoryLimitError) Error() string {
	return fmt.Sprintf("stream processing exceeded memory limit (%d MB, %d bytes). Stream terminated to prevent OOM.",
		e.Bytes/(1024*1024), e.Bytes)
}

// ValidationError represents a field validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
