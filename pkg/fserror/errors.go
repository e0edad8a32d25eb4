// Package fserror defines the error taxonomy shared by every layer of the client.
//
// Errors are categorized by Kind rather than by concrete type, so callers can test
// for a category with errors.Is regardless of which layer produced the error:
//
//	if errors.Is(err, fserror.ErrNotFound) { ... }
//	if errors.Is(err, fs.ErrNotExist) { ... }   // same check through io/fs
//
// Local validation failures (bad arguments, invalid mode combinations) are always
// Argument errors and are raised before any network I/O. Server-reported failures
// are mapped from the Hadoop exception class name (see FromRemote).
package fserror

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Kind is the category of an Error.
type Kind int

const (
	// KindIO covers malformed responses from the data path, checksum failures after
	// every replica was tried, write-pipeline failures and any unmapped server error.
	KindIO Kind = iota

	// KindConnection indicates the name service cannot be reached or rejected
	// authentication.
	KindConnection

	// KindNotFound indicates the path does not exist for an operation requiring it.
	KindNotFound

	// KindPermission indicates the server denied access.
	KindPermission

	// KindProtocol indicates a frame or message could not be decoded.
	KindProtocol

	// KindArgument indicates an invalid argument or combination of arguments.
	KindArgument

	// KindExists indicates the target already exists.
	KindExists

	// KindNotSupported indicates the server does not implement the operation.
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io error"
	case KindConnection:
		return "connection error"
	case KindNotFound:
		return "not found"
	case KindPermission:
		return "permission denied"
	case KindProtocol:
		return "protocol error"
	case KindArgument:
		return "invalid argument"
	case KindExists:
		return "already exists"
	case KindNotSupported:
		return "not supported"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is. Each matches any *Error of the same Kind.
var (
	ErrIO           = &Error{Kind: KindIO}
	ErrConnection   = &Error{Kind: KindConnection}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrPermission   = &Error{Kind: KindPermission}
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrArgument     = &Error{Kind: KindArgument}
	ErrExists       = &Error{Kind: KindExists}
	ErrNotSupported = &Error{Kind: KindNotSupported}
)

// Error is the concrete error type returned by the client.
type Error struct {
	// Kind is the error category
	Kind Kind

	// Op is the operation that failed (e.g. "open", "getFileInfo", "readBlock")
	Op string

	// Path is the filesystem path related to the error, if any
	Path string

	// Message is a human-readable description. For server errors this is the first
	// line of the remote message.
	Message string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind or the matching io/fs
// sentinel.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind && t.Op == "" && t.Path == "" && t.Message == "" && t.Err == nil
	}
	switch target {
	case fs.ErrNotExist:
		return e.Kind == KindNotFound
	case fs.ErrPermission:
		return e.Kind == KindPermission
	case fs.ErrExist:
		return e.Kind == KindExists
	case fs.ErrInvalid:
		return e.Kind == KindArgument
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Argument is shorthand for a KindArgument error.
func Argument(op, format string, args ...any) *Error {
	return New(KindArgument, op, "", format, args...)
}

// NotFound is shorthand for a KindNotFound error on path.
func NotFound(op, path string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Path: path, Message: "no such file or directory"}
}

// KindOf returns the Kind of err, or KindIO when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// WithPath returns a copy of err with Path set when err is an *Error without a
// path. Other errors are returned unchanged.
func WithPath(err error, path string) error {
	var e *Error
	if !errors.As(err, &e) || e.Path != "" {
		return err
	}
	c := *e
	c.Path = path
	return &c
}
