// Package udferr contains the single tagged error type surfaced by the bridge to the host pipeline.
//
// Every failure crossing the bridge boundary carries a Kind, the call it originated from and a message.
// The host decides whether to log, abort or route the failure, nothing here retries.
package udferr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindRuntimeUnavailable
	KindSchemaViolation
	KindUnsupportedType
	KindMarshalFailure
	KindStorageError
	KindForeignExecutionError
)

func (k Kind) String() string {
	switch k {
	case KindRuntimeUnavailable:
		return "RuntimeUnavailable"
	case KindSchemaViolation:
		return "SchemaViolation"
	case KindUnsupportedType:
		return "UnsupportedType"
	case KindMarshalFailure:
		return "MarshalFailure"
	case KindStorageError:
		return "StorageError"
	case KindForeignExecutionError:
		return "ForeignExecutionError"
	}
	return "Unknown"
}

// StorageKind refines KindStorageError.
type StorageKind int

const (
	StorageKindNone StorageKind = iota
	StorageUnavailable
	StorageNetwork
	StorageAuth
	StorageNotFound
	StorageStreamClosed
	StorageHandleNotCommitted
	StorageHandleCommitted
	StorageOther
)

func (k StorageKind) String() string {
	switch k {
	case StorageUnavailable:
		return "StorageUnavailable"
	case StorageNetwork:
		return "Network"
	case StorageAuth:
		return "Auth"
	case StorageNotFound:
		return "NotFound"
	case StorageStreamClosed:
		return "StreamClosed"
	case StorageHandleNotCommitted:
		return "HandleNotCommitted"
	case StorageHandleCommitted:
		return "HandleCommitted"
	case StorageOther:
		return "Other"
	}
	return ""
}

// Error is the tagged failure. Op names the originating call, e.g. "process_tuple#17".
// Category is only set for foreign execution errors and holds the foreign runtime's own error class.
type Error struct {
	Kind     Kind
	Storage  StorageKind
	Op       string
	Message  string
	Category string
	Err      error
}

func (e *Error) Error() string {
	builder := &strings.Builder{}
	if e.Op != "" {
		builder.WriteString(e.Op)
		builder.WriteString(": ")
	}
	builder.WriteString(e.Kind.String())
	if e.Storage != StorageKindNone {
		builder.WriteString("(")
		builder.WriteString(e.Storage.String())
		builder.WriteString(")")
	}
	if e.Category != "" {
		builder.WriteString(" [")
		builder.WriteString(e.Category)
		builder.WriteString("]")
	}
	if e.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Message)
	}
	if e.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Err.Error())
	}
	return builder.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on StorageKind if the target specifies one.
// This lets callers write errors.Is(err, udferr.ErrHandleNotCommitted).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Storage == StorageKindNone || t.Storage == e.Storage
}

var (
	ErrRuntimeUnavailable     = &Error{Kind: KindRuntimeUnavailable}
	ErrSchemaViolation        = &Error{Kind: KindSchemaViolation}
	ErrUnsupportedType        = &Error{Kind: KindUnsupportedType}
	ErrMarshalFailure         = &Error{Kind: KindMarshalFailure}
	ErrStorage                = &Error{Kind: KindStorageError}
	ErrForeignExecution       = &Error{Kind: KindForeignExecutionError}
	ErrStorageUnavailable     = &Error{Kind: KindStorageError, Storage: StorageUnavailable}
	ErrStorageNotFound        = &Error{Kind: KindStorageError, Storage: StorageNotFound}
	ErrStreamClosed           = &Error{Kind: KindStorageError, Storage: StorageStreamClosed}
	ErrHandleNotCommitted     = &Error{Kind: KindStorageError, Storage: StorageHandleNotCommitted}
	ErrHandleAlreadyCommitted = &Error{Kind: KindStorageError, Storage: StorageHandleCommitted}
)

func New(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap tags err with kind. The wrapped error keeps a stack trace for %+v printing.
func Wrap(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     errors.WithStack(err),
	}
}

func Storage(kind StorageKind, op string, err error, format string, args ...interface{}) *Error {
	out := &Error{
		Kind:    KindStorageError,
		Storage: kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
	if err != nil {
		out.Err = errors.WithStack(err)
	}
	return out
}

// Foreign wraps an error raised inside the embedded runtime.
func Foreign(op, category string, err error) *Error {
	return &Error{
		Kind:     KindForeignExecutionError,
		Op:       op,
		Category: category,
		Err:      errors.WithStack(err),
	}
}

// As returns the outermost tagged error in err's chain.
func As(err error) (*Error, bool) {
	var out *Error
	if errors.As(err, &out) {
		return out, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

func StorageKindOf(err error) StorageKind {
	if e, ok := As(err); ok {
		return e.Storage
	}
	return StorageKindNone
}

// WithOp attributes a tagged error to op.
// An error already attributed to an inner operation keeps it, with op prefixed,
// so a storage failure inside a call reads "process_tuple#1: open_read: ...".
// Untagged errors are tagged as foreign execution errors.
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		if e.Op == op || strings.HasPrefix(e.Op, op+": ") {
			return e
		}
		copied := *e
		copied.Op = op
		if e.Op != "" {
			copied.Op = op + ": " + e.Op
		}
		return &copied
	}
	if _, ok := As(err); ok {
		return err
	}
	return Foreign(op, "", err)
}

// Annotate prefixes the message of a tagged error with context, keeping its kind.
func Annotate(err error, format string, args ...interface{}) error {
	e, ok := err.(*Error)
	if !ok {
		return errors.Wrapf(err, format, args...)
	}
	copied := *e
	prefix := fmt.Sprintf(format, args...)
	if copied.Message == "" {
		copied.Message = prefix
	} else {
		copied.Message = prefix + ": " + copied.Message
	}
	return &copied
}
