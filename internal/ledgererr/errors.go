package ledgererr

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies failures surfaced by the ledger core.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindImmutable    Kind = "immutable_field"
	KindIntegrity    Kind = "integrity"
	KindCollaborator Kind = "collaborator"
)

var (
	// ErrNotFound is matched by errors.Is for every not-found Error.
	ErrNotFound = errors.New("not found")
	// ErrImmutableField is matched by errors.Is when a caller tries to change identity columns.
	ErrImmutableField = errors.New("immutable field")
)

// Fields carries structured context for an Error.
type Fields map[string]interface{}

// Error is the common error type of the ledger packages.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  Fields
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Fields[k])
		}
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrImmutableField:
		return e.Kind == KindImmutable
	}
	return false
}

// With returns e with an extra context field.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(Fields)
	}
	e.Fields[key] = value
	return e
}

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a malformed input row or argument.
func Validation(op, format string, args ...interface{}) *Error {
	return newError(KindValidation, op, format, args...)
}

// NotFound reports an unknown id.
func NotFound(op string, id int64) *Error {
	return newError(KindNotFound, op, "transaction %d not found", id).With("id", id)
}

// Immutable reports an attempt to modify an identity column.
func Immutable(op, field string) *Error {
	return newError(KindImmutable, op, "field %q cannot be modified", field).With("field", field)
}

// Integrity reports a data-quality anomaly such as an orphan tax row.
func Integrity(op, format string, args ...interface{}) *Error {
	return newError(KindIntegrity, op, format, args...)
}

// Collaborator wraps a failure of the external annotation service.
func Collaborator(op string, cause error) *Error {
	e := newError(KindCollaborator, op, "annotation collaborator failed")
	e.Cause = errors.WithStack(cause)
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap annotates a storage or I/O failure with the operation that hit it.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, op)
}
