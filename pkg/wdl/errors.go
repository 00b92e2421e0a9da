package wdl

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind identifies a class of runner error with a stable string,
// used as the "error" field of error.json.
type ErrorKind string

const (
	KindSyntaxError   ErrorKind = "SyntaxError"
	KindLexicalError  ErrorKind = "LexicalError"
	KindImportError   ErrorKind = "ImportError"
	KindTypeError     ErrorKind = "TypeError"
	KindInputError    ErrorKind = "InputError"
	KindEvalError     ErrorKind = "EvalError"
	KindFilesystem    ErrorKind = "FilesystemError"
	KindTaskFailure   ErrorKind = "TaskFailure"
	KindCommandError  ErrorKind = "CommandError"
	KindInterrupted   ErrorKind = "Interrupted"
	KindConfiguration ErrorKind = "ConfigurationError"
	KindRunFailure    ErrorKind = "RunFailure"
)

// TypeErrorVariant refines KindTypeError.
type TypeErrorVariant string

const (
	StaticTypeMismatch  TypeErrorVariant = "StaticTypeMismatch"
	NoSuchFunction      TypeErrorVariant = "NoSuchFunction"
	NoSuchMember        TypeErrorVariant = "NoSuchMember"
	IncompatibleOperand TypeErrorVariant = "IncompatibleOperand"
	NameCollision       TypeErrorVariant = "NameCollision"
	ForwardReference    TypeErrorVariant = "ForwardReference"
	QuantityCoercion    TypeErrorVariant = "QuantityCoercion"
)

// SourceError is an error anchored to a source position. All frontend
// and evaluation errors are SourceErrors so that error.json can carry
// the offending span.
type SourceError struct {
	Kind    ErrorKind
	Variant TypeErrorVariant
	Pos     Pos
	Message string
	Cause   error
}

func (e *SourceError) Error() string {
	kind := string(e.Kind)
	if e.Variant != "" {
		kind = fmt.Sprintf("%s (%s)", e.Kind, e.Variant)
	}
	if e.Pos.IsZero() {
		return fmt.Sprintf("%s: %s", kind, e.Message)
	}
	return fmt.Sprintf("(%s) %s: %s", e.Pos, kind, e.Message)
}

func (e *SourceError) Unwrap() error { return e.Cause }

// Errorf constructs a SourceError of the given kind.
func Errorf(kind ErrorKind, pos Pos, format string, args ...any) *SourceError {
	return &SourceError{Kind: kind, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// TypeErrorf constructs a SourceError of kind TypeError with a variant.
func TypeErrorf(variant TypeErrorVariant, pos Pos, format string, args ...any) *SourceError {
	return &SourceError{Kind: KindTypeError, Variant: variant, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind of err, walking wrapped causes.
// Unrecognized errors report KindRunFailure.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	var tf *TaskFailure
	if errors.As(err, &tf) {
		return KindTaskFailure
	}
	return KindRunFailure
}

// TaskFailure reports a task whose command exited unsuccessfully after
// all retries were spent.
type TaskFailure struct {
	Task       string
	ExitStatus int
	StderrPath string
	Attempt    int
	Cause      error
}

func (e *TaskFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("task %s failed: %v", e.Task, e.Cause)
	}
	return fmt.Sprintf("task %s failed with exit status %d (attempt %d)", e.Task, e.ExitStatus, e.Attempt)
}

func (e *TaskFailure) Unwrap() error { return e.Cause }

// ErrorJSON is the serialized form written to error.json.
type ErrorJSON struct {
	Error   string          `json:"error"`
	Message string          `json:"message,omitempty"`
	Pos     *Pos            `json:"pos,omitempty"`
	Cause   json.RawMessage `json:"cause,omitempty"`
}

// MarshalErrorJSON renders err as the error.json document.
func MarshalErrorJSON(err error) []byte {
	doc := ErrorJSON{Error: string(KindOf(err)), Message: err.Error()}
	var se *SourceError
	if errors.As(err, &se) && !se.Pos.IsZero() {
		p := se.Pos
		doc.Pos = &p
		if se.Cause != nil {
			inner := MarshalErrorJSON(se.Cause)
			doc.Cause = json.RawMessage(inner)
		}
	}
	var tf *TaskFailure
	if errors.As(err, &tf) {
		cause, _ := json.Marshal(map[string]any{
			"exit_status": tf.ExitStatus,
			"stderr_file": tf.StderrPath,
			"attempt":     tf.Attempt,
		})
		doc.Cause = json.RawMessage(cause)
	}
	out, _ := json.MarshalIndent(doc, "", "  ")
	return out
}
