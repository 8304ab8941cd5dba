// Package errors defines the failure taxonomy for a filesystem check run.
//
// Every failure is one of three kinds. KindParse means the fragmentation
// tool's output was unrecognized, which indicates an environment or
// tool-version mismatch rather than a filesystem defect. KindValidation means
// the parsed extents violate an invariant, which is the condition the checker
// exists to detect. KindProvisioning means device setup, formatting or
// mounting failed before any extents could be examined.
//
// Parse and provisioning failures map to an ERROR result; validation
// failures map to FAIL.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a check failure.
type Kind int

const (
	// KindUnknown is the zero Kind; errors that did not come from this
	// package report it.
	KindUnknown Kind = iota
	// KindParse is unrecognized or truncated tool output.
	KindParse
	// KindValidation is a violated extent invariant.
	KindValidation
	// KindProvisioning is a device, format or mount failure.
	KindProvisioning
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown error",
	KindParse:        "parse error",
	KindValidation:   "validation failure",
	KindProvisioning: "provisioning error",
}

// StrKind returns a human-readable name for a Kind.
func StrKind(kind Kind) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("unrecognized error kind %d", int(kind))
}

// CheckError is an error carrying a failure Kind. All errors produced by the
// parser, validator and provisioning layers implement it.
type CheckError interface {
	error
	Kind() Kind
	Unwrap() error
}

type checkError struct {
	kind          Kind
	message       string
	originalError error
}

// Error implements the `error` interface. When called, it returns a string
// describing the failure.
func (e checkError) Error() string {
	if e.message != "" {
		return e.message
	}
	return StrKind(e.kind)
}

func (e checkError) Kind() Kind {
	return e.kind
}

func (e checkError) Unwrap() error {
	return e.originalError
}

// New creates a [CheckError] of the given kind with a custom message.
func New(kind Kind, message string) CheckError {
	return checkError{
		kind:    kind,
		message: fmt.Sprintf("%s: %s", StrKind(kind), message),
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...interface{}) CheckError {
	return New(kind, fmt.Sprintf(format, args...))
}

// NewFromError wraps an existing error, assigning it a kind. The original
// error stays reachable through Unwrap.
func NewFromError(kind Kind, originalError error) CheckError {
	return checkError{
		kind:          kind,
		message:       fmt.Sprintf("%s: %s", StrKind(kind), originalError.Error()),
		originalError: originalError,
	}
}

// KindOf walks the wrap chain of `err` and returns the Kind of the first
// [CheckError] found, or KindUnknown if there is none.
func KindOf(err error) Kind {
	var ce CheckError
	if stderrors.As(err, &ce) {
		return ce.Kind()
	}
	return KindUnknown
}
