// Package apperr classifies failures of the advisory core so callers can pick
// a retry or degradation policy without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	// CallerContract: the caller broke an input invariant. Never retried.
	CallerContract
	// ModelInvocation: the model call failed, timed out or was canceled.
	ModelInvocation
	// SchemaValidation: the model answered but the output does not fit the
	// declared shape of the flow.
	SchemaValidation
	// SynthesisDegradation: speech synthesis produced no audio.
	SynthesisDegradation
	// Persistence: an advisory record could not be written.
	Persistence
)

func (k Kind) String() string {
	switch k {
	case CallerContract:
		return "caller_contract"
	case ModelInvocation:
		return "model_invocation"
	case SchemaValidation:
		return "schema_validation"
	case SynthesisDegradation:
		return "synthesis_degradation"
	case Persistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
