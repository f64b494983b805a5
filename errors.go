package objpack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rawbytedev/objpack/pkg/rloc"
)

var (
	ErrNotDivisible = rloc.ErrNotDivisible
	ErrInvalidMode  = rloc.ErrInvalidMode
	ErrDivideByZero = rloc.ErrDivideByZero

	ErrUnbound              = errors.New("forward reference is not initialized")
	ErrAlreadyBound         = errors.New("forward reference already bound")
	ErrSelfBind             = errors.New("forward reference bound to itself")
	ErrCycle                = errors.New("forward reference cycle")
	ErrAllocation           = errors.New("allocation error")
	ErrMisalignedRelocation = errors.New("non-const values must be dword aligned")
	ErrNoObjects            = errors.New("no object collected")
	ErrNoPhase              = errors.New("object address requested outside of a build phase")
	ErrUnknownObject        = errors.New("object was not collected")
	ErrOverlap              = errors.New("objects overlap")
	ErrBadFormat            = errors.New("invalid pack format")
)

// Error codes attached to *Error.
const (
	EInternal = "internal error"
	EInvalid  = "invalid"
	EConflict = "conflict"
)

// Error annotates a pipeline failure with the stage it happened in.
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		fmt.Fprintf(&b, "<%s>", e.Code)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode returns the code of the outermost *Error in err's chain, or
// EInternal when there is none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return EInternal
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Err != nil {
		return ErrorCode(e.Err)
	}
	return EInternal
}

// codeOf classifies a raw failure for wrapping in *Error.
func codeOf(err error) string {
	switch {
	case errors.Is(err, ErrOverlap), errors.Is(err, ErrUnknownObject), errors.Is(err, ErrNoPhase):
		return EInternal
	case errors.Is(err, ErrAlreadyBound):
		return EConflict
	}
	return EInvalid
}

func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: codeOf(err), Op: op, Err: err}
}

// AllocationError reports an object whose emitted size disagrees with
// its declared size.
type AllocationError struct {
	Object   Object
	Name     string
	Phase    Phase
	Declared int
	Actual   int
	Reason   string
}

func (e *AllocationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("allocation error in %s for object %s: %s", e.Phase, e.Name, e.Reason)
	}
	return fmt.Sprintf("allocation error in %s for object %s: declared %d, emitted %d",
		e.Phase, e.Name, e.Declared, e.Actual)
}

func (e *AllocationError) Unwrap() error { return ErrAllocation }

// MisalignedRelocationError reports a relocated value written at an offset
// that is not a multiple of four.
type MisalignedRelocationError struct {
	Offset int
	Value  rloc.RlocInt
}

func (e *MisalignedRelocationError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d", ErrMisalignedRelocation, e.Value, e.Offset)
}

func (e *MisalignedRelocationError) Unwrap() error { return ErrMisalignedRelocation }
