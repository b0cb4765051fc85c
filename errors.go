package splice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pboyd/splice/ir"
)

var (
	ErrUnsupportedBody   = errors.New("method has no instruction stream")
	ErrFragmentSignature = errors.New("fragment signature does not fit the original")
	ErrActivationFailed  = errors.New("activation failed")
	ErrSortCycle         = errors.New("ordering constraints form a cycle")
	ErrFragmentFailed    = errors.New("patch fragment failed")
	ErrPatchInUse        = errors.New("patch already belongs to a patch set")
	ErrSignatureMismatch = errors.New("signatures do not match")
)

// FragmentSignatureError reports a fragment whose parameters or results do
// not fit the original method.
type FragmentSignatureError struct {
	Method ir.MethodID
	Role   Role
	Owner  string

	// Param is the fragment parameter at fault, or -1 for the results.
	Param int
	Err   error
}

func (e *FragmentSignatureError) Error() string {
	where := "results"
	if e.Param >= 0 {
		where = fmt.Sprintf("parameter %d", e.Param)
	}
	return fmt.Sprintf("%s: %v patch from %q: %s: %v", e.Method, e.Role, e.Owner, where, e.Err)
}

func (e *FragmentSignatureError) Unwrap() []error {
	return []error{ErrFragmentSignature, e.Err}
}

// ActivationError reports that the detourer refused to install a
// replacement. The method keeps whatever it ran before.
type ActivationError struct {
	Method ir.MethodID
	Err    error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Method, ErrActivationFailed, e.Err)
}

func (e *ActivationError) Unwrap() []error {
	return []error{ErrActivationFailed, e.Err}
}

// SortCycleError describes contradictory before/after constraints. The
// sorter drops the constraints between Owners and orders them by priority
// instead. It is reported, never returned from Apply.
type SortCycleError struct {
	Method ir.MethodID
	Role   Role
	Owners []string
}

func (e *SortCycleError) Error() string {
	return fmt.Sprintf("%s: %v patches: %v: %s", e.Method, e.Role, ErrSortCycle, strings.Join(e.Owners, " ↔ "))
}

func (e *SortCycleError) Unwrap() error {
	return ErrSortCycle
}

// UnsupportedBodyError reports a method the engine can't produce an
// instruction stream for.
type UnsupportedBodyError struct {
	Method ir.MethodID
	Err    error
}

func (e *UnsupportedBodyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Method, ErrUnsupportedBody)
	}
	return fmt.Sprintf("%s: %v: %v", e.Method, ErrUnsupportedBody, e.Err)
}

func (e *UnsupportedBodyError) Unwrap() []error {
	return []error{ErrUnsupportedBody, e.Err}
}

// FragmentError reports a transform or manipulator that returned an error
// or panicked while a body was being built.
type FragmentError struct {
	Method ir.MethodID
	Role   Role
	Owner  string
	Err    error
}

func (e *FragmentError) Error() string {
	return fmt.Sprintf("%s: %v patch from %q: %v", e.Method, e.Role, e.Owner, e.Err)
}

func (e *FragmentError) Unwrap() []error {
	return []error{ErrFragmentFailed, e.Err}
}
