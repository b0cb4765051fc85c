package splice

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/pboyd/splice/ir"
)

var (
	errorType  = reflect.TypeFor[error]()
	methodType = reflect.TypeFor[*ir.Method]()
	boolType   = reflect.TypeFor[bool]()
)

// BindingKind is what a fragment parameter receives.
type BindingKind uint8

// Binding kinds. The constructors below document each one.
const (
	BindArg          BindingKind = iota // see Arg
	BindArgRef                          // see ArgRef
	BindInstance                        // see Instance
	BindResult                          // see Result
	BindResultRef                       // see ResultRef
	BindException                       // see Exception
	BindExceptionRef                    // see ExceptionRef
	BindOriginal                        // see Original
	BindRunOriginal                     // see RunOriginal
	BindState                           // see State
)

var bindingNames = [...]string{
	BindArg:          "arg",
	BindArgRef:       "argref",
	BindInstance:     "instance",
	BindResult:       "result",
	BindResultRef:    "resultref",
	BindException:    "exception",
	BindExceptionRef: "exceptionref",
	BindOriginal:     "original",
	BindRunOriginal:  "runoriginal",
	BindState:        "state",
}

func (k BindingKind) String() string {
	if int(k) < len(bindingNames) {
		return bindingNames[k]
	}
	return fmt.Sprintf("BindingKind(%d)", k)
}

// Binding connects one fragment parameter to a slot of the composed
// method.
type Binding struct {
	Kind  BindingKind
	Index int
}

// Arg passes a copy of argument i.
func Arg(i int) Binding { return Binding{Kind: BindArg, Index: i} }

// ArgRef passes a pointer to argument i. Writes are seen by the body and
// by later fragments.
func ArgRef(i int) Binding { return Binding{Kind: BindArgRef, Index: i} }

// Instance passes the receiver of a method.
func Instance() Binding { return Binding{Kind: BindInstance} }

// Result passes the current value of result i.
func Result(i int) Binding { return Binding{Kind: BindResult, Index: i} }

// ResultRef passes a pointer to result i.
func ResultRef(i int) Binding { return Binding{Kind: BindResultRef, Index: i} }

// Exception passes the captured exception. Finalize only.
func Exception() Binding { return Binding{Kind: BindException} }

// ExceptionRef passes a pointer to the exception slot. Finalize only.
func ExceptionRef() Binding { return Binding{Kind: BindExceptionRef} }

// Original passes the original *ir.Method.
func Original() Binding { return Binding{Kind: BindOriginal} }

// RunOriginal passes false once a Pre fragment has skipped the original.
func RunOriginal() Binding { return Binding{Kind: BindRunOriginal} }

// State passes a *T shared by the fragments of one owner during one call.
// The parameter's type picks T.
func State() Binding { return Binding{Kind: BindState} }

func (b Binding) String() string {
	switch b.Kind {
	case BindArg, BindArgRef, BindResult, BindResultRef:
		return fmt.Sprintf("%v(%d)", b.Kind, b.Index)
	}
	return b.Kind.String()
}

// check reports whether a parameter of type param can take the binding
// for the given role and original.
func (b Binding) check(role Role, original *ir.Method, param reflect.Type) error {
	t := original.Type

	var (
		want reflect.Type
		ref  bool
	)
	switch b.Kind {
	case BindArg, BindArgRef:
		if b.Index < 0 || b.Index >= t.NumIn() {
			return fmt.Errorf("argument %d out of range, original takes %d", b.Index, t.NumIn())
		}
		want = t.In(b.Index)
		ref = b.Kind == BindArgRef
	case BindInstance:
		if !original.Receiver {
			return errors.New("original has no receiver")
		}
		want = t.In(0)
	case BindResult, BindResultRef:
		if t.NumOut() == 0 {
			return errors.New("original returns nothing")
		}
		if b.Index < 0 || b.Index >= t.NumOut() {
			return fmt.Errorf("result %d out of range, original returns %d", b.Index, t.NumOut())
		}
		want = t.Out(b.Index)
		ref = b.Kind == BindResultRef
	case BindException, BindExceptionRef:
		if role != Finalize {
			return fmt.Errorf("only finalize fragments see the exception")
		}
		want = errorType
		ref = b.Kind == BindExceptionRef
	case BindOriginal:
		want = methodType
	case BindRunOriginal:
		want = boolType
	case BindState:
		if param.Kind() != reflect.Pointer {
			return fmt.Errorf("state parameter must be a pointer, got %v", param)
		}
		return nil
	default:
		return fmt.Errorf("unknown binding kind %v", b.Kind)
	}

	if ref {
		if param != reflect.PointerTo(want) {
			return fmt.Errorf("parameter is %v, want %v", param, reflect.PointerTo(want))
		}
		return nil
	}
	if !want.AssignableTo(param) {
		return fmt.Errorf("%v is not assignable to parameter type %v", want, param)
	}
	return nil
}
