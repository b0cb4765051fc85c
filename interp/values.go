package interp

import (
	"cmp"
	"math"
	"reflect"

	"github.com/pboyd/splice/ir"
)

func copyValue(v reflect.Value) reflect.Value {
	c := reflect.New(v.Type()).Elem()
	c.Set(v)
	return c
}

// convert returns v as a new value of type t.
func convert(op ir.Op, t reflect.Type, v reflect.Value) reflect.Value {
	out := reflect.New(t).Elem()
	assign(op, out, v)
	return out
}

// assign stores v in dst. An invalid value, which is what "ldconst nil"
// pushes, stores the zero value. Numbers convert between kinds.
func assign(op ir.Op, dst, v reflect.Value) {
	switch {
	case !v.IsValid():
		dst.SetZero()
	case v.Type().AssignableTo(dst.Type()):
		dst.Set(v)
	case isNumber(v.Kind()) && isNumber(dst.Kind()):
		dst.Set(v.Convert(dst.Type()))
	default:
		panic(&TypeError{Op: op, Type: v.Type(), Want: dst.Type()})
	}
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func nilish(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return v.IsNil()
	}
	return false
}

func truthy(v reflect.Value) bool {
	if nilish(v) {
		return false
	}
	switch {
	case v.Kind() == reflect.Bool:
		return v.Bool()
	case v.CanInt():
		return v.Int() != 0
	case v.CanUint():
		return v.Uint() != 0
	case v.CanFloat():
		return v.Float() != 0
	case v.Kind() == reflect.String:
		return v.Len() != 0
	}
	return true
}

// unwrap returns the dynamic value held by an interface.
func unwrap(v reflect.Value) reflect.Value {
	if v.IsValid() && v.Kind() == reflect.Interface && !v.IsNil() {
		return v.Elem()
	}
	return v
}

// operands brings b to a's type so both can be combined.
func operands(op ir.Op, a, b reflect.Value) (reflect.Value, reflect.Value) {
	a, b = unwrap(a), unwrap(b)
	if !a.IsValid() || !b.IsValid() {
		panic(&TypeError{Op: op})
	}
	if a.Type() == b.Type() {
		return a, b
	}
	if isNumber(a.Kind()) && isNumber(b.Kind()) {
		return a, b.Convert(a.Type())
	}
	panic(&TypeError{Op: op, Type: b.Type(), Want: a.Type()})
}

func arith(op ir.Op, a, b reflect.Value) reflect.Value {
	a, b = operands(op, a, b)
	t := a.Type()

	switch {
	case a.CanInt():
		return reflect.ValueOf(intOp(op, a.Int(), b.Int())).Convert(t)
	case a.CanUint():
		return reflect.ValueOf(intOp(op, a.Uint(), b.Uint())).Convert(t)
	case a.CanFloat():
		x, y := a.Float(), b.Float()
		var r float64
		switch op {
		case ir.Add:
			r = x + y
		case ir.Sub:
			r = x - y
		case ir.Mul:
			r = x * y
		case ir.Div:
			r = x / y
		case ir.Rem:
			r = math.Mod(x, y)
		}
		return reflect.ValueOf(r).Convert(t)
	case a.Kind() == reflect.String && op == ir.Add:
		return reflect.ValueOf(a.String() + b.String()).Convert(t)
	}
	panic(&TypeError{Op: op, Type: t})
}

// intOp computes in 64 bits. The conversion back to the operand type
// truncates the same way Go arithmetic wraps.
func intOp[T int64 | uint64](op ir.Op, x, y T) T {
	switch op {
	case ir.Add:
		return x + y
	case ir.Sub:
		return x - y
	case ir.Mul:
		return x * y
	case ir.Div:
		return x / y
	case ir.Rem:
		return x % y
	}
	panic(&TypeError{Op: op})
}

func negate(v reflect.Value) reflect.Value {
	v = unwrap(v)
	if !v.IsValid() {
		panic(&TypeError{Op: ir.Neg})
	}
	switch {
	case v.CanInt():
		return reflect.ValueOf(-v.Int()).Convert(v.Type())
	case v.CanUint():
		return reflect.ValueOf(-v.Uint()).Convert(v.Type())
	case v.CanFloat():
		return reflect.ValueOf(-v.Float()).Convert(v.Type())
	}
	panic(&TypeError{Op: ir.Neg, Type: v.Type()})
}

func compare(op ir.Op, a, b reflect.Value) bool {
	if nilish(a) || nilish(b) {
		eq := nilish(a) && nilish(b)
		switch op {
		case ir.Eq:
			return eq
		case ir.Ne:
			return !eq
		}
		panic(&TypeError{Op: op})
	}

	a, b = operands(op, a, b)

	var c int
	switch {
	case a.CanInt():
		c = cmp.Compare(a.Int(), b.Int())
	case a.CanUint():
		c = cmp.Compare(a.Uint(), b.Uint())
	case a.CanFloat():
		c = cmp.Compare(a.Float(), b.Float())
	case a.Kind() == reflect.String:
		c = cmp.Compare(a.String(), b.String())
	default:
		if op != ir.Eq && op != ir.Ne {
			panic(&TypeError{Op: op, Type: a.Type()})
		}
		if !a.Comparable() {
			panic(&TypeError{Op: op, Type: a.Type()})
		}
		eq := a.Equal(b)
		return eq == (op == ir.Eq)
	}

	switch op {
	case ir.Eq:
		return c == 0
	case ir.Ne:
		return c != 0
	case ir.Lt:
		return c < 0
	case ir.Le:
		return c <= 0
	case ir.Gt:
		return c > 0
	case ir.Ge:
		return c >= 0
	}
	panic(&TypeError{Op: op})
}
