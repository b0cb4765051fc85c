package ir

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var namedTypes = map[string]reflect.Type{
	"bool":    reflect.TypeFor[bool](),
	"int":     reflect.TypeFor[int](),
	"int8":    reflect.TypeFor[int8](),
	"int16":   reflect.TypeFor[int16](),
	"int32":   reflect.TypeFor[int32](),
	"int64":   reflect.TypeFor[int64](),
	"uint":    reflect.TypeFor[uint](),
	"uint8":   reflect.TypeFor[uint8](),
	"uint16":  reflect.TypeFor[uint16](),
	"uint32":  reflect.TypeFor[uint32](),
	"uint64":  reflect.TypeFor[uint64](),
	"uintptr": reflect.TypeFor[uintptr](),
	"float32": reflect.TypeFor[float32](),
	"float64": reflect.TypeFor[float64](),
	"string":  reflect.TypeFor[string](),
	"error":   reflect.TypeFor[error](),
	"any":     reflect.TypeFor[any](),
}

// ParseType parses a type name in the form used by the text format:
// a predeclared type, optionally prefixed with any number of "*" and "[]".
func ParseType(s string) (reflect.Type, error) {
	switch {
	case strings.HasPrefix(s, "*"):
		elem, err := ParseType(s[1:])
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(s, "[]"):
		elem, err := ParseType(s[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	}

	switch s {
	case "byte":
		s = "uint8"
	case "rune":
		s = "int32"
	case "interface{}":
		s = "any"
	}

	t, ok := namedTypes[s]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", s)
	}
	return t, nil
}

func formatType(t reflect.Type) string {
	if t == nil {
		return "?"
	}
	switch t {
	case reflect.TypeFor[any]():
		return "any"
	case reflect.TypeFor[error]():
		return "error"
	}
	return t.String()
}

// FormatSignature formats a func type the way the text format writes it.
func FormatSignature(name string, t reflect.Type) string {
	var sb strings.Builder
	sb.WriteString("func ")
	sb.WriteString(name)
	sb.WriteByte('(')
	for i := 0; i < t.NumIn(); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(formatType(t.In(i)))
	}
	sb.WriteByte(')')

	switch t.NumOut() {
	case 0:
	case 1:
		sb.WriteByte(' ')
		sb.WriteString(formatType(t.Out(0)))
	default:
		sb.WriteString(" (")
		for i := 0; i < t.NumOut(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(formatType(t.Out(i)))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// Format returns the listing of an IR method in the text format accepted
// by Parse.
func Format(m *Method) string {
	var sb strings.Builder
	sb.WriteString(FormatSignature(m.Name, m.Type))
	sb.WriteByte('\n')
	if m.Body != nil {
		sb.WriteString(FormatBody(m.Body))
	}
	sb.WriteString("end\n")
	return sb.String()
}

// FormatBody returns the listing of a body without the signature line.
func FormatBody(b *Body) string {
	var sb strings.Builder
	for _, l := range b.Locals {
		fmt.Fprintf(&sb, "    .local %s %s\n", l, formatType(l.Type))
	}
	for _, in := range b.Instrs {
		for _, blk := range in.Blocks {
			fmt.Fprintf(&sb, "    %v\n", blk)
		}
		for _, l := range in.Labels {
			fmt.Fprintf(&sb, "L%d:\n", l)
		}
		sb.WriteString("    ")
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (in Instruction) String() string {
	if in.Arg == nil && in.Op != LdConst {
		return in.Op.String()
	}
	return in.Op.String() + " " + formatOperand(in.Op, in.Arg)
}

func formatOperand(op Op, arg any) string {
	switch v := arg.(type) {
	case Label:
		return fmt.Sprintf("L%d", v)
	case *Local:
		return v.String()
	case *Method:
		return v.Name
	case reflect.Type:
		return formatType(v)
	}

	if op == LdConst {
		return FormatConst(arg)
	}
	return fmt.Sprint(arg)
}

// FormatConst formats a constant operand.
func FormatConst(v any) string {
	switch c := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(c)
	case int:
		return strconv.Itoa(c)
	case string:
		return strconv.Quote(c)
	case float64:
		s := strconv.FormatFloat(c, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		return s
	}

	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return fmt.Sprintf("%s(%d)", rv.Type(), rv.Int())
	case rv.CanUint():
		return fmt.Sprintf("%s(%d)", rv.Type(), rv.Uint())
	case rv.CanFloat():
		return fmt.Sprintf("%s(%s)", rv.Type(), strconv.FormatFloat(rv.Float(), 'g', -1, 64))
	}
	return fmt.Sprintf("%v", v)
}
